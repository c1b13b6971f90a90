package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryPolicy configures exponential backoff for retryable LLM errors.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy returns the policy used for chat completions.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  2 * time.Minute,
	}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.Multiplier = 2.0
	eb.RandomizationFactor = 0.2
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = p.MaxElapsedTime
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
}

// WithRetry wraps a Client so that retryable errors from Synchronous and
// from starting a stream are retried with exponential backoff. Errors that
// occur after a stream has started are returned to the caller unchanged.
func WithRetry(client Client, policy RetryPolicy, logger zerolog.Logger) Client {
	return &retryClient{
		client: client,
		policy: policy,
		logger: logger.With().Str("component", "llmRetry").Logger(),
	}
}

type retryClient struct {
	client Client
	policy RetryPolicy
	logger zerolog.Logger
}

func (c *retryClient) Synchronous(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response
	err := c.retry(ctx, "Synchronous", func() error {
		var err error
		resp, err = c.client.Synchronous(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *retryClient) Stream(ctx context.Context, req *Request) (Stream, error) {
	var stream Stream
	err := c.retry(ctx, "Stream", func() error {
		var err error
		stream, err = c.client.Stream(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (c *retryClient) retry(ctx context.Context, method string, call func() error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := call()
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn().
			Err(err).
			Str("method", method).
			Int("attempt", attempt).
			Msg("Retryable LLM error")
		return err
	}
	return backoff.RetryNotify(operation, c.policy.newBackOff(ctx), func(err error, wait time.Duration) {
		c.logger.Debug().Str("method", method).Dur("wait", wait).Msg("Backing off before retry")
	})
}

var _ Client = (*retryClient)(nil)
