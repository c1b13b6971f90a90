package llm

import (
	"context"

	"github.com/rs/zerolog"
)

// Middleware observes or rewrites synchronous calls.
type Middleware interface {
	BeforeRequest(ctx context.Context, req *Request) (*Request, error)
	AfterResponse(ctx context.Context, req *Request, resp *Response) (*Response, error)
	// OnError may replace err; returning nil swallows it.
	OnError(ctx context.Context, req *Request, err error) error
}

// StreamMiddleware observes or rewrites streamed calls. A Middleware that
// also implements StreamMiddleware is applied to Stream as well.
type StreamMiddleware interface {
	BeforeStream(ctx context.Context, req *Request) (*Request, error)
	OnStreamEvent(ctx context.Context, req *Request, event *StreamEvent) (*StreamEvent, error)
	OnStreamError(ctx context.Context, req *Request, err error) error
}

// Hooks is a Middleware and StreamMiddleware assembled from optional
// functions. Unset hooks pass values through.
type Hooks struct {
	Request  func(ctx context.Context, req *Request) (*Request, error)
	Response func(ctx context.Context, req *Request, resp *Response) (*Response, error)
	Event    func(ctx context.Context, req *Request, event *StreamEvent) (*StreamEvent, error)
	// Failure sees errors from both synchronous and streamed calls.
	Failure func(ctx context.Context, req *Request, err error) error
}

func (h Hooks) BeforeRequest(ctx context.Context, req *Request) (*Request, error) {
	if h.Request == nil {
		return req, nil
	}
	return h.Request(ctx, req)
}

func (h Hooks) AfterResponse(ctx context.Context, req *Request, resp *Response) (*Response, error) {
	if h.Response == nil {
		return resp, nil
	}
	return h.Response(ctx, req, resp)
}

func (h Hooks) OnError(ctx context.Context, req *Request, err error) error {
	if h.Failure == nil {
		return err
	}
	return h.Failure(ctx, req, err)
}

func (h Hooks) BeforeStream(ctx context.Context, req *Request) (*Request, error) {
	return h.BeforeRequest(ctx, req)
}

func (h Hooks) OnStreamEvent(ctx context.Context, req *Request, event *StreamEvent) (*StreamEvent, error) {
	if h.Event == nil {
		return event, nil
	}
	return h.Event(ctx, req, event)
}

func (h Hooks) OnStreamError(ctx context.Context, req *Request, err error) error {
	return h.OnError(ctx, req, err)
}

var (
	_ Middleware       = Hooks{}
	_ StreamMiddleware = Hooks{}
)

// NewLoggingMiddleware logs the shape of every request, token usage of
// synchronous responses, the end of streams and failures.
func NewLoggingMiddleware(logger zerolog.Logger) Hooks {
	logger = logger.With().Str("component", "llmClient").Logger()
	return Hooks{
		Request: func(ctx context.Context, req *Request) (*Request, error) {
			logger.Debug().
				Str("model", req.Model).
				Int("messages", len(req.Messages)).
				Int("system_len", len(req.System)).
				Msg("Sending LLM request")
			return req, nil
		},
		Response: func(ctx context.Context, req *Request, resp *Response) (*Response, error) {
			event := logger.Debug().Str("model", req.Model).Str("stop_reason", resp.StopReason)
			if resp.Usage != nil {
				event = event.Int64("input_tokens", resp.Usage.InputTokens).Int64("output_tokens", resp.Usage.OutputTokens)
			}
			event.Msg("Received LLM response")
			return resp, nil
		},
		Event: func(ctx context.Context, req *Request, event *StreamEvent) (*StreamEvent, error) {
			if event.Done {
				logger.Debug().Str("model", req.Model).Msg("LLM stream finished")
			}
			return event, nil
		},
		Failure: func(ctx context.Context, req *Request, err error) error {
			logger.Error().Err(err).Str("model", req.Model).Msg("LLM request failed")
			return err
		},
	}
}

// WrapWithMiddleware applies middleware around client. Request hooks run in
// order, response hooks in reverse order.
func WrapWithMiddleware(client Client, middleware ...Middleware) Client {
	if len(middleware) == 0 {
		return client
	}
	return &wrappedClient{client: client, middleware: middleware}
}

type wrappedClient struct {
	client     Client
	middleware []Middleware
}

func (c *wrappedClient) streamMiddleware() []StreamMiddleware {
	var out []StreamMiddleware
	for _, mw := range c.middleware {
		if smw, ok := mw.(StreamMiddleware); ok {
			out = append(out, smw)
		}
	}
	return out
}

func (c *wrappedClient) Synchronous(ctx context.Context, req *Request) (*Response, error) {
	var err error
	for _, mw := range c.middleware {
		if req, err = mw.BeforeRequest(ctx, req); err != nil {
			return nil, err
		}
	}

	resp, err := c.client.Synchronous(ctx, req)
	if err != nil {
		for _, mw := range c.middleware {
			if err = mw.OnError(ctx, req, err); err == nil {
				break
			}
		}
		return nil, err
	}

	for i := len(c.middleware) - 1; i >= 0; i-- {
		if resp, err = c.middleware[i].AfterResponse(ctx, req, resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (c *wrappedClient) Stream(ctx context.Context, req *Request) (Stream, error) {
	hooks := c.streamMiddleware()
	var err error
	for _, mw := range hooks {
		if req, err = mw.BeforeStream(ctx, req); err != nil {
			return nil, err
		}
	}

	stream, err := c.client.Stream(ctx, req)
	if err != nil {
		return nil, streamFailure(ctx, hooks, req, err)
	}
	return &wrappedStream{ctx: ctx, req: req, stream: stream, hooks: hooks}, nil
}

func streamFailure(ctx context.Context, hooks []StreamMiddleware, req *Request, err error) error {
	for _, mw := range hooks {
		if err = mw.OnStreamError(ctx, req, err); err == nil {
			break
		}
	}
	return err
}

// wrappedStream runs event hooks on every event. A hook error ends the
// stream and is reported by Err.
type wrappedStream struct {
	ctx     context.Context
	req     *Request
	stream  Stream
	hooks   []StreamMiddleware
	event   *StreamEvent
	hookErr error
}

func (s *wrappedStream) Next() bool {
	if s.hookErr != nil || !s.stream.Next() {
		return false
	}
	event := s.stream.Event()
	for _, mw := range s.hooks {
		if event == nil {
			break
		}
		var err error
		if event, err = mw.OnStreamEvent(s.ctx, s.req, event); err != nil {
			s.hookErr = err
			return false
		}
	}
	if event == nil {
		return false
	}
	s.event = event
	return true
}

func (s *wrappedStream) Event() *StreamEvent { return s.event }

func (s *wrappedStream) Err() error {
	err := s.hookErr
	if err == nil {
		err = s.stream.Err()
	}
	if err == nil {
		return nil
	}
	return streamFailure(s.ctx, s.hooks, s.req, err)
}

func (s *wrappedStream) Close() error { return s.stream.Close() }
