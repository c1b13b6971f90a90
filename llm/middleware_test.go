package llm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type sliceStream struct {
	events []*StreamEvent
	pos    int
	err    error
}

func (s *sliceStream) Next() bool {
	if s.pos >= len(s.events) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceStream) Event() *StreamEvent { return s.events[s.pos-1] }
func (s *sliceStream) Err() error          { return s.err }
func (s *sliceStream) Close() error        { return nil }

type recordingClient struct {
	lastModel string
	syncErr   error
	stream    *sliceStream
}

func (c *recordingClient) Synchronous(ctx context.Context, req *Request) (*Response, error) {
	c.lastModel = req.Model
	if c.syncErr != nil {
		return nil, c.syncErr
	}
	return &Response{Content: []ContentBlock{{Type: ContentBlockTypeText, Text: "ok"}}}, nil
}

func (c *recordingClient) Stream(ctx context.Context, req *Request) (Stream, error) {
	c.lastModel = req.Model
	return c.stream, nil
}

func textEvent(text string) *StreamEvent {
	return &StreamEvent{Type: StreamEventTypeContentDelta, Delta: &StreamDelta{Type: StreamDeltaTypeText, Text: text}}
}

func TestHooksPassThroughWhenUnset(t *testing.T) {
	base := &recordingClient{}
	client := WrapWithMiddleware(base, Hooks{})

	resp, err := client.Synchronous(context.Background(), &Request{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "ok" {
		t.Errorf("expected ok, got %q", resp.Text())
	}
}

func TestHooksRewriteRequestAndResponse(t *testing.T) {
	base := &recordingClient{}
	client := WrapWithMiddleware(base, Hooks{
		Request: func(ctx context.Context, req *Request) (*Request, error) {
			out := *req
			out.Model = "rewritten"
			return &out, nil
		},
		Response: func(ctx context.Context, req *Request, resp *Response) (*Response, error) {
			resp.StopReason = "seen"
			return resp, nil
		},
	})

	resp, err := client.Synchronous(context.Background(), &Request{Model: "original"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.lastModel != "rewritten" {
		t.Errorf("expected rewritten model, got %q", base.lastModel)
	}
	if resp.StopReason != "seen" {
		t.Errorf("expected response hook to run, got %q", resp.StopReason)
	}
}

func TestHooksCanSwallowErrors(t *testing.T) {
	base := &recordingClient{syncErr: errors.New("boom")}
	client := WrapWithMiddleware(base, Hooks{
		Failure: func(ctx context.Context, req *Request, err error) error { return nil },
	})

	resp, err := client.Synchronous(context.Background(), &Request{})
	if err != nil || resp != nil {
		t.Errorf("expected swallowed error, got resp=%v err=%v", resp, err)
	}
}

func TestStreamHookErrorEndsStream(t *testing.T) {
	base := &recordingClient{stream: &sliceStream{events: []*StreamEvent{textEvent("a"), textEvent("b")}}}
	hookErr := errors.New("rejected")
	client := WrapWithMiddleware(base, Hooks{
		Event: func(ctx context.Context, req *Request, event *StreamEvent) (*StreamEvent, error) {
			if event.Delta != nil && event.Delta.Text == "b" {
				return nil, hookErr
			}
			return event, nil
		},
	})

	stream, err := client.Stream(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []string
	for stream.Next() {
		got = append(got, stream.Event().Delta.Text)
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("expected only the first delta, got %v", got)
	}
	if !errors.Is(stream.Err(), hookErr) {
		t.Errorf("expected hook error, got %v", stream.Err())
	}
}

func TestLoggingMiddlewareLogsStreamFailure(t *testing.T) {
	var buf bytes.Buffer
	streamErr := errors.New("connection dropped")
	base := &recordingClient{stream: &sliceStream{events: []*StreamEvent{textEvent("a")}, err: streamErr}}
	client := WrapWithMiddleware(base, NewLoggingMiddleware(zerolog.New(&buf)))

	stream, err := client.Stream(context.Background(), &Request{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for stream.Next() {
	}
	if !errors.Is(stream.Err(), streamErr) {
		t.Errorf("expected stream error, got %v", stream.Err())
	}
	if !strings.Contains(buf.String(), "LLM request failed") {
		t.Errorf("expected failure log, got %q", buf.String())
	}
}
