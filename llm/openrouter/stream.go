package openrouter

import (
	"errors"
	"io"
	"sync"

	"github.com/kiara-intelligence/kiara/llm"
	openai "github.com/sashabaranov/go-openai"
)

// stream adapts a go-openai chat-completion stream to llm.Stream. Each call
// to Next reads at most one chunk from the wire so deltas reach the caller
// as they arrive.
type stream struct {
	stream  *openai.ChatCompletionStream
	pending []*llm.StreamEvent
	current *llm.StreamEvent
	mu      sync.Mutex
	err     error
	done    bool
	started bool
	usage   *llm.Usage
}

func newStream(s *openai.ChatCompletionStream) *stream {
	return &stream{stream: s}
}

// Next advances to the next event in the stream.
func (s *stream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.started = true
		s.current = &llm.StreamEvent{Type: llm.StreamEventTypeStart}
		return true
	}

	for len(s.pending) == 0 {
		if s.err != nil || s.done {
			s.current = nil
			return false
		}
		s.recv()
	}

	s.current = s.pending[0]
	s.pending = s.pending[1:]
	return true
}

// recv reads one chunk and queues the events it produces.
func (s *stream) recv() {
	resp, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.finish()
			return
		}
		s.err = convertError(err)
		return
	}

	if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		s.usage = &llm.Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		}
	}
	if len(resp.Choices) == 0 {
		return
	}

	choice := resp.Choices[0]
	if choice.Delta.Content != "" {
		s.pending = append(s.pending, &llm.StreamEvent{
			Type: llm.StreamEventTypeContentDelta,
			Delta: &llm.StreamDelta{
				Type: llm.StreamDeltaTypeText,
				Text: choice.Delta.Content,
			},
		})
	}
	if choice.FinishReason != "" {
		s.finish()
	}
}

func (s *stream) finish() {
	if s.done {
		return
	}
	s.done = true
	s.pending = append(s.pending,
		&llm.StreamEvent{Type: llm.StreamEventTypeMessageDelta, Usage: s.usage},
		&llm.StreamEvent{Type: llm.StreamEventTypeStop, Usage: s.usage, Done: true},
	)
}

// Event returns the current event.
func (s *stream) Event() *llm.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Err returns any error that occurred during streaming.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the stream and releases resources.
func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	if s.stream != nil {
		return s.stream.Close()
	}
	return nil
}

var _ llm.Stream = (*stream)(nil)
