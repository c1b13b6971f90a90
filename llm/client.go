package llm

import "context"

// Client sends chat-completion requests to a provider.
type Client interface {
	// Synchronous returns the complete response.
	Synchronous(ctx context.Context, req *Request) (*Response, error)

	// Stream starts a streamed completion. The caller drains the Stream and
	// closes it.
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// Stream iterates the events of a streamed completion.
type Stream interface {
	// Next advances to the next event and reports whether there is one.
	Next() bool
	// Event returns the current event; valid after Next returned true.
	Event() *StreamEvent
	// Err returns the error that ended the stream, if any.
	Err() error
	Close() error
}
