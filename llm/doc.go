// Package llm provides a provider-neutral abstraction layer for chat-completion APIs.
//
// The memory and personality pipeline produces a system prompt and a bounded
// conversation history; this package carries them to a provider without
// coupling callers to a specific SDK.
//
// # Core Concepts
//
//  1. Messages: The Message type represents a conversation message with role (user, assistant, system)
//     and content blocks (text and image references).
//
//  2. Client Interface: The Client interface provides Synchronous() for non-streaming calls
//     and Stream() for streaming calls. Implementations handle provider-specific details.
//
//  3. Middleware: The Middleware and StreamMiddleware interfaces allow adding cross-cutting
//     concerns like logging without modifying provider implementations. WithRetry adds
//     exponential-backoff retries for retryable errors.
//
//  4. Errors: The Error type provides provider-neutral error handling with support for
//     rate limits, retryable errors, and provider-specific error details.
//
// Usage Example
//
//	client := llm.WithRetry(
//	    llm.WrapWithMiddleware(baseClient, llm.NewLoggingMiddleware(logger)),
//	    llm.DefaultRetryPolicy(),
//	    logger,
//	)
//
//	stream, err := client.Stream(ctx, &llm.Request{
//	    Model:    "deepseek/deepseek-chat",
//	    System:   systemPrompt,
//	    Messages: history,
//	})
//
// # Extension Points
//
// To add a new LLM provider:
//  1. Implement the Client interface
//  2. Translate between provider-specific types and llm package types
//  3. Handle provider-specific errors and translate to llm.Error types
package llm
