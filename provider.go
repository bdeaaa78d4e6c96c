package ragcore

import (
	"context"
	"fmt"
)

// Provider abstracts the model transport.
type Provider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream sends a request and writes token deltas into ch until the
	// model signals a finish reason or the stream ends. Implementations must
	// close ch before returning, on success and on error.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- ChatChunk) error
	// Name returns the provider name (e.g. "openai", "groq").
	Name() string
}

// MessageStore is the persistence collaborator. It receives every message a
// run appends to its conversation log; failures are logged and never stop
// the run.
type MessageStore interface {
	SaveMessage(ctx context.Context, conversationID string, msg ChatMessage) error
}

// startChatStream runs p.ChatStream in its own goroutine. The returned chunk
// channel is always closed once ChatStream returns or panics, even when the
// provider forgot to close it; the error channel then yields the result.
func startChatStream(ctx context.Context, p Provider, req ChatRequest) (<-chan ChatChunk, <-chan error) {
	chunks := make(chan ChatChunk, 64)
	errCh := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if rec := recover(); rec != nil {
				err = &ErrLLM{Provider: p.Name(), Message: fmt.Sprintf("stream panic: %v", rec)}
			}
			closeChunks(chunks)
			errCh <- err
		}()
		err = p.ChatStream(ctx, req, chunks)
	}()
	return chunks, errCh
}

// closeChunks closes ch unless the provider already did.
func closeChunks(ch chan ChatChunk) {
	defer func() { _ = recover() }() // already closed
	close(ch)
}
