// Package upstream talks to text-generation providers on behalf of the relay.
package upstream

import (
	"context"

	"chatrelay/pkg/domain"
)

// Request is a provider-neutral chat completion request.
type Request struct {
	Model       string
	Messages    []domain.ChatMessage
	Temperature float32
	MaxTokens   int
}

// Stream is a lazy, finite, non-restartable sequence of text deltas.
// Recv returns io.EOF once the provider finished. A delta may be empty when
// the provider sent a chunk that carried only metadata.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Completion is the result of a non-streamed call.
type Completion struct {
	Model   string
	Content string
	Raw     any
}

// Client is implemented by every supported provider.
type Client interface {
	StreamChat(ctx context.Context, req Request) (Stream, error)
	Complete(ctx context.Context, req Request) (Completion, error)
}
