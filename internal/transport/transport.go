package transport

import (
	"context"

	"github.com/amoria-app/chatsync/internal/model"
)

// Predicate narrows the push stream server-side. The engine still filters
// locally; server-side filtering is not trusted alone.
type Predicate struct {
	UserID string
}

// Handle represents an established subscription. Err delivers at most one
// error when the subscription breaks; the channel is closed on a clean
// unsubscribe.
type Handle interface {
	Err() <-chan error
}

// Transport is the external message backend consumed by the engine.
// Implementations deliver a broader push stream than strictly needed and
// may echo the caller's message id back as PushEvent.ClientRef.
type Transport interface {
	// Insert submits an outgoing message and returns the server-issued id.
	Insert(ctx context.Context, m model.Message) (serverID string, err error)

	// Subscribe opens the push stream. onEvent is invoked from the
	// transport's delivery goroutine and must not block indefinitely.
	Subscribe(p Predicate, onEvent func(model.PushEvent)) (Handle, error)

	// Unsubscribe releases the subscription. Safe to call after the
	// handle has already failed.
	Unsubscribe(h Handle) error
}
