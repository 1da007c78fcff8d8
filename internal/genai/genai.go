// Package genai holds the generation-service contract consumed by edit
// sessions. The engine does not own the transport choice; anything that can
// deliver deltas in order and honor context cancellation satisfies Streamer.
package genai

import (
	"context"
	"errors"

	"blockpilot/engine/internal/egress"
)

var (
	ErrUnauthorized  = errors.New("generation unauthorized")
	ErrUnavailable   = errors.New("generation unavailable")
	ErrRateLimited   = errors.New("generation rate limited")
	ErrEgressBlocked = egress.ErrBlocked
)

// Message is one chat turn sent to the generation service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Streamer delivers a streamed completion. onDelta is invoked once per chunk
// in arrival order; the returned string is the full accumulated text.
// Cancelling ctx terminates the remote stream.
type Streamer interface {
	Stream(ctx context.Context, messages []Message, onDelta func(string)) (string, error)
}
