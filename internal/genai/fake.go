package genai

import (
	"context"
	"strings"
	"sync"
)

// Fake is a scriptable Streamer for tests.
type Fake struct {
	Chunks    []string
	Err       error
	FailAfter int // emit this many chunks before returning Err; -1 = emit all

	mu             sync.Mutex
	calls          int
	lastMessages   []Message
	sawCancelation bool
	block          chan struct{}
}

// Blocking makes Stream wait after the last chunk until ctx is canceled.
func (f *Fake) Blocking() *Fake {
	f.block = make(chan struct{})
	return f
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastMessages returns the message list of the most recent Stream call.
func (f *Fake) LastMessages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMessages
}

// SawCancelation reports whether a stream observed its context fire.
func (f *Fake) SawCancelation() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sawCancelation
}

func (f *Fake) Stream(ctx context.Context, messages []Message, onDelta func(string)) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastMessages = append([]Message(nil), messages...)
	f.mu.Unlock()

	var builder strings.Builder
	for i, chunk := range f.Chunks {
		if err := ctx.Err(); err != nil {
			f.markCanceled()
			return builder.String(), err
		}
		if f.Err != nil && f.FailAfter >= 0 && i >= f.FailAfter {
			return builder.String(), f.Err
		}
		builder.WriteString(chunk)
		if onDelta != nil {
			onDelta(chunk)
		}
	}
	if f.Err != nil && f.FailAfter < 0 {
		return builder.String(), f.Err
	}
	if f.block != nil {
		select {
		case <-ctx.Done():
			f.markCanceled()
			return builder.String(), ctx.Err()
		case <-f.block:
		}
	}
	return builder.String(), nil
}

// Release unblocks a Blocking fake without cancellation.
func (f *Fake) Release() {
	if f.block != nil {
		close(f.block)
	}
}

func (f *Fake) markCanceled() {
	f.mu.Lock()
	f.sawCancelation = true
	f.mu.Unlock()
}
