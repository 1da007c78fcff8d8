// Package watch delivers external-change events: mutations to a session's
// preview surface made by an actor outside this engine (for example a
// document-level undo). The event source is injected so hosts and tests can
// supply their own.
package watch

import (
	"log/slog"
	"sync"

	"blockpilot/engine/internal/logging"
)

type EventKind string

const (
	// SurfaceRemoved means a session's live preview surface vanished.
	SurfaceRemoved EventKind = "surface_removed"
)

type Event struct {
	Kind      EventKind
	SurfaceID string
}

// Source emits external-change events until its channel is closed.
type Source interface {
	Events() <-chan Event
}

// Observer fans events out to a handler and can be paused while the engine
// performs its own multi-step teardown, so the engine's own cleanup is never
// mistaken for external interference. Events arriving while paused are
// dropped.
type Observer struct {
	source  Source
	handler func(Event)
	logger  *slog.Logger

	mu     sync.Mutex
	paused bool
	done   chan struct{}
	once   sync.Once
}

func NewObserver(source Source, handler func(Event), logger *slog.Logger) *Observer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Observer{
		source:  source,
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (o *Observer) Start() {
	go o.run()
}

func (o *Observer) run() {
	for {
		select {
		case <-o.done:
			return
		case event, ok := <-o.source.Events():
			if !ok {
				return
			}
			o.mu.Lock()
			paused := o.paused
			o.mu.Unlock()
			if paused {
				o.logger.Debug("watch.event_dropped_while_paused", "kind", string(event.Kind), "surface", event.SurfaceID)
				continue
			}
			o.handler(event)
		}
	}
}

func (o *Observer) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
}

func (o *Observer) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
}

func (o *Observer) Close() {
	o.once.Do(func() { close(o.done) })
}

// FakeSource is a hand-driven Source for tests and for hosts that push
// events over RPC.
type FakeSource struct {
	ch chan Event
}

func NewFakeSource() *FakeSource {
	return &FakeSource{ch: make(chan Event, 16)}
}

func (f *FakeSource) Events() <-chan Event {
	return f.ch
}

func (f *FakeSource) Emit(event Event) {
	f.ch <- event
}

func (f *FakeSource) Close() {
	close(f.ch)
}
