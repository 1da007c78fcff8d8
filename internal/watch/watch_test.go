package watch

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestObserverDelivers(t *testing.T) {
	source := NewFakeSource()
	rec := &recorder{}
	obs := NewObserver(source, rec.handle, nil)
	obs.Start()
	defer obs.Close()

	source.Emit(Event{Kind: SurfaceRemoved, SurfaceID: "sess-1"})
	waitFor(t, func() bool { return rec.count() == 1 })
}

func TestObserverDropsWhilePaused(t *testing.T) {
	source := NewFakeSource()
	rec := &recorder{}
	obs := NewObserver(source, rec.handle, nil)
	obs.Start()
	defer obs.Close()

	obs.Pause()
	source.Emit(Event{Kind: SurfaceRemoved, SurfaceID: "dropped"})
	// give the run loop a chance to see (and drop) the paused event
	time.Sleep(50 * time.Millisecond)
	obs.Resume()
	source.Emit(Event{Kind: SurfaceRemoved, SurfaceID: "kept"})

	waitFor(t, func() bool { return rec.count() == 1 })
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.events[0].SurfaceID != "kept" {
		t.Fatalf("expected only the post-resume event, got %+v", rec.events)
	}
}

func TestObserverCloseStops(t *testing.T) {
	source := NewFakeSource()
	rec := &recorder{}
	obs := NewObserver(source, rec.handle, nil)
	obs.Start()
	obs.Close()
	obs.Close() // idempotent
}
