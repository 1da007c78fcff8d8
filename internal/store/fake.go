package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Fake is an in-memory Store with scriptable failures for tests.
type Fake struct {
	mu      sync.Mutex
	order   []string
	units   map[string]Unit
	nextSeq int

	Caps            Capabilities
	CapsErr         error
	FailBatchInsert bool
	FailBatchDelete bool
	FailInsertAt    int // 1-based index of the insert call that fails; 0 = never
	FailDeleteIDs   map[string]bool
	FailUpdate      bool

	insertCalls int
	Ops         []string
	probeCalls  int
}

func NewFake(units ...Unit) *Fake {
	fake := &Fake{
		units:         make(map[string]Unit),
		FailDeleteIDs: make(map[string]bool),
	}
	for _, unit := range units {
		fake.order = append(fake.order, unit.ID)
		fake.units[unit.ID] = unit
	}
	return fake
}

// NewFakeID returns the nth deterministic id a Fake will mint.
func NewFakeID(n int) string {
	return fmt.Sprintf("20240102150405-new%04d", n)
}

func (f *Fake) GetUnit(ctx context.Context, id string) (Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !ValidID(id) {
		return Unit{}, ErrInvalidID
	}
	unit, ok := f.units[id]
	if !ok {
		return Unit{}, ErrNotFound
	}
	return unit, nil
}

func (f *Fake) QueryUnitsAfter(ctx context.Context, rootID string, limit int) ([]Unit, error) {
	return f.query(rootID, limit, true)
}

func (f *Fake) QueryUnitsBefore(ctx context.Context, rootID string, limit int) ([]Unit, error) {
	return f.query(rootID, limit, false)
}

func (f *Fake) query(rootID string, limit int, after bool) ([]Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !ValidID(rootID) {
		return nil, ErrInvalidID
	}
	idx := f.indexOf(rootID)
	if idx < 0 {
		return nil, ErrNotFound
	}
	var out []Unit
	if after {
		for i := idx + 1; i < len(f.order) && len(out) < limit; i++ {
			out = append(out, f.units[f.order[i]])
		}
	} else {
		for i := idx - 1; i >= 0 && len(out) < limit; i-- {
			// nearest-first, same as the kernel's prev direction
			out = append(out, f.units[f.order[i]])
		}
	}
	return out, nil
}

func (f *Fake) InsertUnit(ctx context.Context, content, anchorID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !ValidID(anchorID) {
		return "", ErrInvalidID
	}
	f.insertCalls++
	if f.FailInsertAt > 0 && f.insertCalls == f.FailInsertAt {
		f.Ops = append(f.Ops, "insert_failed")
		return "", ErrUnavailable
	}
	return f.insertLocked(content, anchorID)
}

func (f *Fake) insertLocked(content, anchorID string) (string, error) {
	idx := f.indexOf(anchorID)
	if idx < 0 {
		return "", ErrNotFound
	}
	f.nextSeq++
	id := NewFakeID(f.nextSeq)
	f.units[id] = Unit{ID: id, Content: content}
	f.order = append(f.order[:idx+1], append([]string{id}, f.order[idx+1:]...)...)
	f.Ops = append(f.Ops, "insert:"+id)
	return id, nil
}

func (f *Fake) BatchInsertUnits(ctx context.Context, contents []string, anchorID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !ValidID(anchorID) {
		return nil, ErrInvalidID
	}
	if f.FailBatchInsert {
		f.Ops = append(f.Ops, "batch_insert_failed")
		return nil, ErrUnavailable
	}
	f.Ops = append(f.Ops, "batch_insert")
	ids := make([]string, 0, len(contents))
	anchor := anchorID
	for _, content := range contents {
		id, err := f.insertLocked(content, anchor)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		anchor = id
	}
	return ids, nil
}

func (f *Fake) DeleteUnit(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !ValidID(id) {
		return ErrInvalidID
	}
	if f.FailDeleteIDs[id] {
		f.Ops = append(f.Ops, "delete_failed:"+id)
		return ErrUnavailable
	}
	idx := f.indexOf(id)
	if idx < 0 {
		return ErrNotFound
	}
	f.order = append(f.order[:idx], f.order[idx+1:]...)
	delete(f.units, id)
	f.Ops = append(f.Ops, "delete:"+id)
	return nil
}

func (f *Fake) BatchDeleteUnits(ctx context.Context, ids []string) error {
	f.mu.Lock()
	if f.FailBatchDelete {
		f.Ops = append(f.Ops, "batch_delete_failed")
		f.mu.Unlock()
		return ErrUnavailable
	}
	f.Ops = append(f.Ops, "batch_delete")
	f.mu.Unlock()
	for _, id := range ids {
		if err := f.DeleteUnit(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) UpdateUnit(ctx context.Context, id, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !ValidID(id) {
		return ErrInvalidID
	}
	if f.FailUpdate {
		return ErrUnavailable
	}
	unit, ok := f.units[id]
	if !ok {
		return ErrNotFound
	}
	unit.Content = content
	f.units[id] = unit
	f.Ops = append(f.Ops, "update:"+id)
	return nil
}

func (f *Fake) Capabilities(ctx context.Context) (Capabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCalls++
	if f.CapsErr != nil {
		return Capabilities{}, f.CapsErr
	}
	return f.Caps, nil
}

func (f *Fake) ProbeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeCalls
}

// Snapshot returns unit contents in document order.
func (f *Fake) Snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.units[id].Content)
	}
	return out
}

// Contains reports whether the document still holds the unit.
func (f *Fake) Contains(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.units[id]
	return ok
}

func (f *Fake) indexOf(id string) int {
	for i, candidate := range f.order {
		if candidate == id {
			return i
		}
	}
	return -1
}

var _ Store = (*Fake)(nil)

// ErrScripted is handy for injecting arbitrary failures in tests.
var ErrScripted = errors.New("scripted failure")
