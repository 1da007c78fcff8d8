// Package orchestrator schedules edit sessions: a FIFO queue bounded by a
// concurrency limit, the generation runner, the accept/reject/retry surface,
// and a bounded undo history of committed edits.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"blockpilot/engine/internal/errinfo"
	"blockpilot/engine/internal/genai"
	"blockpilot/engine/internal/logging"
	"blockpilot/engine/internal/mutate"
	"blockpilot/engine/internal/session"
	"blockpilot/engine/internal/store"
	"blockpilot/engine/internal/watch"
)

// Notification methods pushed to the host.
const (
	NotifyCreated          = "edit.created"
	NotifyStreamingChunk   = "edit.streaming_chunk"
	NotifyReviewReady      = "edit.review_ready"
	NotifyApplied          = "edit.applied"
	NotifyRejected         = "edit.rejected"
	NotifyError            = "edit.error"
	NotifyExternallyGone   = "edit.externally_removed"
	NotifyIntegrityWarning = "edit.integrity_warning"
)

// NotifyFunc pushes one notification to the host. Nil is allowed.
type NotifyFunc func(method string, params any)

// HistoryEntry records one committed edit for undo.
type HistoryEntry struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	UnitID          string    `json:"unit_id"`
	OriginalContent string    `json:"original_content"`
	ModifiedContent string    `json:"modified_content"`
	AppliedAt       time.Time `json:"applied_at"`
}

type Stats struct {
	Queued      int  `json:"queued"`
	Processing  int  `json:"processing"`
	Paused      bool `json:"paused"`
	HistorySize int  `json:"history_size"`
}

type Config struct {
	MaxConcurrent   int
	HistoryCapacity int
}

const (
	defaultMaxConcurrent   = 1
	defaultHistoryCapacity = 50
)

type queued struct {
	sess   *session.Session
	prompt string
}

type Orchestrator struct {
	store    store.Store
	streamer genai.Streamer
	executor *mutate.Executor
	notify   NotifyFunc
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
	queue    []queued
	slots    map[string]bool
	inFlight int
	paused   bool
	history  []HistoryEntry
	wg       sync.WaitGroup
}

func New(st store.Store, streamer genai.Streamer, executor *mutate.Executor, notify NotifyFunc, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = defaultHistoryCapacity
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Orchestrator{
		store:    st,
		streamer: streamer,
		executor: executor,
		notify:   notify,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*session.Session),
		slots:    make(map[string]bool),
	}
}

// Submit registers the session and queues it for generation. prompt is the
// fully expanded message sent to the generation service. Sessions that
// finished earlier are pruned here so the registry stays bounded by the
// active set.
func (o *Orchestrator) Submit(s *session.Session, prompt string) {
	o.mu.Lock()
	for id, existing := range o.sessions {
		if existing.State().Terminal() {
			delete(o.sessions, id)
		}
	}
	o.sessions[s.ID] = s
	o.queue = append(o.queue, queued{sess: s, prompt: prompt})
	o.mu.Unlock()

	o.logger.Info("orchestrator.session_created", "session", s.ID, "units", len(s.Context.SelectedUnitIDs))
	o.push(NotifyCreated, s.Snapshot())
	o.pump()
}

// pump starts queued sessions while slots are free. Callers must not hold
// the mutex.
func (o *Orchestrator) pump() {
	for {
		o.mu.Lock()
		if o.paused || o.inFlight >= o.cfg.MaxConcurrent || len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		next := o.queue[0]
		o.queue = o.queue[1:]
		o.slots[next.sess.ID] = true
		o.inFlight++
		o.wg.Add(1)
		o.mu.Unlock()

		go o.run(next.sess, next.prompt)
	}
}

// releaseSlot frees a session's concurrency slot once it goes terminal.
// Idempotent; sessions canceled while still queued never held one.
func (o *Orchestrator) releaseSlot(sessionID string) {
	o.mu.Lock()
	held := o.slots[sessionID]
	if held {
		delete(o.slots, sessionID)
		o.inFlight--
	}
	o.mu.Unlock()
	if held {
		o.pump()
	}
}

// run drives one generation call. The concurrency slot stays held through
// review; it is released only when the session reaches a terminal state, so
// an edit awaiting the user's verdict still counts against the bound.
func (o *Orchestrator) run(s *session.Session, prompt string) {
	defer o.wg.Done()

	if s.State() == session.StateInputInstruction {
		if err := s.MarkProcessing(); err != nil {
			o.releaseSlot(s.ID)
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.SetCancel(cancel)

	messages := []genai.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: s.Instruction},
	}
	_, err := o.streamer.Stream(ctx, messages, func(delta string) {
		s.AppendChunk(delta)
		o.push(NotifyStreamingChunk, map[string]string{"session_id": s.ID, "delta": delta})
	})
	if err != nil {
		o.finishWithError(s, err)
		return
	}
	if err := s.CompleteStreaming(); err != nil {
		// the session was torn down mid-stream
		return
	}
	if s.IntegrityWarned() {
		o.push(NotifyIntegrityWarning, map[string]string{"session_id": s.ID})
	}
	o.push(NotifyReviewReady, s.Snapshot())
}

func (o *Orchestrator) finishWithError(s *session.Session, err error) {
	defer o.releaseSlot(s.ID)
	switch {
	case errors.Is(err, context.Canceled):
		if s.State() == session.StateExternallyRemoved {
			return
		}
		if s.MarkRejected() == nil {
			o.push(NotifyRejected, map[string]any{"session_id": s.ID, "error": errinfo.GenerationCanceled(s.ID)})
		}
	case errors.Is(err, genai.ErrUnauthorized):
		s.Fail(err.Error())
		o.push(NotifyError, errinfo.GenerationAuthFailed(s.ID))
	default:
		s.Fail(err.Error())
		o.push(NotifyError, errinfo.GenerationFailed(s.ID, err.Error()))
	}
	o.logger.Warn("orchestrator.generation_finished_with_error", "session", s.ID, "error", err.Error())
}

// Accept commits a reviewed session to the document.
func (o *Orchestrator) Accept(ctx context.Context, sessionID string) *errinfo.ErrorInfo {
	s, errInfo := o.lookup(sessionID)
	if errInfo != nil {
		return errInfo
	}
	if err := s.MarkApplying(); err != nil {
		return errinfo.SessionInvalidState(sessionID, "only a reviewed session can be accepted")
	}
	defer o.releaseSlot(sessionID)

	plan := mutate.BuildPlan(s.Context, s.FinalText())
	result, applyErr := o.executor.Apply(ctx, s.ID, plan)
	if applyErr != nil {
		if applyErr.Subphase == errinfo.SubphasePostInsert {
			// new content landed; surface the stale units, keep the edit
			_ = s.MarkApplied()
			o.push(NotifyError, applyErr)
			o.push(NotifyApplied, map[string]any{"session_id": s.ID, "inserted_unit_ids": result.InsertedIDs})
			return applyErr
		}
		s.Fail(applyErr.Detail)
		o.push(NotifyError, applyErr)
		return applyErr
	}

	_ = s.MarkApplied()
	o.recordHistory(s, result)
	o.logger.Info("orchestrator.session_applied", "session", s.ID, "inserted", len(result.InsertedIDs))
	o.push(NotifyApplied, map[string]any{"session_id": s.ID, "inserted_unit_ids": result.InsertedIDs})
	return nil
}

// recordHistory appends an undo entry for a confirmed commit, evicting the
// oldest entry past capacity. Pure deletions leave nothing to retarget undo
// at and are not recorded.
func (o *Orchestrator) recordHistory(s *session.Session, result mutate.Result) {
	if len(result.InsertedIDs) == 0 {
		return
	}
	entry := HistoryEntry{
		ID:              uuid.NewString(),
		SessionID:       s.ID,
		UnitID:          result.InsertedIDs[0],
		OriginalContent: s.Context.SelectedText,
		ModifiedContent: s.FinalText(),
		AppliedAt:       time.Now().UTC(),
	}
	o.mu.Lock()
	o.history = append(o.history, entry)
	if len(o.history) > o.cfg.HistoryCapacity {
		o.history = o.history[len(o.history)-o.cfg.HistoryCapacity:]
	}
	o.mu.Unlock()
}

// Reject discards a reviewed session without touching the document.
func (o *Orchestrator) Reject(sessionID string) *errinfo.ErrorInfo {
	s, errInfo := o.lookup(sessionID)
	if errInfo != nil {
		return errInfo
	}
	if s.State() != session.StateReviewing {
		return errinfo.SessionInvalidState(sessionID, "only a reviewed session can be rejected")
	}
	if err := s.MarkRejected(); err != nil {
		return errinfo.SessionInvalidState(sessionID, err.Error())
	}
	o.push(NotifyRejected, map[string]any{"session_id": s.ID})
	o.releaseSlot(sessionID)
	return nil
}

// Retry regenerates a reviewed or failed session with its original
// instruction and context.
func (o *Orchestrator) Retry(sessionID, prompt string) *errinfo.ErrorInfo {
	s, errInfo := o.lookup(sessionID)
	if errInfo != nil {
		return errInfo
	}
	if err := s.ResetForRetry(); err != nil {
		return errinfo.SessionInvalidState(sessionID, "session is not retryable in its current state")
	}
	// A session retried from review still holds its slot; regenerate in
	// place. One retried after a failure released it and queues like any
	// new submission.
	o.mu.Lock()
	held := o.slots[sessionID]
	if held {
		o.wg.Add(1)
	} else {
		o.queue = append(o.queue, queued{sess: s, prompt: prompt})
	}
	o.mu.Unlock()
	if held {
		go o.run(s, prompt)
	} else {
		o.pump()
	}
	return nil
}

// Cancel aborts a queued or streaming session.
func (o *Orchestrator) Cancel(sessionID string) *errinfo.ErrorInfo {
	s, errInfo := o.lookup(sessionID)
	if errInfo != nil {
		return errInfo
	}
	if o.dequeue(sessionID) {
		if s.MarkRejected() == nil {
			o.push(NotifyRejected, map[string]any{"session_id": s.ID})
		}
		return nil
	}
	if !s.Cancel() {
		return errinfo.SessionInvalidState(sessionID, "session can no longer be canceled")
	}
	return nil
}

// dequeue removes a still-queued session, reporting whether it was queued.
func (o *Orchestrator) dequeue(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, entry := range o.queue {
		if entry.sess.ID == sessionID {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (o *Orchestrator) GetSession(sessionID string) (session.Snapshot, *errinfo.ErrorInfo) {
	s, errInfo := o.lookup(sessionID)
	if errInfo != nil {
		return session.Snapshot{}, errInfo
	}
	return s.Snapshot(), nil
}

// UndoLast reverts the most recent committed edit by rewriting its target
// unit, then pops exactly that one entry. An empty history is a no-op error.
func (o *Orchestrator) UndoLast(ctx context.Context) (*HistoryEntry, *errinfo.ErrorInfo) {
	o.mu.Lock()
	if len(o.history) == 0 {
		o.mu.Unlock()
		return nil, errinfo.HistoryEmpty()
	}
	entry := o.history[len(o.history)-1]
	o.mu.Unlock()

	if err := o.store.UpdateUnit(ctx, entry.UnitID, entry.OriginalContent); err != nil {
		o.logger.Warn("orchestrator.undo_failed", "unit", entry.UnitID, "error", err.Error())
		return nil, errinfo.StoreUnavailable(errinfo.PhaseUndo, err.Error())
	}

	o.mu.Lock()
	if n := len(o.history); n > 0 && o.history[n-1].ID == entry.ID {
		o.history = o.history[:n-1]
	}
	o.mu.Unlock()
	o.logger.Info("orchestrator.undo_applied", "unit", entry.UnitID, "session", entry.SessionID)
	return &entry, nil
}

func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		Queued:      len(o.queue),
		Processing:  o.inFlight,
		Paused:      o.paused,
		HistorySize: len(o.history),
	}
}

// Pause stops dequeuing new sessions; in-flight generation keeps running.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
}

func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	o.pump()
}

// CancelAll drains the queue and aborts every in-flight session.
func (o *Orchestrator) CancelAll() int {
	o.mu.Lock()
	drained := o.queue
	o.queue = nil
	active := make([]*session.Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		active = append(active, s)
	}
	o.mu.Unlock()

	count := 0
	for _, entry := range drained {
		if entry.sess.MarkRejected() == nil {
			count++
			o.push(NotifyRejected, map[string]any{"session_id": entry.sess.ID})
		}
	}
	for _, s := range active {
		if s.State() == session.StateReviewing {
			if s.MarkRejected() == nil {
				count++
				o.push(NotifyRejected, map[string]any{"session_id": s.ID})
				o.releaseSlot(s.ID)
			}
			continue
		}
		if s.Cancel() {
			count++
		}
	}
	return count
}

// HandleWatchEvent forces teardown of the session whose preview surface was
// removed by an outside actor. Wired as the watch.Observer handler.
func (o *Orchestrator) HandleWatchEvent(event watch.Event) {
	if event.Kind != watch.SurfaceRemoved {
		return
	}
	s, errInfo := o.lookup(event.SurfaceID)
	if errInfo != nil {
		o.logger.Debug("orchestrator.watch_event_unmatched", "surface", event.SurfaceID)
		return
	}
	o.dequeue(s.ID)
	if s.MarkExternallyRemoved() {
		o.logger.Warn("orchestrator.session_externally_removed", "session", s.ID)
		o.push(NotifyExternallyGone, errinfo.ExternalInterference(s.ID))
		o.releaseSlot(s.ID)
	}
}

// Wait blocks until every started generation goroutine has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) lookup(sessionID string) (*session.Session, *errinfo.ErrorInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return nil, errinfo.SessionNotFound(sessionID)
	}
	return s, nil
}

func (o *Orchestrator) push(method string, params any) {
	if o.notify == nil {
		return
	}
	o.notify(method, params)
}
