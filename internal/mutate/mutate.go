// Package mutate commits an accepted edit to the document store. New units
// are inserted after the selection first; the original units are deleted only
// once every insert has landed, so an interruption can duplicate content but
// never lose it.
package mutate

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"blockpilot/engine/internal/errinfo"
	"blockpilot/engine/internal/logging"
	"blockpilot/engine/internal/resolver"
	"blockpilot/engine/internal/store"
	"blockpilot/engine/internal/unitkind"
)

// Plan is the concrete mutation derived from a reviewed session: the unit
// contents to insert, the anchor they go after, and the originals to delete.
type Plan struct {
	Segments  []string
	AnchorID  string
	DeleteIDs []string
}

var segmentBreak = regexp.MustCompile(`\n{2,}`)

// SplitSegments breaks replacement text into unit contents on runs of two or
// more line breaks. Single line breaks stay inside a segment.
func SplitSegments(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	var segments []string
	for _, segment := range segmentBreak.Split(normalized, -1) {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		segments = append(segments, strings.Trim(segment, "\n"))
	}
	return segments
}

// BuildPlan splits the session's final text into segments and anchors the
// mutation at the selection. For a single-unit selection whose replacement
// lost the unit's structural markers, the first segment gets them reapplied.
func BuildPlan(editCtx *resolver.EditContext, finalText string) Plan {
	segments := SplitSegments(finalText)
	if len(segments) > 0 && !editCtx.MultiUnit() && editCtx.UnitType != unitkind.Unknown {
		if kind, _ := unitkind.Classify(segments[0]); kind != editCtx.UnitType {
			segments[0] = unitkind.Reapply(editCtx.UnitType, editCtx.UnitSubtype, segments[0])
		}
	}
	ids := editCtx.SelectedUnitIDs
	return Plan{
		Segments:  segments,
		AnchorID:  ids[len(ids)-1],
		DeleteIDs: append([]string(nil), ids...),
	}
}

// Pauser suspends external-change observation while the executor tears down
// the selection itself.
type Pauser interface {
	Pause()
	Resume()
}

type Config struct {
	// Segment / id counts above these thresholds use the kernel's batch
	// calls when the capability probe reports them.
	BatchInsertThreshold int
	BatchDeleteThreshold int
	// PropagationDelay is the pause between the insert and delete phases so
	// the kernel can settle the new units.
	PropagationDelay time.Duration
}

type Executor struct {
	store  store.Store
	pauser Pauser
	cfg    Config
	logger *slog.Logger
	sleep  func(time.Duration)
}

func NewExecutor(st store.Store, pauser Pauser, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{
		store:  st,
		pauser: pauser,
		cfg:    cfg,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// Result reports what the apply actually did. InsertedIDs is populated even
// on failure so the caller can surface stale state to the host.
type Result struct {
	InsertedIDs   []string
	FailedDeletes []string
}

// Apply commits the plan. A failure during the insert phase aborts before
// any delete and is retryable; a failure during the delete phase is a
// partial success reported with the stale unit ids, never rolled back.
func (e *Executor) Apply(ctx context.Context, sessionID string, plan Plan) (Result, *errinfo.ErrorInfo) {
	// An empty replacement would skip the insert phase and turn the commit
	// into a bare deletion with nothing to undo from. Refuse it.
	if len(plan.Segments) == 0 {
		return Result{}, errinfo.ValidationFailed(errinfo.PhaseApply, "replacement text produced no units")
	}
	if !store.ValidIDs(plan.DeleteIDs) || !store.ValidID(plan.AnchorID) {
		return Result{}, errinfo.ValidationFailed(errinfo.PhaseApply, "mutation plan contains invalid unit ids")
	}

	caps, err := e.store.Capabilities(ctx)
	if err != nil {
		e.logger.Warn("mutate.capability_probe_failed", "error", err.Error())
		caps = store.Capabilities{}
	}

	if e.pauser != nil {
		e.pauser.Pause()
		defer e.pauser.Resume()
	}

	inserted, insErr := e.insertAll(ctx, caps, plan)
	if insErr != nil {
		e.logger.Error("mutate.insert_failed", "session", sessionID, "inserted", len(inserted), "error", insErr.Error())
		return Result{InsertedIDs: inserted}, errinfo.MutationPreInsert(sessionID, insErr.Error())
	}

	if e.cfg.PropagationDelay > 0 && len(inserted) > 0 {
		e.sleep(e.cfg.PropagationDelay)
	}

	failed := e.deleteAll(ctx, caps, plan.DeleteIDs)
	if len(failed) > 0 {
		e.logger.Error("mutate.delete_failed", "session", sessionID, "stale", failed)
		return Result{InsertedIDs: inserted, FailedDeletes: failed},
			errinfo.MutationPostInsert(sessionID, failed, "some original units could not be removed")
	}
	return Result{InsertedIDs: inserted}, nil
}

func (e *Executor) insertAll(ctx context.Context, caps store.Capabilities, plan Plan) ([]string, error) {
	if caps.BatchInsert && len(plan.Segments) > e.cfg.BatchInsertThreshold {
		ids, err := e.store.BatchInsertUnits(ctx, plan.Segments, plan.AnchorID)
		if err == nil {
			return ids, nil
		}
		e.logger.Warn("mutate.batch_insert_fallback", "error", err.Error())
	}
	inserted := make([]string, 0, len(plan.Segments))
	anchor := plan.AnchorID
	for _, segment := range plan.Segments {
		id, err := e.store.InsertUnit(ctx, segment, anchor)
		if err != nil {
			return inserted, err
		}
		inserted = append(inserted, id)
		anchor = id
	}
	return inserted, nil
}

// deleteAll removes the original units, returning ids it could not remove.
// Per-unit failures never abort the pass.
func (e *Executor) deleteAll(ctx context.Context, caps store.Capabilities, ids []string) []string {
	if caps.BatchDelete && len(ids) > e.cfg.BatchDeleteThreshold {
		err := e.store.BatchDeleteUnits(ctx, ids)
		if err == nil {
			return nil
		}
		e.logger.Warn("mutate.batch_delete_fallback", "error", err.Error())
	}
	var failed []string
	for _, id := range ids {
		err := e.store.DeleteUnit(ctx, id)
		if err == nil || errors.Is(err, store.ErrNotFound) {
			continue
		}
		e.logger.Warn("mutate.unit_delete_failed", "unit", id, "error", err.Error())
		failed = append(failed, id)
	}
	return failed
}
