// Package resolver turns an ambiguous host selection into a stable, immutable
// EditContext and expands the context placeholder grammar against the
// document store.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"blockpilot/engine/internal/doctree"
	"blockpilot/engine/internal/kvstore"
	"blockpilot/engine/internal/logging"
	"blockpilot/engine/internal/store"
	"blockpilot/engine/internal/unitkind"
)

var ErrNoSelection = errors.New("no usable selection")

const lastPresetKey = "last_preset"

// SelectionSource is the raw selection state the host captured at trigger
// time. Fields are fallbacks for each other, strongest first.
type SelectionSource struct {
	// StructuralIDs is an explicit multi-unit highlight, in document order.
	StructuralIDs []string
	// RangeStart / RangeEnd anchor a dragged text range; either may point at
	// an inline span inside a unit.
	RangeStart string
	RangeEnd   string
	// CursorID is the innermost node containing the caret.
	CursorID string
	// Text is the raw selected text if the host had one.
	Text string
}

// EditContext is the immutable snapshot an edit session works from.
type EditContext struct {
	SelectedText    string
	SelectedUnitIDs []string
	PrimaryUnitID   string
	UnitType        unitkind.Kind
	UnitSubtype     string
	ContextBefore   string
	ContextAfter    string
	IndentPrefix    string
}

// MultiUnit reports whether the selection spans more than one unit.
func (c *EditContext) MultiUnit() bool {
	return len(c.SelectedUnitIDs) > 1
}

type Resolver struct {
	store  store.Store
	kv     kvstore.KV
	logger *slog.Logger
}

func New(st store.Store, kv kvstore.KV, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{store: st, kv: kv, logger: logger}
}

// ResolveSelection resolves sel against the host's tree snapshot. Resolution
// order: structural highlight, then range walk, then cursor unit. Returns
// ErrNoSelection when no non-empty text can be found.
func (r *Resolver) ResolveSelection(ctx context.Context, tree doctree.Tree, sel SelectionSource) (*EditContext, error) {
	unitIDs, err := r.selectUnits(tree, sel)
	if err != nil {
		return nil, err
	}
	if len(unitIDs) == 0 {
		return nil, ErrNoSelection
	}
	for _, id := range unitIDs {
		if !store.ValidID(id) {
			return nil, store.ErrInvalidID
		}
	}

	text := sel.Text
	if strings.TrimSpace(text) == "" {
		text = r.unitText(ctx, tree, unitIDs)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoSelection
	}

	primary := unitIDs[0]
	kind, subtype := unitkind.Classify(r.contentOf(ctx, tree, primary))
	return &EditContext{
		SelectedText:    text,
		SelectedUnitIDs: unitIDs,
		PrimaryUnitID:   primary,
		UnitType:        kind,
		UnitSubtype:     subtype,
		IndentPrefix:    leadingWhitespace(text),
	}, nil
}

func (r *Resolver) selectUnits(tree doctree.Tree, sel SelectionSource) ([]string, error) {
	if len(sel.StructuralIDs) > 0 {
		return sel.StructuralIDs, nil
	}
	if sel.RangeStart != "" && sel.RangeEnd != "" {
		units, err := doctree.UnitsBetween(tree, sel.RangeStart, sel.RangeEnd)
		if err == nil && len(units) > 0 {
			return units, nil
		}
		r.logger.Debug("resolver.range_walk_failed", "start", sel.RangeStart, "end", sel.RangeEnd)
	}
	if sel.CursorID != "" {
		if unit, ok := doctree.EnclosingUnit(tree, sel.CursorID); ok {
			return []string{unit}, nil
		}
	}
	return nil, ErrNoSelection
}

func (r *Resolver) unitText(ctx context.Context, tree doctree.Tree, ids []string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if content := r.contentOf(ctx, tree, id); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (r *Resolver) contentOf(ctx context.Context, tree doctree.Tree, id string) string {
	if tree != nil {
		if node, ok := tree.NodeOf(id); ok && node.Content != "" {
			return node.Content
		}
	}
	unit, err := r.store.GetUnit(ctx, id)
	if err != nil {
		r.logger.Debug("resolver.unit_read_failed", "unit", id, "error", err.Error())
		return ""
	}
	return unit.Content
}

// ContextUnits returns up to count whole units in the given direction,
// joined in document order. The structured query is preferred because it is
// independent of what is currently rendered; the tree snapshot is the
// fallback.
func (r *Resolver) ContextUnits(ctx context.Context, tree doctree.Tree, unitID string, dir Direction, count int) string {
	units := r.neighborUnits(ctx, tree, unitID, dir, count)
	parts := make([]string, 0, len(units))
	for _, content := range units {
		if strings.TrimSpace(content) != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ContextLines returns up to count lines of surrounding content, nearest
// lines to the selection included first.
func (r *Resolver) ContextLines(ctx context.Context, tree doctree.Tree, unitID string, dir Direction, count int) string {
	units := r.neighborUnits(ctx, tree, unitID, dir, count)
	var lines []string
	for _, content := range units {
		lines = append(lines, strings.Split(content, "\n")...)
	}
	if len(lines) <= count {
		return strings.Join(lines, "\n")
	}
	if dir == Above {
		// keep the lines nearest the selection
		return strings.Join(lines[len(lines)-count:], "\n")
	}
	return strings.Join(lines[:count], "\n")
}

// neighborUnits returns unit contents in document order.
func (r *Resolver) neighborUnits(ctx context.Context, tree doctree.Tree, unitID string, dir Direction, count int) []string {
	if !store.ValidID(unitID) {
		return nil
	}
	var units []store.Unit
	var err error
	if dir == Above {
		units, err = r.store.QueryUnitsBefore(ctx, unitID, count)
	} else {
		units, err = r.store.QueryUnitsAfter(ctx, unitID, count)
	}
	if err != nil || len(units) == 0 {
		if err != nil {
			r.logger.Debug("resolver.context_query_failed", "unit", unitID, "error", err.Error())
		}
		return r.treeNeighbors(tree, unitID, dir, count)
	}
	contents := make([]string, 0, len(units))
	for _, unit := range units {
		contents = append(contents, unit.Content)
	}
	if dir == Above {
		// the before-query returns nearest first; flip to document order
		reverse(contents)
	}
	return contents
}

func (r *Resolver) treeNeighbors(tree doctree.Tree, unitID string, dir Direction, count int) []string {
	if tree == nil {
		return nil
	}
	parent, ok := tree.ParentOf(unitID)
	if !ok {
		return nil
	}
	siblings := tree.ChildrenOf(parent)
	idx := -1
	for i, id := range siblings {
		if id == unitID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	var picked []string
	if dir == Above {
		start := idx - count
		if start < 0 {
			start = 0
		}
		picked = siblings[start:idx]
	} else {
		end := idx + 1 + count
		if end > len(siblings) {
			end = len(siblings)
		}
		picked = siblings[idx+1 : end]
	}
	contents := make([]string, 0, len(picked))
	for _, id := range picked {
		if node, ok := tree.NodeOf(id); ok && node.Content != "" {
			contents = append(contents, node.Content)
		}
	}
	return contents
}

// LastPreset reads the last-used context preset; a missing key or an
// unconfigured kv store yields the default.
func (r *Resolver) LastPreset(fallback string) string {
	if r.kv == nil {
		return fallback
	}
	if value, ok := r.kv.Get(lastPresetKey); ok && value != "" {
		return value
	}
	return fallback
}

// RememberPreset stores the last-used preset. Write failures are logged and
// swallowed.
func (r *Resolver) RememberPreset(name string) {
	if r.kv == nil || name == "" {
		return
	}
	if err := r.kv.Put(lastPresetKey, name); err != nil {
		r.logger.Warn("resolver.preset_write_failed", "error", err.Error())
	}
}

func leadingWhitespace(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	trimmed := strings.TrimLeft(line, " \t")
	return line[:len(line)-len(trimmed)]
}

func reverse(values []string) {
	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
}
