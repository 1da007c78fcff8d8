package resolver

import (
	"context"
	"testing"

	"blockpilot/engine/internal/doctree"
	"blockpilot/engine/internal/kvstore"
	"blockpilot/engine/internal/store"
	"blockpilot/engine/internal/unitkind"
)

const (
	idHeading = "20240102150405-hhhhhhh"
	idPara1   = "20240102150405-p111111"
	idPara2   = "20240102150405-p222222"
	idSpan1   = "20240102150405-s111111"
	idSpan2   = "20240102150405-s222222"
)

func fixtureTree() *doctree.MemTree {
	tree := doctree.NewMemTree()
	tree.Add(doctree.Node{ID: "20240102150405-docroot", Kind: doctree.KindDocument})
	tree.Add(doctree.Node{ID: idHeading, Kind: doctree.KindHeading, Parent: "20240102150405-docroot", Content: "## Section"})
	tree.Add(doctree.Node{ID: idPara1, Kind: doctree.KindParagraph, Parent: "20240102150405-docroot", Content: "Paragraph one."})
	tree.Add(doctree.Node{ID: idSpan1, Kind: doctree.KindSpan, Parent: idPara1})
	tree.Add(doctree.Node{ID: idPara2, Kind: doctree.KindParagraph, Parent: "20240102150405-docroot", Content: "Paragraph two."})
	tree.Add(doctree.Node{ID: idSpan2, Kind: doctree.KindSpan, Parent: idPara2})
	return tree
}

func fixtureStore() *store.Fake {
	return store.NewFake(
		store.Unit{ID: idHeading, Content: "## Section", Type: "heading", Subtype: "h2"},
		store.Unit{ID: idPara1, Content: "Paragraph one."},
		store.Unit{ID: idPara2, Content: "Paragraph two."},
	)
}

func TestResolveStructuralSelectionWins(t *testing.T) {
	r := New(fixtureStore(), nil, nil)
	sel := SelectionSource{
		StructuralIDs: []string{idHeading, idPara1},
		CursorID:      idSpan2, // would resolve differently; must be ignored
	}
	ec, err := r.ResolveSelection(context.Background(), fixtureTree(), sel)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(ec.SelectedUnitIDs) != 2 || ec.SelectedUnitIDs[0] != idHeading {
		t.Fatalf("unexpected units: %v", ec.SelectedUnitIDs)
	}
	if ec.PrimaryUnitID != idHeading {
		t.Fatalf("primary should be first unit, got %s", ec.PrimaryUnitID)
	}
	if ec.UnitType != unitkind.Heading || ec.UnitSubtype != "h2" {
		t.Fatalf("expected heading h2, got %s/%s", ec.UnitType, ec.UnitSubtype)
	}
	if !ec.MultiUnit() {
		t.Fatalf("two units should be multi-unit")
	}
}

func TestResolveRangeSelection(t *testing.T) {
	r := New(fixtureStore(), nil, nil)
	sel := SelectionSource{RangeStart: idSpan1, RangeEnd: idSpan2}
	ec, err := r.ResolveSelection(context.Background(), fixtureTree(), sel)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(ec.SelectedUnitIDs) != 2 || ec.SelectedUnitIDs[0] != idPara1 || ec.SelectedUnitIDs[1] != idPara2 {
		t.Fatalf("unexpected units: %v", ec.SelectedUnitIDs)
	}
	if ec.SelectedText != "Paragraph one.\n\nParagraph two." {
		t.Fatalf("unexpected text: %q", ec.SelectedText)
	}
}

func TestResolveCursorFallback(t *testing.T) {
	r := New(fixtureStore(), nil, nil)
	ec, err := r.ResolveSelection(context.Background(), fixtureTree(), SelectionSource{CursorID: idSpan1})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(ec.SelectedUnitIDs) != 1 || ec.SelectedUnitIDs[0] != idPara1 {
		t.Fatalf("unexpected units: %v", ec.SelectedUnitIDs)
	}
	if ec.MultiUnit() {
		t.Fatalf("single unit must not be multi-unit")
	}
}

func TestResolveEmptySelection(t *testing.T) {
	r := New(fixtureStore(), nil, nil)
	if _, err := r.ResolveSelection(context.Background(), fixtureTree(), SelectionSource{}); err != ErrNoSelection {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
}

func TestResolveRejectsInvalidIDs(t *testing.T) {
	r := New(fixtureStore(), nil, nil)
	sel := SelectionSource{StructuralIDs: []string{"not-a-valid-id"}}
	if _, err := r.ResolveSelection(context.Background(), fixtureTree(), sel); err != store.ErrInvalidID {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestResolveCapturesIndentPrefix(t *testing.T) {
	r := New(fixtureStore(), nil, nil)
	sel := SelectionSource{
		StructuralIDs: []string{idPara1},
		Text:          "    indented first line\nsecond line",
	}
	ec, err := r.ResolveSelection(context.Background(), fixtureTree(), sel)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ec.IndentPrefix != "    " {
		t.Fatalf("expected four-space indent, got %q", ec.IndentPrefix)
	}
}

func TestContextUnitsFallsBackToTree(t *testing.T) {
	// a store with no queryable neighbors forces the tree fallback
	empty := store.NewFake(store.Unit{ID: idPara1, Content: "Paragraph one."})
	r := New(empty, nil, nil)
	got := r.ContextUnits(context.Background(), fixtureTree(), idPara1, Above, 2)
	if got != "## Section" {
		t.Fatalf("expected tree fallback content, got %q", got)
	}
}

func TestPresetMemory(t *testing.T) {
	kv := kvstore.NewMemKV()
	r := New(fixtureStore(), kv, nil)
	if got := r.LastPreset("default"); got != "default" {
		t.Fatalf("missing key should yield fallback, got %q", got)
	}
	r.RememberPreset("rewrite-formal")
	if got := r.LastPreset("default"); got != "rewrite-formal" {
		t.Fatalf("expected remembered preset, got %q", got)
	}

	kv.Fail = true
	r.RememberPreset("ignored") // write failure is logged, not fatal
	if got := r.LastPreset("default"); got != "rewrite-formal" {
		t.Fatalf("failed write must not clobber value, got %q", got)
	}
}
