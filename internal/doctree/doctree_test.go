package doctree

import "testing"

// buildTree constructs:
//
//	doc
//	├── h (heading)
//	├── p1 (paragraph) ── s1 (span)
//	├── l1 (list item)
//	└── p2 (paragraph) ── s2 (span)
func buildTree() *MemTree {
	tree := NewMemTree()
	tree.Add(Node{ID: "doc", Kind: KindDocument})
	tree.Add(Node{ID: "h", Kind: KindHeading, Parent: "doc"})
	tree.Add(Node{ID: "p1", Kind: KindParagraph, Parent: "doc"})
	tree.Add(Node{ID: "s1", Kind: KindSpan, Parent: "p1"})
	tree.Add(Node{ID: "l1", Kind: KindListItem, Parent: "doc"})
	tree.Add(Node{ID: "p2", Kind: KindParagraph, Parent: "doc"})
	tree.Add(Node{ID: "s2", Kind: KindSpan, Parent: "p2"})
	return tree
}

func TestEnclosingUnit(t *testing.T) {
	tree := buildTree()
	if unit, ok := EnclosingUnit(tree, "s1"); !ok || unit != "p1" {
		t.Fatalf("span should resolve to paragraph, got %q ok=%v", unit, ok)
	}
	if unit, ok := EnclosingUnit(tree, "p2"); !ok || unit != "p2" {
		t.Fatalf("unit resolves to itself, got %q ok=%v", unit, ok)
	}
	if _, ok := EnclosingUnit(tree, "doc"); ok {
		t.Fatalf("document root is not addressable")
	}
	if _, ok := EnclosingUnit(tree, "missing"); ok {
		t.Fatalf("missing node must not resolve")
	}
}

func TestUnitsBetween(t *testing.T) {
	tree := buildTree()

	units, err := UnitsBetween(tree, "s1", "s2")
	if err != nil {
		t.Fatalf("between: %v", err)
	}
	want := []string{"p1", "l1", "p2"}
	if len(units) != len(want) {
		t.Fatalf("units = %v, want %v", units, want)
	}
	for i := range want {
		if units[i] != want[i] {
			t.Fatalf("units = %v, want %v", units, want)
		}
	}

	// heterogeneous span: heading through list item
	units, err = UnitsBetween(tree, "h", "l1")
	if err != nil {
		t.Fatalf("between heading and list: %v", err)
	}
	if len(units) != 3 || units[0] != "h" || units[2] != "l1" {
		t.Fatalf("unexpected heterogeneous range: %v", units)
	}
}

func TestUnitsBetweenSameUnit(t *testing.T) {
	tree := buildTree()
	units, err := UnitsBetween(tree, "s1", "p1")
	if err != nil {
		t.Fatalf("between: %v", err)
	}
	if len(units) != 1 || units[0] != "p1" {
		t.Fatalf("expected single unit, got %v", units)
	}
}

func TestUnitsBetweenReversedAnchors(t *testing.T) {
	tree := buildTree()
	units, err := UnitsBetween(tree, "s2", "s1")
	if err != nil {
		t.Fatalf("between reversed: %v", err)
	}
	if len(units) != 3 || units[0] != "p1" {
		t.Fatalf("reversed anchors should normalize to document order: %v", units)
	}
}
