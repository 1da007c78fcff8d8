package diffkit

import (
	"strings"
	"testing"
)

func reconstruct(patches []Patch, keep Kind) string {
	var builder strings.Builder
	for _, p := range patches {
		if p.Kind == Equal || p.Kind == keep {
			builder.WriteString(p.Value)
		}
	}
	return builder.String()
}

func TestComputeReconstruction(t *testing.T) {
	cases := []struct {
		name     string
		original string
		modified string
	}{
		{"word swap", "the quick brown fox", "the slow brown fox"},
		{"append", "alpha", "alpha beta"},
		{"rewrite", "Paragraph one about cats.", "A paragraph describing dogs."},
		{"multiline", "one\ntwo\nthree\n", "one\n2\nthree\nfour\n"},
		{"identical", "same text", "same text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			patches := Compute(tc.original, tc.modified)
			if got := reconstruct(patches, Insert); got != tc.modified {
				t.Fatalf("insert reconstruction = %q, want %q", got, tc.modified)
			}
			if got := reconstruct(patches, Delete); got != tc.original {
				t.Fatalf("delete reconstruction = %q, want %q", got, tc.original)
			}
		})
	}
}

func TestComputeEmptyInputs(t *testing.T) {
	if patches := Compute("", ""); patches != nil {
		t.Fatalf("expected nil for empty inputs, got %+v", patches)
	}
	patches := Compute("", "new")
	if len(patches) != 1 || patches[0].Kind != Insert {
		t.Fatalf("expected single insert, got %+v", patches)
	}
	patches = Compute("old", "")
	if len(patches) != 1 || patches[0].Kind != Delete {
		t.Fatalf("expected single delete, got %+v", patches)
	}
}

func TestComputeSemanticCleanup(t *testing.T) {
	patches := Compute("The cat sat on the mat.", "The dog sat on the rug.")
	// cleanup should leave a handful of coherent runs, not dozens of
	// character fragments
	if len(patches) > 9 {
		t.Fatalf("expected coherent edits after cleanup, got %d patches", len(patches))
	}
}

func TestLinesClassification(t *testing.T) {
	original := "alpha\nbeta\ngamma\n"
	modified := "alpha\nbravo\ngamma\ndelta\n"
	lines := Lines(original, modified)

	var kinds []Kind
	for _, line := range lines {
		kinds = append(kinds, line.Kind)
	}
	want := []Kind{Equal, Modify, Equal, Insert}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d rows, got %d (%v)", len(want), len(kinds), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("row %d = %s, want %s (%v)", i, kinds[i], want[i], kinds)
		}
	}
	if lines[1].OldText != "beta" || lines[1].NewText != "bravo" {
		t.Fatalf("modify row carries wrong texts: %+v", lines[1])
	}
	if lines[3].NewLine != 4 {
		t.Fatalf("insert row has wrong new line number: %+v", lines[3])
	}
}
