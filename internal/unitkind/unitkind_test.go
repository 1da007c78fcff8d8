package unitkind

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		markdown string
		kind     Kind
		subtype  string
	}{
		{"heading level 2", "## Old Title", Heading, "h2"},
		{"heading level 6", "###### Deep", Heading, "h6"},
		{"bullet list", "- item one\n- item two", ListItem, SubtypeBullet},
		{"ordered list", "1. first\n2. second", ListItem, SubtypeOrdered},
		{"quote", "> quoted text", Quote, ""},
		{"fenced code", "```go\nfmt.Println()\n```", Code, "go"},
		{"paragraph", "Just some prose here.", Paragraph, ""},
		{"empty", "   ", Unknown, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, subtype := Classify(tc.markdown)
			if kind != tc.kind || subtype != tc.subtype {
				t.Fatalf("Classify(%q) = (%s, %q), want (%s, %q)", tc.markdown, kind, subtype, tc.kind, tc.subtype)
			}
		})
	}
}

func TestReapply(t *testing.T) {
	if got := Reapply(Heading, "h2", "New Title"); got != "## New Title" {
		t.Fatalf("heading reapply = %q", got)
	}
	if got := Reapply(ListItem, SubtypeBullet, "new item"); got != "- new item" {
		t.Fatalf("bullet reapply = %q", got)
	}
	if got := Reapply(ListItem, SubtypeOrdered, "new item"); got != "1. new item" {
		t.Fatalf("ordered reapply = %q", got)
	}
	if got := Reapply(Quote, "", "line a\nline b"); got != "> line a\n> line b" {
		t.Fatalf("quote reapply = %q", got)
	}
	if got := Reapply(Code, "go", "x := 1"); got != "```go\nx := 1\n```" {
		t.Fatalf("code reapply = %q", got)
	}
	if got := Reapply(Paragraph, "", "plain"); got != "plain" {
		t.Fatalf("paragraph reapply = %q", got)
	}
	if got := Reapply(Heading, "h9", "Clamped"); got != "# Clamped" {
		t.Fatalf("invalid heading subtype should fall back to h1, got %q", got)
	}
}
