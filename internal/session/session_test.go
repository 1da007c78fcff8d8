package session

import (
	"context"
	"testing"

	"blockpilot/engine/internal/diffkit"
	"blockpilot/engine/internal/resolver"
)

func testContext() *resolver.EditContext {
	return &resolver.EditContext{
		SelectedText:    "Hello, world!",
		SelectedUnitIDs: []string{"20240102150405-aaaaaaa"},
		PrimaryUnitID:   "20240102150405-aaaaaaa",
	}
}

func TestChunkAccumulationOrder(t *testing.T) {
	s := New(testContext(), "rewrite", nil)
	if err := s.MarkProcessing(); err != nil {
		t.Fatalf("processing: %v", err)
	}

	started := s.AppendChunk("Hello, ")
	if !started {
		t.Fatalf("first chunk must start streaming")
	}
	if s.AppendChunk("world") {
		t.Fatalf("later chunks must not re-start streaming")
	}
	s.AppendChunk("!")

	if got := s.AccumulatedText(); got != "Hello, world!" {
		t.Fatalf("accumulated %q", got)
	}
	if s.IntegrityWarned() {
		t.Fatalf("clean accumulation must not warn")
	}
	if s.State() != StateStreaming {
		t.Fatalf("expected streaming, got %s", s.State())
	}
}

func TestIndentPrefixing(t *testing.T) {
	ec := testContext()
	ec.IndentPrefix = "    "
	s := New(ec, "rewrite", nil)
	s.MarkProcessing()

	// the first chunk's leading newline is not a boundary, so the line it
	// opens stays unprefixed; every later newline is
	s.AppendChunk("\nfirst line\nsecond")
	s.AppendChunk(" half\nthird line")

	want := "\nfirst line\n    second half\n    third line"
	if got := s.FinalText(); got != want {
		t.Fatalf("indented text %q, want %q", got, want)
	}
	// the raw accumulation is untouched
	if got := s.AccumulatedText(); got != "\nfirst line\nsecond half\nthird line" {
		t.Fatalf("raw text %q", got)
	}
}

func TestIndentPrefixingLaterLeadingNewline(t *testing.T) {
	ec := testContext()
	ec.IndentPrefix = "\t"
	s := New(ec, "rewrite", nil)
	s.MarkProcessing()

	s.AppendChunk("alpha")
	// not the first chunk, so this leading newline is a real boundary
	s.AppendChunk("\nbeta")

	if got := s.FinalText(); got != "alpha\n\tbeta" {
		t.Fatalf("indented text %q", got)
	}
}

func TestCompleteStreamingProducesDiff(t *testing.T) {
	s := New(testContext(), "shout", nil)
	s.MarkProcessing()
	s.AppendChunk("Hello, WORLD!")
	if err := s.CompleteStreaming(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s.State() != StateReviewing {
		t.Fatalf("expected reviewing, got %s", s.State())
	}

	patches := s.Patches()
	if len(patches) == 0 {
		t.Fatalf("expected a non-empty diff")
	}
	var original, modified string
	for _, p := range patches {
		switch p.Kind {
		case diffkit.Equal:
			original += p.Value
			modified += p.Value
		case diffkit.Delete:
			original += p.Value
		case diffkit.Insert:
			modified += p.Value
		}
	}
	if original != "Hello, world!" || modified != "Hello, WORLD!" {
		t.Fatalf("diff does not reconstruct endpoints: %q -> %q", original, modified)
	}
}

func TestZeroChunkCompletion(t *testing.T) {
	s := New(testContext(), "delete it", nil)
	s.MarkProcessing()
	if err := s.CompleteStreaming(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	patches := s.Patches()
	if len(patches) != 1 || patches[0].Kind != diffkit.Delete {
		t.Fatalf("empty result should diff as a single delete, got %+v", patches)
	}
}

func TestAcceptPath(t *testing.T) {
	s := New(testContext(), "rewrite", nil)
	s.MarkProcessing()
	s.AppendChunk("changed")
	s.CompleteStreaming()

	if err := s.MarkApplying(); err != nil {
		t.Fatalf("applying: %v", err)
	}
	if s.Cancel() {
		t.Fatalf("applying sessions must not be cancelable")
	}
	if err := s.MarkApplied(); err != nil {
		t.Fatalf("applied: %v", err)
	}
	if !s.State().Terminal() {
		t.Fatalf("applied must be terminal")
	}
}

func TestMarkApplyingRequiresReview(t *testing.T) {
	s := New(testContext(), "rewrite", nil)
	s.MarkProcessing()
	if err := s.MarkApplying(); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelDuringStreaming(t *testing.T) {
	s := New(testContext(), "rewrite", nil)
	s.MarkProcessing()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.SetCancel(cancel)
	s.AppendChunk("partial")

	if !s.Cancel() {
		t.Fatalf("streaming sessions must be cancelable")
	}
	if ctx.Err() == nil {
		t.Fatalf("cancel must fire the generation context")
	}
	if err := s.MarkRejected(); err != nil {
		t.Fatalf("rejected: %v", err)
	}
	if s.State() != StateRejected {
		t.Fatalf("expected rejected, got %s", s.State())
	}
}

func TestResetForRetry(t *testing.T) {
	ec := testContext()
	ec.IndentPrefix = "  "
	s := New(ec, "rewrite", nil)
	s.MarkProcessing()
	s.AppendChunk("stale\ntext")
	s.CompleteStreaming()

	if err := s.ResetForRetry(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s.State() != StateProcessing {
		t.Fatalf("expected processing, got %s", s.State())
	}
	if s.AccumulatedText() != "" || s.FinalText() != "" || s.Patches() != nil {
		t.Fatalf("retry must clear accumulation and diff")
	}

	// the first chunk after a retry is a first chunk again
	s.AppendChunk("\nfresh")
	if got := s.FinalText(); got != "\nfresh" {
		t.Fatalf("post-retry indent handling wrong: %q", got)
	}
}

func TestRetryAllowedFromError(t *testing.T) {
	s := New(testContext(), "rewrite", nil)
	s.MarkProcessing()
	s.Fail("upstream unavailable")
	if s.ErrMessage() != "upstream unavailable" {
		t.Fatalf("error message lost")
	}
	if err := s.ResetForRetry(); err != nil {
		t.Fatalf("retry from error: %v", err)
	}
	if s.ErrMessage() != "" {
		t.Fatalf("retry must clear the error message")
	}
}

func TestExternallyRemoved(t *testing.T) {
	s := New(testContext(), "rewrite", nil)
	s.MarkProcessing()
	s.AppendChunk("partial")

	if !s.MarkExternallyRemoved() {
		t.Fatalf("active session must tear down")
	}
	if s.MarkExternallyRemoved() {
		t.Fatalf("terminal session must not tear down twice")
	}
	// terminal state pins everything else out
	if err := s.MarkRejected(); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	s.Fail("late failure")
	if s.State() != StateExternallyRemoved {
		t.Fatalf("terminal state must stick, got %s", s.State())
	}
}

func TestSnapshot(t *testing.T) {
	s := New(testContext(), "rewrite", nil)
	s.MarkProcessing()
	s.AppendChunk("done")
	s.CompleteStreaming()

	snap := s.Snapshot()
	if snap.ID != s.ID || snap.State != StateReviewing {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.AccumulatedText != "done" || len(snap.Patches) == 0 {
		t.Fatalf("snapshot missing stream state: %+v", snap)
	}
	if len(snap.SelectedUnitIDs) != 1 {
		t.Fatalf("snapshot missing selection: %+v", snap)
	}
}
