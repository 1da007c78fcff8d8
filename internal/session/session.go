// Package session owns one user-triggered edit end to end: instruction
// capture, streaming accumulation, diff review, and the terminal outcome.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"blockpilot/engine/internal/diffkit"
	"blockpilot/engine/internal/logging"
	"blockpilot/engine/internal/resolver"
)

type State string

const (
	StateInputInstruction  State = "input_instruction"
	StateProcessing        State = "processing"
	StateStreaming         State = "streaming"
	StateReviewing         State = "reviewing"
	StateApplying          State = "applying"
	StateApplied           State = "applied"
	StateRejected          State = "rejected"
	StateError             State = "error"
	StateExternallyRemoved State = "externally_removed"
)

// Terminal states release the session's concurrency slot.
func (s State) Terminal() bool {
	switch s {
	case StateApplied, StateRejected, StateError, StateExternallyRemoved:
		return true
	default:
		return false
	}
}

var ErrInvalidTransition = errors.New("invalid session state transition")

// Session is mutable and owned exclusively by the orchestrator. All state
// access goes through the mutex; the EditContext inside is immutable.
type Session struct {
	ID          string
	Context     *resolver.EditContext
	Instruction string

	mu                sync.Mutex
	state             State
	accumulated       strings.Builder
	accumulatedIndent strings.Builder
	chunkCount        int
	chunkBytes        int
	integrityWarned   bool
	patches           []diffkit.Patch
	errMessage        string
	cancel            context.CancelFunc
	logger            *slog.Logger
}

func New(editCtx *resolver.EditContext, instruction string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Session{
		ID:          uuid.NewString(),
		Context:     editCtx,
		Instruction: instruction,
		state:       StateInputInstruction,
		logger:      logger,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetCancel installs the cancellation token for the in-flight generation
// call. At most one generation call is in flight per session.
func (s *Session) SetCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// Cancel aborts the in-flight generation call. Sessions already applying are
// atomic and cannot be canceled.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.state == StateApplying || s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// MarkProcessing moves a new session into processing once its concurrency
// slot is acquired.
func (s *Session) MarkProcessing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInputInstruction {
		return ErrInvalidTransition
	}
	s.state = StateProcessing
	return nil
}

// AppendChunk accumulates one streamed delta in arrival order. The first
// chunk moves the session from processing to streaming. Returns true when
// that transition happened so the caller can notify consumers.
func (s *Session) AppendChunk(chunk string) (streamingStarted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateProcessing {
		s.state = StateStreaming
		streamingStarted = true
	}
	if s.state != StateStreaming {
		return streamingStarted
	}
	s.accumulatedIndent.WriteString(s.indentChunk(chunk))
	s.accumulated.WriteString(chunk)
	s.chunkCount++
	s.chunkBytes += len(chunk)
	if s.accumulated.Len() != s.chunkBytes && !s.integrityWarned {
		// best effort: log the defect, keep streaming
		s.integrityWarned = true
		s.logger.Warn("session.integrity_mismatch",
			"session", s.ID,
			"accumulated", s.accumulated.Len(),
			"chunk_total", s.chunkBytes)
	}
	return streamingStarted
}

// indentChunk prefixes every newline boundary with the selection's captured
// indentation, except a leading newline on the very first chunk.
func (s *Session) indentChunk(chunk string) string {
	indent := s.Context.IndentPrefix
	if indent == "" || chunk == "" {
		return chunk
	}
	if s.chunkCount == 0 && strings.HasPrefix(chunk, "\n") {
		return "\n" + strings.ReplaceAll(chunk[1:], "\n", "\n"+indent)
	}
	return strings.ReplaceAll(chunk, "\n", "\n"+indent)
}

// CompleteStreaming diffs the accumulated text against the original
// selection and moves the session into review.
func (s *Session) CompleteStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateProcessing, StateStreaming:
		// a zero-chunk completion is legal, the diff is a full replacement
	default:
		return ErrInvalidTransition
	}
	s.patches = diffkit.Compute(s.Context.SelectedText, s.accumulated.String())
	s.state = StateReviewing
	return nil
}

// MarkApplying guards the accept path; only a reviewed session can apply.
func (s *Session) MarkApplying() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReviewing {
		return ErrInvalidTransition
	}
	s.state = StateApplying
	return nil
}

func (s *Session) MarkApplied() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateApplying {
		return ErrInvalidTransition
	}
	s.state = StateApplied
	return nil
}

// MarkRejected covers both an explicit user rejection and a canceled
// generation call.
func (s *Session) MarkRejected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateApplying || s.state.Terminal() {
		return ErrInvalidTransition
	}
	s.state = StateRejected
	return nil
}

// Fail moves the session to the error state from anywhere non-terminal.
func (s *Session) Fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = StateError
	s.errMessage = message
}

// MarkExternallyRemoved tears the session down after its preview surface
// vanished outside the engine's control, aborting any in-flight generation.
func (s *Session) MarkExternallyRemoved() bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = StateExternallyRemoved
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// ResetForRetry clears accumulated text and diff so generation can restart
// with the same instruction and context.
func (s *Session) ResetForRetry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReviewing, StateError:
	default:
		return ErrInvalidTransition
	}
	s.accumulated.Reset()
	s.accumulatedIndent.Reset()
	s.chunkCount = 0
	s.chunkBytes = 0
	s.integrityWarned = false
	s.patches = nil
	s.errMessage = ""
	s.state = StateProcessing
	return nil
}

func (s *Session) AccumulatedText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulated.String()
}

// FinalText is the text handed to the mutation planner: the accumulated
// stream with the selection's indentation reapplied.
func (s *Session) FinalText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulatedIndent.String()
}

func (s *Session) Patches() []diffkit.Patch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.patches) == 0 {
		return nil
	}
	out := make([]diffkit.Patch, len(s.patches))
	copy(out, s.patches)
	return out
}

func (s *Session) IntegrityWarned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.integrityWarned
}

func (s *Session) ErrMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMessage
}

// Snapshot is the read view exposed over RPC.
type Snapshot struct {
	ID              string          `json:"id"`
	State           State           `json:"state"`
	Instruction     string          `json:"instruction"`
	SelectedUnitIDs []string        `json:"selected_unit_ids"`
	AccumulatedText string          `json:"accumulated_text"`
	Patches         []diffkit.Patch `json:"patches,omitempty"`
	Error           string          `json:"error,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	patches := make([]diffkit.Patch, len(s.patches))
	copy(patches, s.patches)
	return Snapshot{
		ID:              s.ID,
		State:           s.state,
		Instruction:     s.Instruction,
		SelectedUnitIDs: s.Context.SelectedUnitIDs,
		AccumulatedText: s.accumulated.String(),
		Patches:         patches,
		Error:           s.errMessage,
	}
}
