package errinfo

// ErrorInfo is the structured error payload crossing the RPC boundary.
type ErrorInfo struct {
	ErrorCode string   `json:"error_code"`
	Phase     string   `json:"phase,omitempty"`
	Subphase  string   `json:"subphase,omitempty"`
	Retryable bool     `json:"retryable"`
	Actions   []string `json:"actions,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	UnitIDs   []string `json:"unit_ids,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

const (
	CodeResolutionFailed     = "RESOLUTION_FAILED"
	CodeGenerationFailed     = "GENERATION_FAILED"
	CodeGenerationCanceled   = "GENERATION_CANCELED"
	CodeGenerationAuthFailed = "GENERATION_AUTH_FAILED"
	CodeMutationFailed       = "MUTATION_FAILED"
	CodeExternalInterference = "EXTERNAL_INTERFERENCE"
	CodeStoreUnavailable     = "STORE_UNAVAILABLE"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
	CodeSessionInvalidState  = "SESSION_INVALID_STATE"
	CodeHistoryEmpty         = "HISTORY_EMPTY"
)

const (
	ActionRetry        = "retry"
	ActionOpenSettings = "open_settings"
	ActionCleanup      = "cleanup_stale_units"
)

const (
	PhaseResolve  = "resolve"
	PhaseGenerate = "generate"
	PhaseReview   = "review"
	PhaseApply    = "apply"
	PhaseUndo     = "undo"
)

const (
	SubphasePreInsert  = "pre_insert"
	SubphasePostInsert = "post_insert"
)

func ResolutionFailed(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeResolutionFailed,
		Phase:     PhaseResolve,
		Retryable: false,
		Detail:    detail,
	}
}

func GenerationFailed(sessionID, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeGenerationFailed,
		Phase:     PhaseGenerate,
		Retryable: true,
		Actions:   []string{ActionRetry},
		SessionID: sessionID,
		Detail:    detail,
	}
}

func GenerationCanceled(sessionID string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeGenerationCanceled,
		Phase:     PhaseGenerate,
		Retryable: false,
		SessionID: sessionID,
	}
}

func GenerationAuthFailed(sessionID string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeGenerationAuthFailed,
		Phase:     PhaseGenerate,
		Retryable: false,
		Actions:   []string{ActionOpenSettings},
		SessionID: sessionID,
	}
}

// MutationPreInsert marks a failure before any deletion was issued; the
// document is unchanged apart from harmless partial insertions.
func MutationPreInsert(sessionID, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeMutationFailed,
		Phase:     PhaseApply,
		Subphase:  SubphasePreInsert,
		Retryable: true,
		Actions:   []string{ActionRetry},
		SessionID: sessionID,
		Detail:    detail,
	}
}

// MutationPostInsert marks a partial success: new content landed but some
// original units may still be present.
func MutationPostInsert(sessionID string, staleUnitIDs []string, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeMutationFailed,
		Phase:     PhaseApply,
		Subphase:  SubphasePostInsert,
		Retryable: false,
		Actions:   []string{ActionCleanup},
		SessionID: sessionID,
		UnitIDs:   staleUnitIDs,
		Detail:    detail,
	}
}

func ExternalInterference(sessionID string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeExternalInterference,
		Phase:     PhaseReview,
		Retryable: false,
		SessionID: sessionID,
	}
}

func StoreUnavailable(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeStoreUnavailable,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func ValidationFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeValidationFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func SessionNotFound(sessionID string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeSessionNotFound,
		Retryable: false,
		SessionID: sessionID,
	}
}

func SessionInvalidState(sessionID, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeSessionInvalidState,
		Retryable: false,
		SessionID: sessionID,
		Detail:    detail,
	}
}

func HistoryEmpty() *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeHistoryEmpty,
		Phase:     PhaseUndo,
		Retryable: false,
	}
}
