package storage

import "time"

// Outcomes recorded besides the tools.InvokeErrorKind values.
const (
	OutcomeOK        = "success"
	OutcomeToolError = "tool_error"
	OutcomeCanceled  = "canceled"
	OutcomeError     = "error"
)

// Invocation is the record of one completed action call.
type Invocation struct {
	// ID is the request id the invocation ran under.
	ID       string `json:"id"`
	Tool     string `json:"tool"`
	Provider string `json:"provider,omitempty"`

	// Owner is the authenticated subject that made the call.
	Owner string `json:"owner,omitempty"`

	// Outcome is OutcomeOK, OutcomeToolError, OutcomeCanceled,
	// OutcomeError or a tools.InvokeErrorKind.
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}
