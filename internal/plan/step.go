package plan

import (
	"time"

	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/types"
)

// Step represents a single unit of work within a plan.
// Steps are totally ordered by Index; the execution engine always selects
// the lowest-indexed step whose status is pending.
type Step struct {
	ID types.ID `json:"id" yaml:"id"`

	// Index is the position of the step in the plan's total order.
	Index int `json:"index" yaml:"index"`

	Title string `json:"title" yaml:"title"`

	// Description is human-readable text describing the work.
	// It is the only field inspected by the danger classifier.
	Description string `json:"description" yaml:"description"`

	Status StepStatus `json:"status" yaml:"status"`

	// EstimatedTokens is the predicted token spend for this step.
	// Used for plan-level budgeting display and as a confirmation-gate signal.
	EstimatedTokens int `json:"estimated_tokens,omitempty" yaml:"estimated_tokens,omitempty"`

	// ActualTokens is populated when the step completes.
	ActualTokens int `json:"actual_tokens,omitempty" yaml:"actual_tokens,omitempty"`

	// Error holds the failure message when the step fails.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Metadata carries caller-defined payloads (for example, the shell
	// command the CLI executor runs for this step). The engine never
	// inspects it.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// StepStatus represents the current status of a step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in-progress"
	StepStatusComplete   StepStatus = "complete"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// String returns the string representation of the step status.
func (s StepStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the step status is a terminal state
// (complete, failed, or skipped).
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusComplete || s == StepStatusFailed || s == StepStatusSkipped
}

// CanTransitionTo validates whether the current step status can transition
// to the target status. It enforces the following state machine:
//
//	pending -> in-progress, skipped
//	in-progress -> complete, failed
//
// Terminal states cannot transition to any other state. A failed step is
// never re-selected by the engine; only an external actor resetting it to
// pending (a new plan revision) makes it runnable again.
func (s StepStatus) CanTransitionTo(target StepStatus) bool {
	switch s {
	case StepStatusPending:
		return target == StepStatusInProgress || target == StepStatusSkipped
	case StepStatusInProgress:
		return target == StepStatusComplete || target == StepStatusFailed
	default:
		return false
	}
}
