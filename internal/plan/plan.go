package plan

import (
	"time"

	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/types"
)

// PlanStatus represents the current status of a plan.
type PlanStatus string

const (
	// PlanStatusDraft indicates the plan is being drafted and not yet ready for approval.
	PlanStatusDraft PlanStatus = "draft"

	// PlanStatusPendingApproval indicates the plan is awaiting approval.
	PlanStatusPendingApproval PlanStatus = "pending_approval"

	// PlanStatusApproved indicates the plan has been approved and is ready for execution.
	PlanStatusApproved PlanStatus = "approved"

	// PlanStatusRejected indicates the plan has been rejected and will not be executed.
	PlanStatusRejected PlanStatus = "rejected"

	// PlanStatusExecuting indicates the plan is currently being executed.
	PlanStatusExecuting PlanStatus = "executing"

	// PlanStatusCompleted indicates every step has reached a terminal state.
	PlanStatusCompleted PlanStatus = "completed"

	// PlanStatusFailed indicates plan execution was abandoned after failures.
	PlanStatusFailed PlanStatus = "failed"
)

// String returns the string representation of the plan status.
func (s PlanStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the status represents a terminal state
// (completed, failed, or rejected).
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanStatusCompleted, PlanStatusFailed, PlanStatusRejected:
		return true
	default:
		return false
	}
}

// CanTransitionTo validates whether the current status can transition to the
// target status. It enforces the following state machine:
//
//	draft -> pending_approval
//	pending_approval -> approved, rejected
//	approved -> executing
//	executing -> completed, failed
//
// Terminal states cannot transition to any other state.
func (s PlanStatus) CanTransitionTo(target PlanStatus) bool {
	if s.IsTerminal() {
		return false
	}

	allowedTransitions := map[PlanStatus][]PlanStatus{
		PlanStatusDraft: {
			PlanStatusPendingApproval,
		},
		PlanStatusPendingApproval: {
			PlanStatusApproved,
			PlanStatusRejected,
		},
		PlanStatusApproved: {
			PlanStatusExecuting,
		},
		PlanStatusExecuting: {
			PlanStatusCompleted,
			PlanStatusFailed,
		},
	}

	allowedTargets, exists := allowedTransitions[s]
	if !exists {
		return false
	}

	for _, allowedTarget := range allowedTargets {
		if allowedTarget == target {
			return true
		}
	}

	return false
}

// Plan represents an ordered collection of steps forming one unit of work
// to be executed autonomously once approved.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID types.ID `json:"id" yaml:"id"`

	// Name is a human-readable name for the plan.
	Name string `json:"name" yaml:"name"`

	// Status represents the current status of the plan.
	Status PlanStatus `json:"status" yaml:"status"`

	// Steps contains the ordered list of steps for this plan.
	Steps []Step `json:"steps" yaml:"steps"`

	// CreatedAt is the timestamp when the plan was created.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// UpdatedAt is the timestamp when the plan was last updated.
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	// StartedAt is the timestamp when plan execution began.
	// This is nil until the plan starts executing.
	StartedAt *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`

	// CompletedAt is the timestamp when the plan reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// PendingSteps returns the number of steps still in pending status.
func (p *Plan) PendingSteps() int {
	count := 0
	for i := range p.Steps {
		if p.Steps[i].Status == StepStatusPending {
			count++
		}
	}
	return count
}

// EstimatedTokens returns the total estimated token spend across all steps.
func (p *Plan) EstimatedTokens() int {
	total := 0
	for i := range p.Steps {
		total += p.Steps[i].EstimatedTokens
	}
	return total
}
