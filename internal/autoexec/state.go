package autoexec

import "time"

// PauseReason identifies why a run was suspended or ended. It is a closed
// enum used both for control logic and user-facing messaging.
type PauseReason string

const (
	// PauseReasonUserRequested indicates an explicit Pause() call.
	PauseReasonUserRequested PauseReason = "user_requested"

	// PauseReasonTokenBudget indicates the cumulative token budget was reached.
	PauseReasonTokenBudget PauseReason = "token_budget_reached"

	// PauseReasonMaxSteps indicates the step-count ceiling was reached.
	PauseReasonMaxSteps PauseReason = "max_steps_reached"

	// PauseReasonErrorThreshold indicates too many consecutive step failures.
	PauseReasonErrorThreshold PauseReason = "error_threshold"

	// PauseReasonStepTimeout is reserved for distinct timeout handling.
	// Timeouts currently fold into the generic failure path.
	PauseReasonStepTimeout PauseReason = "step_timeout"

	// PauseReasonDangerousAction indicates a dangerous step awaits confirmation.
	PauseReasonDangerousAction PauseReason = "dangerous_action"

	// PauseReasonPlanComplete indicates no pending step remains.
	PauseReasonPlanComplete PauseReason = "plan_complete"
)

// String returns the string representation of the pause reason.
func (r PauseReason) String() string {
	return string(r)
}

// EndsRun returns true for reasons that end the run rather than merely
// suspending it: the run cannot usefully advance past them without caller
// intervention. Resume() reactivates an ended run.
func (r PauseReason) EndsRun() bool {
	switch r {
	case PauseReasonPlanComplete, PauseReasonMaxSteps, PauseReasonTokenBudget:
		return true
	default:
		return false
	}
}

// Message returns a human-readable explanation of the pause reason.
func (r PauseReason) Message() string {
	switch r {
	case PauseReasonUserRequested:
		return "paused by user"
	case PauseReasonTokenBudget:
		return "token budget reached"
	case PauseReasonMaxSteps:
		return "maximum step count reached"
	case PauseReasonErrorThreshold:
		return "too many consecutive errors"
	case PauseReasonStepTimeout:
		return "step timed out"
	case PauseReasonDangerousAction:
		return "dangerous action requires confirmation"
	case PauseReasonPlanComplete:
		return "plan complete"
	default:
		return string(r)
	}
}

// State is the controller's run state. It is owned exclusively by the
// controller and mutated only by its own transition logic; external callers
// read value-copy snapshots via Controller.Snapshot.
//
// The run states derive from the two flags:
//
//	idle:    IsAutoExecuting=false
//	running: IsAutoExecuting=true,  IsPaused=false
//	paused:  IsAutoExecuting=true,  IsPaused=true
//
// A run-ending pause (PauseReason.EndsRun, error threshold) clears
// IsAutoExecuting while keeping IsPaused and PauseReason for inspection.
type State struct {
	// IsAutoExecuting is true while a run is active (it may be paused).
	IsAutoExecuting bool `json:"is_auto_executing"`

	// IsPaused is true while a run is active but not advancing.
	IsPaused bool `json:"is_paused"`

	// CurrentStepStartTime is set only while a step is in flight.
	CurrentStepStartTime *time.Time `json:"current_step_start_time,omitempty"`

	// TotalTokensUsed is the cumulative token spend of the run.
	TotalTokensUsed int `json:"total_tokens_used"`

	// StepsExecuted counts successfully executed steps in the run.
	StepsExecuted int `json:"steps_executed"`

	// ConsecutiveErrors counts step failures since the last success.
	ConsecutiveErrors int `json:"consecutive_errors"`

	// LastError is the most recent step failure message, cleared on success.
	LastError string `json:"last_error,omitempty"`

	// PauseReason is set while the run is suspended or ended, empty otherwise.
	PauseReason PauseReason `json:"pause_reason,omitempty"`
}
