package plan

import "testing"

func TestStepStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status StepStatus
		want   bool
	}{
		{StepStatusPending, false},
		{StepStatusInProgress, false},
		{StepStatusComplete, true},
		{StepStatusFailed, true},
		{StepStatusSkipped, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestStepStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name   string
		from   StepStatus
		to     StepStatus
		want   bool
	}{
		{"pending to in-progress", StepStatusPending, StepStatusInProgress, true},
		{"pending to skipped", StepStatusPending, StepStatusSkipped, true},
		{"pending to complete", StepStatusPending, StepStatusComplete, false},
		{"in-progress to complete", StepStatusInProgress, StepStatusComplete, true},
		{"in-progress to failed", StepStatusInProgress, StepStatusFailed, true},
		{"in-progress to skipped", StepStatusInProgress, StepStatusSkipped, false},
		{"complete is terminal", StepStatusComplete, StepStatusPending, false},
		{"failed is terminal", StepStatusFailed, StepStatusInProgress, false},
		{"skipped is terminal", StepStatusSkipped, StepStatusInProgress, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestPlanStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from PlanStatus
		to   PlanStatus
		want bool
	}{
		{"draft to pending approval", PlanStatusDraft, PlanStatusPendingApproval, true},
		{"draft straight to approved", PlanStatusDraft, PlanStatusApproved, false},
		{"pending approval to approved", PlanStatusPendingApproval, PlanStatusApproved, true},
		{"pending approval to rejected", PlanStatusPendingApproval, PlanStatusRejected, true},
		{"approved to executing", PlanStatusApproved, PlanStatusExecuting, true},
		{"approved to completed", PlanStatusApproved, PlanStatusCompleted, false},
		{"executing to completed", PlanStatusExecuting, PlanStatusCompleted, true},
		{"executing to failed", PlanStatusExecuting, PlanStatusFailed, true},
		{"completed is terminal", PlanStatusCompleted, PlanStatusExecuting, false},
		{"rejected is terminal", PlanStatusRejected, PlanStatusApproved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestPlan_PendingStepsAndEstimatedTokens(t *testing.T) {
	p := Plan{
		Steps: []Step{
			{Status: StepStatusComplete, EstimatedTokens: 100},
			{Status: StepStatusPending, EstimatedTokens: 200},
			{Status: StepStatusPending, EstimatedTokens: 300},
			{Status: StepStatusFailed, EstimatedTokens: 50},
		},
	}

	if got := p.PendingSteps(); got != 2 {
		t.Errorf("PendingSteps() = %d, want 2", got)
	}
	if got := p.EstimatedTokens(); got != 650 {
		t.Errorf("EstimatedTokens() = %d, want 650", got)
	}
}
