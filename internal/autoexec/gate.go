package autoexec

import (
	"fmt"
	"strings"

	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/danger"
	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/plan"
)

// confirmTokenEstimate is the fixed estimated-token ceiling above which a
// step always requires confirmation, independent of the dangerous-action
// switch.
const confirmTokenEstimate = 5000

// GateDecision is the confirmation gate's verdict for a step.
type GateDecision struct {
	// Required is true when the step needs explicit confirmation before
	// execution.
	Required bool

	// Reasons are human-readable explanations for UI display. Empty when
	// Required is false.
	Reasons []string
}

// Reason joins the reasons with "; " for single-line prompts.
func (d GateDecision) Reason() string {
	return strings.Join(d.Reasons, "; ")
}

// ConfirmationGate decides whether a step requires explicit human
// confirmation before running, combining the danger classifier's output
// with the configured category list and the token-estimate ceiling.
type ConfirmationGate struct {
	classifier *danger.Classifier
}

// NewConfirmationGate creates a gate backed by the given classifier.
// A nil classifier gets the default rule set.
func NewConfirmationGate(classifier *danger.Classifier) *ConfirmationGate {
	if classifier == nil {
		classifier = danger.NewClassifier()
	}
	return &ConfirmationGate{classifier: classifier}
}

// Check evaluates the step against the config. Confirmation is required
// when dangerous-action pausing is enabled and a detected category is in
// the configured list, or when the step's token estimate exceeds the fixed
// ceiling.
func (g *ConfirmationGate) Check(step plan.Step, cfg Config) GateDecision {
	var decision GateDecision

	if cfg.PauseOnDangerousActions {
		for _, cat := range g.classifier.Classify(step.Description) {
			if !cfg.requiresConfirmation(cat) {
				continue
			}
			decision.Reasons = append(decision.Reasons,
				fmt.Sprintf("step %s", cat.Describe()))
		}
	}

	if step.EstimatedTokens > confirmTokenEstimate {
		decision.Reasons = append(decision.Reasons,
			fmt.Sprintf("estimated token usage %d exceeds %d", step.EstimatedTokens, confirmTokenEstimate))
	}

	decision.Required = len(decision.Reasons) > 0
	return decision
}
