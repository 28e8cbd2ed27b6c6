package autoexec

import (
	"fmt"
	"time"

	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/danger"
)

// Config defines the safety budgets and confirmation policy for autonomous
// execution. It persists across runs until explicitly updated; runtime
// mutations take effect on the next control-loop evaluation, not
// retroactively.
type Config struct {
	// MaxSteps is the hard ceiling on steps executed in one continuous run.
	MaxSteps int `json:"max_steps" yaml:"max_steps"`

	// MaxTotalTokens is the cumulative token budget for the run.
	MaxTotalTokens int `json:"max_total_tokens" yaml:"max_total_tokens"`

	// PauseOnDangerousActions is the master switch for the confirmation gate.
	PauseOnDangerousActions bool `json:"pause_on_dangerous_actions" yaml:"pause_on_dangerous_actions"`

	// ErrorThreshold is the number of consecutive step failures that forces
	// a pause.
	ErrorThreshold int `json:"error_threshold" yaml:"error_threshold"`

	// StepTimeout is the wall-clock limit per step execution.
	StepTimeout time.Duration `json:"step_timeout" yaml:"step_timeout"`

	// RequireConfirmationFor lists the danger categories that trigger
	// confirmation when detected. Detected categories outside this list are
	// only logged.
	RequireConfirmationFor []danger.Category `json:"require_confirmation_for" yaml:"require_confirmation_for"`
}

// DefaultConfig returns the default execution budgets: 10 steps, 100k
// tokens, a 5 minute step timeout, pause after 3 consecutive errors, and
// confirmation required for every danger category.
func DefaultConfig() Config {
	return Config{
		MaxSteps:                10,
		MaxTotalTokens:          100_000,
		PauseOnDangerousActions: true,
		ErrorThreshold:          3,
		StepTimeout:             5 * time.Minute,
		RequireConfirmationFor:  danger.AllCategories(),
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be at least 1, got %d", c.MaxSteps)
	}
	if c.MaxTotalTokens < 0 {
		return fmt.Errorf("max_total_tokens cannot be negative, got %d", c.MaxTotalTokens)
	}
	if c.ErrorThreshold < 1 {
		return fmt.Errorf("error_threshold must be at least 1, got %d", c.ErrorThreshold)
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("step_timeout must be positive, got %s", c.StepTimeout)
	}
	return nil
}

// requiresConfirmation reports whether the category is in the
// RequireConfirmationFor list.
func (c Config) requiresConfirmation(cat danger.Category) bool {
	for _, want := range c.RequireConfirmationFor {
		if want == cat {
			return true
		}
	}
	return false
}

// clone returns a copy of the config with its category slice duplicated, so
// snapshots handed to callers cannot alias controller-owned state.
func (c Config) clone() Config {
	out := c
	out.RequireConfirmationFor = append([]danger.Category(nil), c.RequireConfirmationFor...)
	return out
}
