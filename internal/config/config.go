// Package config loads and validates the engine's YAML configuration.
package config

import (
	"fmt"
	"time"

	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/autoexec"
	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/danger"
)

// Config is the root configuration for the execution engine.
type Config struct {
	Execution ExecutionConfig `yaml:"execution" mapstructure:"execution"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
}

// ExecutionConfig holds the safety limits applied to an automated run.
type ExecutionConfig struct {
	MaxSteps                int           `yaml:"max_steps" mapstructure:"max_steps"`
	MaxTotalTokens          int           `yaml:"max_total_tokens" mapstructure:"max_total_tokens"`
	PauseOnDangerousActions bool          `yaml:"pause_on_dangerous_actions" mapstructure:"pause_on_dangerous_actions"`
	ErrorThreshold          int           `yaml:"error_threshold" mapstructure:"error_threshold"`
	StepTimeout             time.Duration `yaml:"step_timeout" mapstructure:"step_timeout"`

	// RequireConfirmationFor lists the danger category names that gate
	// execution. Empty means the built-in default set.
	RequireConfirmationFor []string `yaml:"require_confirmation_for" mapstructure:"require_confirmation_for"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() *Config {
	exec := autoexec.DefaultConfig()
	names := make([]string, 0, len(exec.RequireConfirmationFor))
	for _, cat := range exec.RequireConfirmationFor {
		names = append(names, string(cat))
	}
	return &Config{
		Execution: ExecutionConfig{
			MaxSteps:                exec.MaxSteps,
			MaxTotalTokens:          exec.MaxTotalTokens,
			PauseOnDangerousActions: exec.PauseOnDangerousActions,
			ErrorThreshold:          exec.ErrorThreshold,
			StepTimeout:             exec.StepTimeout,
			RequireConfirmationFor:  names,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if _, err := c.Execution.ToController(); err != nil {
		return err
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid logging.format: %q", c.Logging.Format)
	}
	return nil
}

// ToController maps the execution section onto the controller's config,
// resolving danger category names.
func (e ExecutionConfig) ToController() (autoexec.Config, error) {
	cfg := autoexec.Config{
		MaxSteps:                e.MaxSteps,
		MaxTotalTokens:          e.MaxTotalTokens,
		PauseOnDangerousActions: e.PauseOnDangerousActions,
		ErrorThreshold:          e.ErrorThreshold,
		StepTimeout:             e.StepTimeout,
	}

	if len(e.RequireConfirmationFor) == 0 {
		cfg.RequireConfirmationFor = danger.AllCategories()
	} else {
		cats := make([]danger.Category, 0, len(e.RequireConfirmationFor))
		for _, name := range e.RequireConfirmationFor {
			cat, err := danger.ParseCategory(name)
			if err != nil {
				return autoexec.Config{}, fmt.Errorf("execution.require_confirmation_for: %w", err)
			}
			cats = append(cats, cat)
		}
		cfg.RequireConfirmationFor = cats
	}

	if err := cfg.Validate(); err != nil {
		return autoexec.Config{}, fmt.Errorf("execution: %w", err)
	}
	return cfg, nil
}
