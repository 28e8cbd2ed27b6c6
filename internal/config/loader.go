package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Loader reads engine configuration from YAML files.
type Loader struct{}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and validates the configuration at path. The file must exist.
func (l *Loader) Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	defaults := DefaultConfig()
	v.SetDefault("execution.max_steps", defaults.Execution.MaxSteps)
	v.SetDefault("execution.max_total_tokens", defaults.Execution.MaxTotalTokens)
	v.SetDefault("execution.pause_on_dangerous_actions", defaults.Execution.PauseOnDangerousActions)
	v.SetDefault("execution.error_threshold", defaults.Execution.ErrorThreshold)
	v.SetDefault("execution.step_timeout", defaults.Execution.StepTimeout)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Logging.Level = interpolateEnv(cfg.Logging.Level)
	cfg.Logging.Format = interpolateEnv(cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults behaves like Load but falls back to the built-in
// defaults when the file does not exist. An empty path always uses the
// defaults.
func (l *Loader) LoadWithDefaults(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return l.Load(path)
}

// interpolateEnv replaces ${VAR} references with environment values,
// leaving unknown variables untouched.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}
