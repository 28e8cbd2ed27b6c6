package plan

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/types"
)

// planFile is the on-disk YAML representation of a plan.
type planFile struct {
	Name  string         `yaml:"name"`
	Steps []planFileStep `yaml:"steps"`
}

type planFileStep struct {
	Title           string `yaml:"title"`
	Description     string `yaml:"description"`
	EstimatedTokens int    `yaml:"estimated_tokens"`

	// Command is an optional shell command the CLI executor runs for this
	// step. Steps without a command are simulated.
	Command string `yaml:"command"`
}

// LoadFile reads a plan definition from a YAML file and returns a Plan in
// pending_approval status with freshly assigned step IDs and indexes.
func LoadFile(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML plan definition. See LoadFile.
func Parse(data []byte) (Plan, error) {
	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return Plan{}, fmt.Errorf("failed to parse plan file: %w", err)
	}

	if pf.Name == "" {
		return Plan{}, fmt.Errorf("plan file is missing a name")
	}
	if len(pf.Steps) == 0 {
		return Plan{}, fmt.Errorf("plan %q has no steps", pf.Name)
	}

	now := time.Now()
	p := Plan{
		ID:        types.NewID(),
		Name:      pf.Name,
		Status:    PlanStatusPendingApproval,
		Steps:     make([]Step, 0, len(pf.Steps)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	for i, fs := range pf.Steps {
		if fs.Title == "" {
			return Plan{}, fmt.Errorf("plan %q step %d is missing a title", pf.Name, i+1)
		}
		if fs.EstimatedTokens < 0 {
			return Plan{}, fmt.Errorf("plan %q step %d has negative estimated_tokens", pf.Name, i+1)
		}

		step := Step{
			ID:              types.NewID(),
			Index:           i,
			Title:           fs.Title,
			Description:     fs.Description,
			Status:          StepStatusPending,
			EstimatedTokens: fs.EstimatedTokens,
		}
		if fs.Command != "" {
			step.Metadata = map[string]string{"command": fs.Command}
		}
		p.Steps = append(p.Steps, step)
	}

	return p, nil
}
