package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/autoexec"
	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/danger"
	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/plan"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Check a plan file and report which steps would be gated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePlan(cmd, args[0])
		},
	}
}

func validatePlan(cmd *cobra.Command, path string) error {
	p, err := plan.LoadFile(path)
	if err != nil {
		return err
	}

	execCfg, err := cfg.Execution.ToController()
	if err != nil {
		return err
	}

	gate := autoexec.NewConfirmationGate(danger.NewClassifier())
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	color.New(color.Bold).Fprintf(cmd.OutOrStdout(), "Plan: %s (%d steps, ~%d tokens)\n", p.Name, len(p.Steps), p.EstimatedTokens())

	gated := 0
	for _, step := range p.Steps {
		decision := gate.Check(step, execCfg)
		if decision.Required {
			gated++
			yellow.Fprintf(cmd.OutOrStdout(), "  %2d. %s: needs confirmation\n", step.Index+1, step.Title)
			for _, reason := range decision.Reasons {
				fmt.Fprintf(cmd.OutOrStdout(), "      - %s\n", reason)
			}
		} else {
			green.Fprintf(cmd.OutOrStdout(), "  %2d. %s: ok\n", step.Index+1, step.Title)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout())
	if gated > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d steps will pause for confirmation.\n", gated, len(p.Steps))
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "No steps require confirmation.\n")
	}

	if p.EstimatedTokens() > execCfg.MaxTotalTokens {
		yellow.Fprintf(cmd.OutOrStdout(), "Warning: estimated spend exceeds the %d token budget; the run will pause early.\n", execCfg.MaxTotalTokens)
	}
	if len(p.Steps) > execCfg.MaxSteps {
		yellow.Fprintf(cmd.OutOrStdout(), "Warning: plan has more steps than the %d step ceiling; the run will pause early.\n", execCfg.MaxSteps)
	}
	return nil
}
