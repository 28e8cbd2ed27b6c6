package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/autoexec"
	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/danger"
	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/events"
	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/plan"
)

type runFlags struct {
	yes         bool
	autoApprove bool
	maxSteps    int
	tokenBudget int
	stepTimeout time.Duration
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <plan-file>",
		Short: "Execute a plan file under the configured safety limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, args[0], flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "approve the plan without prompting")
	cmd.Flags().BoolVar(&flags.autoApprove, "auto-approve", false, "skip confirmation gates for dangerous steps")
	cmd.Flags().IntVar(&flags.maxSteps, "max-steps", 0, "override the step ceiling for this run")
	cmd.Flags().IntVar(&flags.tokenBudget, "token-budget", 0, "override the token budget for this run")
	cmd.Flags().DurationVar(&flags.stepTimeout, "step-timeout", 0, "override the per-step timeout for this run")

	return cmd
}

func runPlan(cmd *cobra.Command, path string, flags *runFlags) error {
	ctx := cmd.Context()

	p, err := plan.LoadFile(path)
	if err != nil {
		return err
	}

	execCfg, err := cfg.Execution.ToController()
	if err != nil {
		return err
	}
	if flags.maxSteps > 0 {
		execCfg.MaxSteps = flags.maxSteps
	}
	if flags.tokenBudget > 0 {
		execCfg.MaxTotalTokens = flags.tokenBudget
	}
	if flags.stepTimeout > 0 {
		execCfg.StepTimeout = flags.stepTimeout
	}
	if flags.autoApprove {
		execCfg.PauseOnDangerousActions = false
	}

	printPlanSummary(cmd, p, execCfg)

	if !flags.yes && !promptYesNo(cmd, fmt.Sprintf("Execute plan %q?", p.Name)) {
		cmd.Println("Aborted.")
		return nil
	}

	store := plan.NewMemoryStore()
	if err := store.SetPlan(p); err != nil {
		return err
	}
	if err := store.SetStatus(plan.PlanStatusApproved); err != nil {
		return err
	}

	emitter := events.NewEmitter()
	defer emitter.Close()

	controller, err := autoexec.NewController(store, shellExecutor(),
		autoexec.WithConfig(execCfg),
		autoexec.WithLogger(logger),
		autoexec.WithObserver(emitter.Observer()),
		autoexec.WithPrompter(stdinPrompter(cmd)),
	)
	if err != nil {
		return err
	}

	ch, cancel := emitter.Subscribe()
	defer cancel()

	var render sync.WaitGroup
	render.Add(1)
	go func() {
		defer render.Done()
		renderEvents(cmd, ch)
	}()

	controller.Start(ctx)
	controller.Wait()

	// A dangerous-action pause leaves the run resumable; in the CLI the
	// user already declined once, so treat it as a stop.
	final := controller.Snapshot()
	if final.IsPaused && final.PauseReason == autoexec.PauseReasonDangerousAction {
		controller.Stop()
		final = controller.Snapshot()
	}

	cancel()
	render.Wait()

	printRunReport(cmd, controller, final)

	if final.PauseReason == autoexec.PauseReasonErrorThreshold || final.LastError != "" {
		return fmt.Errorf("run ended with errors: %s", final.LastError)
	}
	return nil
}

// shellExecutor runs each step's command through the shell. Steps without a
// command are treated as planning-only and settle immediately using their
// token estimate.
func shellExecutor() autoexec.StepExecutor {
	return func(ctx context.Context, step plan.Step, index int) (autoexec.StepResult, error) {
		command := step.Metadata["command"]
		if command == "" {
			return autoexec.StepResult{Success: true, TokensUsed: step.EstimatedTokens}, nil
		}

		var output bytes.Buffer
		shell := exec.CommandContext(ctx, "sh", "-c", command)
		shell.Stdout = &output
		shell.Stderr = &output

		if err := shell.Run(); err != nil {
			if ctx.Err() != nil {
				return autoexec.StepResult{}, ctx.Err()
			}
			message := strings.TrimSpace(output.String())
			if message == "" {
				message = err.Error()
			}
			return autoexec.StepResult{Success: false, TokensUsed: tokenCost(step, output.Len()), Error: message}, nil
		}
		return autoexec.StepResult{Success: true, TokensUsed: tokenCost(step, output.Len())}, nil
	}
}

// tokenCost approximates the token spend of a shell step from its output
// size, falling back to the plan's estimate for quiet commands.
func tokenCost(step plan.Step, outputBytes int) int {
	if outputBytes == 0 {
		return step.EstimatedTokens
	}
	return outputBytes / 4
}

// stdinPrompter asks the user to confirm a gated step on the terminal.
func stdinPrompter(cmd *cobra.Command) autoexec.ConfirmationPrompter {
	return func(ctx context.Context, step plan.Step, reason string) (bool, error) {
		color.New(color.FgYellow, color.Bold).Fprintf(cmd.OutOrStdout(), "\n! Step %d %q requires confirmation\n", step.Index+1, step.Title)
		fmt.Fprintf(cmd.OutOrStdout(), "  Reason: %s\n", reason)
		return promptYesNo(cmd, "Proceed?"), nil
	}
}

func promptYesNo(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", question)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printPlanSummary(cmd *cobra.Command, p plan.Plan, execCfg autoexec.Config) {
	bold := color.New(color.Bold)
	dim := color.New(color.Faint)
	classifier := danger.NewClassifier()

	bold.Fprintf(cmd.OutOrStdout(), "Plan: %s\n", p.Name)
	for _, step := range p.Steps {
		fmt.Fprintf(cmd.OutOrStdout(), "  %2d. %s", step.Index+1, step.Title)
		if cats := classifier.Classify(step.Description); len(cats) > 0 {
			names := make([]string, 0, len(cats))
			for _, c := range cats {
				names = append(names, c.String())
			}
			color.New(color.FgYellow).Fprintf(cmd.OutOrStdout(), "  [%s]", strings.Join(names, ", "))
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	dim.Fprintf(cmd.OutOrStdout(), "Limits: %d steps, %d tokens, %d consecutive errors, %s per step\n",
		execCfg.MaxSteps, execCfg.MaxTotalTokens, execCfg.ErrorThreshold, execCfg.StepTimeout)
	dim.Fprintf(cmd.OutOrStdout(), "Estimated spend: %d tokens\n\n", p.EstimatedTokens())
}

func renderEvents(cmd *cobra.Command, ch <-chan events.Event) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	for event := range ch {
		switch event.Type {
		case events.EventStepStarted:
			if event.Step != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "-> %d. %s\n", event.Step.Index+1, event.Step.Title)
			}
		case events.EventStepSettled:
			if event.Step == nil {
				continue
			}
			switch event.Step.Status {
			case plan.StepStatusComplete:
				green.Fprintf(cmd.OutOrStdout(), "   ok (%d tokens)\n", event.Step.ActualTokens)
			case plan.StepStatusFailed:
				red.Fprintf(cmd.OutOrStdout(), "   failed: %s\n", event.Step.Error)
			}
		case events.EventRunPaused:
			yellow.Fprintf(cmd.OutOrStdout(), "== %s\n", event.State.PauseReason.Message())
		}
	}
}

func printRunReport(cmd *cobra.Command, controller *autoexec.Controller, final autoexec.State) {
	stats := controller.Stats()

	fmt.Fprintln(cmd.OutOrStdout())
	color.New(color.Bold).Fprintln(cmd.OutOrStdout(), "Run summary")
	fmt.Fprintf(cmd.OutOrStdout(), "  Steps executed: %d\n", final.StepsExecuted)
	fmt.Fprintf(cmd.OutOrStdout(), "  Tokens used:    %d\n", final.TotalTokensUsed)
	fmt.Fprintf(cmd.OutOrStdout(), "  Attempts:       %d (%d ok, %d failed)\n", stats.Attempts, stats.Successes, stats.Failures)
	if stats.Attempts > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "  Avg duration:   %s\n", stats.AverageDuration.Round(time.Millisecond))
	}
	if final.PauseReason != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "  Outcome:        %s\n", final.PauseReason.Message())
	}
	if final.LastError != "" {
		color.New(color.FgRed).Fprintf(cmd.OutOrStdout(), "  Last error:     %s\n", final.LastError)
	}
}
