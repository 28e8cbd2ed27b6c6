package autoexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/danger"
	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/plan"
)

// timeoutErrorMessage is the synthesized failure message when the step
// timer wins the race against the executor.
const timeoutErrorMessage = "Step execution timeout"

// stepInFlightBackoff is how long the loop waits before reselecting when
// an externally started step blocks the single in-flight slot.
const stepInFlightBackoff = 100 * time.Millisecond

// StepResult is the outcome of one step execution attempt.
type StepResult struct {
	// Success indicates the step's work completed.
	Success bool `json:"success"`

	// TokensUsed is the token spend of the attempt.
	TokensUsed int `json:"tokens_used"`

	// Error is the failure message when Success is false.
	Error string `json:"error,omitempty"`
}

// StepExecutor performs a step's actual work. Expected failures must be
// returned as Success=false results; a non-nil error (or a panic) is
// treated as an unexpected failure and escalates straight to an
// error-threshold pause.
//
// The context carries the controller's per-step timeout; executors should
// honor cancellation, but the controller does not assume they do: when the
// timer wins the race, the executor's eventual result is discarded.
type StepExecutor func(ctx context.Context, step plan.Step, index int) (StepResult, error)

// ConfirmationPrompter asks for explicit approval before a gated step runs.
// The reason string joins the gate's reasons with "; ". Returning false, or
// an error, denies the step.
type ConfirmationPrompter func(ctx context.Context, step plan.Step, reason string) (bool, error)

// ProgressObserver is invoked synchronously after every state transition
// with a snapshot of the run state and the step involved (nil for
// run-level transitions). It is never awaited and must not panic.
type ProgressObserver func(state State, step *plan.Step)

// Controller drives autonomous execution of an approved plan: it repeatedly
// selects, confirms, executes, and accounts for one step at a time until a
// termination condition is reached. At most one step is ever in flight.
//
// All control methods are fire-and-forget: precondition violations are
// logged and the call is a no-op. Failure information surfaces through the
// State snapshot and the run history, never as returned errors.
type Controller struct {
	store    plan.Store
	executor StepExecutor
	prompter ConfirmationPrompter
	observer ProgressObserver
	gate     *ConfirmationGate
	logger   *slog.Logger
	tracer   trace.Tracer

	mu      sync.Mutex
	config  Config
	state   State
	history []HistoryEntry

	// loopActive guards single-flight loop ownership: only one control loop
	// goroutine may be alive at a time. It is cleared in the same critical
	// section that decides a loop exit, so Resume called from an observer
	// during the exit notification sees the loop as already gone and
	// respawns it.
	loopActive bool
	loopDone   chan struct{}
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithPrompter configures the confirmation prompter. Without one, gated
// steps pause the run instead of being decided automatically.
func WithPrompter(p ConfirmationPrompter) Option {
	return func(c *Controller) {
		c.prompter = p
	}
}

// WithObserver configures the progress observer.
func WithObserver(o ProgressObserver) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

// WithConfig sets the initial execution config.
func WithConfig(cfg Config) Option {
	return func(c *Controller) {
		c.config = cfg
	}
}

// WithClassifier configures the danger classifier backing the
// confirmation gate.
func WithClassifier(cl *danger.Classifier) Option {
	return func(c *Controller) {
		c.gate = NewConfirmationGate(cl)
	}
}

// WithLogger configures the logger for the controller.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithTracer configures the tracer for the controller. When set, every step
// attempt produces a step.execute span.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		c.tracer = t
	}
}

// NewController creates a Controller bound to the given store and executor.
// Both are mandatory: the engine cannot run without a source of steps or a
// way to execute them. Default config is DefaultConfig(); default logger is
// slog.Default().
func NewController(store plan.Store, executor StepExecutor, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, errors.New("autoexec: store is required")
	}
	if executor == nil {
		return nil, errors.New("autoexec: step executor is required")
	}

	c := &Controller{
		store:    store,
		executor: executor,
		config:   DefaultConfig(),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.gate == nil {
		c.gate = NewConfirmationGate(nil)
	}

	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("autoexec: invalid config: %w", err)
	}

	return c, nil
}

// Start begins a new run. It requires a plan to be loaded and approved
// (or already executing, when re-activating); otherwise it logs and
// returns. Counters and history are zeroed, the state becomes running, and
// the control loop is entered.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()

	if c.state.IsAutoExecuting {
		c.mu.Unlock()
		c.logger.Warn("start ignored: run already active")
		return
	}

	p, ok := c.store.Current()
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("start ignored: no plan loaded")
		return
	}
	if p.Status != plan.PlanStatusApproved && p.Status != plan.PlanStatusExecuting {
		c.mu.Unlock()
		c.logger.Warn("start ignored: plan is not approved", "plan_id", p.ID, "status", p.Status)
		return
	}

	c.state = State{
		IsAutoExecuting: true,
	}
	c.history = nil
	snap := c.state
	cfg := c.config
	c.mu.Unlock()

	c.logger.Info("starting autonomous execution",
		"plan_id", p.ID,
		"plan", p.Name,
		"steps", len(p.Steps),
		"max_steps", cfg.MaxSteps,
		"max_total_tokens", cfg.MaxTotalTokens,
	)
	// Notify the run start before the loop spawns so the observer sees
	// transitions in order.
	c.notify(snap, nil)

	c.mu.Lock()
	if c.state.IsAutoExecuting && !c.loopActive {
		c.spawnLoopLocked(ctx)
	}
	c.mu.Unlock()
}

// Pause suspends the run without ending it. Safe to call at any time; if a
// step is in flight the pause takes effect once its race resolves. Calling
// Pause repeatedly is idempotent.
func (c *Controller) Pause() {
	c.mu.Lock()
	snap := c.pauseLocked(PauseReasonUserRequested)
	c.mu.Unlock()

	c.logger.Info("execution paused", "reason", PauseReasonUserRequested)
	c.notify(snap, nil)
}

// Resume continues a paused run. It is a no-op with a warning when the
// controller is not paused. A run that was fully ended (plan complete,
// budget reached) is reactivated before the loop re-enters.
func (c *Controller) Resume(ctx context.Context) {
	c.mu.Lock()

	if !c.state.IsPaused {
		c.mu.Unlock()
		c.logger.Warn("resume ignored: not paused")
		return
	}

	c.state.IsPaused = false
	c.state.PauseReason = ""
	if !c.state.IsAutoExecuting {
		c.state.IsAutoExecuting = true
	}
	if !c.loopActive {
		c.spawnLoopLocked(ctx)
	}
	snap := c.state
	c.mu.Unlock()

	c.logger.Info("execution resumed")
	c.notify(snap, nil)
}

// Stop ends the run unconditionally, clearing transient bookkeeping while
// preserving StepsExecuted and TotalTokensUsed for final reporting. An
// in-flight step is not aborted; its result is accounted for and then the
// loop exits.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.state.IsAutoExecuting = false
	c.state.IsPaused = false
	c.state.PauseReason = ""
	c.state.ConsecutiveErrors = 0
	c.state.LastError = ""
	c.state.CurrentStepStartTime = nil
	snap := c.state
	c.mu.Unlock()

	c.logger.Info("execution stopped",
		"steps_executed", snap.StepsExecuted,
		"total_tokens_used", snap.TotalTokensUsed,
	)
	c.notify(snap, nil)
}

// Reset zeroes every counter and clears the run history. Used when
// switching to a new plan.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.state = State{}
	c.history = nil
	snap := c.state
	c.mu.Unlock()

	c.logger.Info("execution state reset")
	c.notify(snap, nil)
}

// Wait blocks until the current control-loop activation exits. It returns
// immediately when no loop is active.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.loopDone
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

// UpdateConfig replaces the execution config. It takes effect on the next
// control-loop evaluation.
func (c *Controller) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("autoexec: invalid config: %w", err)
	}

	c.mu.Lock()
	c.config = cfg.clone()
	c.mu.Unlock()
	return nil
}

// SetMaxSteps replaces the step-count ceiling. Values below 1 are ignored
// with a warning.
func (c *Controller) SetMaxSteps(n int) {
	if n < 1 {
		c.logger.Warn("ignoring invalid max steps", "value", n)
		return
	}
	c.mu.Lock()
	c.config.MaxSteps = n
	c.mu.Unlock()
}

// SetTokenBudget replaces the cumulative token budget. Negative values are
// ignored with a warning.
func (c *Controller) SetTokenBudget(n int) {
	if n < 0 {
		c.logger.Warn("ignoring invalid token budget", "value", n)
		return
	}
	c.mu.Lock()
	c.config.MaxTotalTokens = n
	c.mu.Unlock()
}

// SetAutoApprove toggles dangerous-action pausing inversely: auto-approve
// true disables the gate's dangerous-action branch. The token-estimate
// ceiling still applies.
func (c *Controller) SetAutoApprove(autoApprove bool) {
	c.mu.Lock()
	c.config.PauseOnDangerousActions = !autoApprove
	c.mu.Unlock()
}

// Snapshot returns a value copy of the current run state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns a copy of the current execution config.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.clone()
}

// History returns a copy of the run history in attempt order.
func (c *Controller) History() []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]HistoryEntry(nil), c.history...)
}

// Stats summarizes the settled attempts of the run history.
func (c *Controller) Stats() RunStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return summarize(c.history)
}

// spawnLoopLocked starts a control-loop goroutine.
// Must be called with the lock held and loopActive false.
func (c *Controller) spawnLoopLocked(ctx context.Context) {
	done := make(chan struct{})
	c.loopActive = true
	c.loopDone = done
	go c.runLoop(ctx, done)
}

// pauseLocked applies a pause transition and returns the resulting
// snapshot. Run-ending reasons also clear IsAutoExecuting.
// Must be called with the lock held.
func (c *Controller) pauseLocked(reason PauseReason) State {
	c.state.IsPaused = true
	c.state.PauseReason = reason
	if reason.EndsRun() {
		c.state.IsAutoExecuting = false
	}
	return c.state
}

// runLoop is the control loop. Each iteration re-evaluates the termination
// and pause conditions in priority order before selecting, confirming, and
// executing the next pending step. The loop exits whenever the run is no
// longer advancing; Resume spawns a fresh activation.
func (c *Controller) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		c.mu.Lock()

		if !c.state.IsAutoExecuting || c.state.IsPaused {
			c.loopActive = false
			c.mu.Unlock()
			return
		}

		if ctx.Err() != nil {
			// The caller's context is gone; park the run as a resumable
			// user pause so state stays inspectable.
			snap := c.pauseLocked(PauseReasonUserRequested)
			c.loopActive = false
			c.mu.Unlock()
			c.logger.Warn("context cancelled, pausing run")
			c.notify(snap, nil)
			return
		}

		if _, ok := c.store.Current(); !ok {
			c.loopActive = false
			c.mu.Unlock()
			c.logger.Warn("control loop exiting: no plan loaded")
			return
		}

		cfg := c.config

		if c.state.StepsExecuted >= cfg.MaxSteps {
			snap := c.pauseLocked(PauseReasonMaxSteps)
			c.loopActive = false
			c.mu.Unlock()
			c.logger.Info("run ended", "reason", PauseReasonMaxSteps, "steps_executed", snap.StepsExecuted)
			c.notify(snap, nil)
			return
		}

		if c.state.TotalTokensUsed >= cfg.MaxTotalTokens {
			snap := c.pauseLocked(PauseReasonTokenBudget)
			c.loopActive = false
			c.mu.Unlock()
			c.logger.Info("run ended", "reason", PauseReasonTokenBudget, "total_tokens_used", snap.TotalTokensUsed)
			c.notify(snap, nil)
			return
		}

		step, ok := c.store.NextPending()
		if !ok {
			snap := c.pauseLocked(PauseReasonPlanComplete)
			c.loopActive = false
			c.mu.Unlock()
			c.logger.Info("run ended", "reason", PauseReasonPlanComplete,
				"steps_executed", snap.StepsExecuted,
				"total_tokens_used", snap.TotalTokensUsed,
			)
			c.notify(snap, nil)
			return
		}

		c.mu.Unlock()

		decision := c.gate.Check(step, cfg)
		if decision.Required && !c.confirm(ctx, step, decision) {
			c.mu.Lock()
			// A denied (or unprompted) dangerous step is a true pause: the
			// run stays active and resumable.
			snap := c.pauseLocked(PauseReasonDangerousAction)
			c.loopActive = false
			c.mu.Unlock()
			c.logger.Info("execution paused", "reason", PauseReasonDangerousAction,
				"step_id", step.ID,
				"step_title", step.Title,
				"gate_reason", decision.Reason(),
			)
			c.notify(snap, &step)
			return
		}

		if !c.executeStep(ctx, step, cfg) {
			return
		}
	}
}

// confirm resolves a gate-required confirmation. Absence of a prompter, a
// prompter error, or an explicit denial all resolve to false.
func (c *Controller) confirm(ctx context.Context, step plan.Step, decision GateDecision) bool {
	if c.prompter == nil {
		c.logger.Warn("confirmation required but no prompter configured",
			"step_id", step.ID,
			"gate_reason", decision.Reason(),
		)
		return false
	}

	approved, err := c.prompter(ctx, step, decision.Reason())
	if err != nil {
		c.logger.Warn("confirmation prompt failed", "step_id", step.ID, "error", err)
		return false
	}
	return approved
}

// executeStep runs one step attempt end to end: mark in-progress, race the
// executor against the step timeout, and account for the outcome. It
// returns false when the loop must stop advancing.
func (c *Controller) executeStep(ctx context.Context, step plan.Step, cfg Config) bool {
	// The step may have been skipped or mutated externally between
	// selection and execution; reselect on the next iteration if so.
	if err := c.store.MarkStarted(step.ID); err != nil {
		if errors.Is(err, plan.ErrStepInFlight) {
			// An external actor holds a step in progress. Back off before
			// reselecting so the loop does not busy-spin until it settles.
			c.logger.Warn("another step is in flight, backing off", "step_id", step.ID)
			select {
			case <-ctx.Done():
			case <-time.After(stepInFlightBackoff):
			}
			return true
		}
		c.logger.Warn("step no longer startable, reselecting", "step_id", step.ID, "error", err)
		return true
	}

	startedAt := time.Now()
	c.mu.Lock()
	c.state.CurrentStepStartTime = &startedAt
	entryIndex := len(c.history)
	c.history = append(c.history, HistoryEntry{
		StepID:    step.ID,
		StepIndex: step.Index,
		Title:     step.Title,
		StartedAt: startedAt,
		Status:    HistoryStatusRunning,
	})
	snap := c.state
	c.mu.Unlock()

	c.logger.Info("executing step",
		"step_id", step.ID,
		"step_index", step.Index,
		"step_title", step.Title,
	)
	c.notify(snap, &step)

	var span trace.Span
	if c.tracer != nil {
		_, span = c.tracer.Start(ctx, "step.execute",
			trace.WithAttributes(
				attribute.String("step.id", step.ID.String()),
				attribute.String("step.title", step.Title),
				attribute.Int("step.index", step.Index),
			),
		)
		defer span.End()
	}

	result, execErr := c.invokeExecutor(ctx, step, cfg.StepTimeout)

	if execErr == nil && result.Success {
		if err := c.store.MarkCompleted(step.ID, result.TokensUsed); err != nil {
			c.logger.Error("failed to record step completion", "step_id", step.ID, "error", err)
		}

		completedAt := time.Now()
		c.mu.Lock()
		c.state.StepsExecuted++
		c.state.TotalTokensUsed += result.TokensUsed
		c.state.ConsecutiveErrors = 0
		c.state.LastError = ""
		c.state.CurrentStepStartTime = nil
		c.finalizeEntryLocked(entryIndex, HistoryStatusSuccess, completedAt, result.TokensUsed, "")
		snap = c.state
		c.mu.Unlock()

		if span != nil {
			span.SetStatus(codes.Ok, "step completed")
			span.SetAttributes(
				attribute.Int("step.tokens_used", result.TokensUsed),
				attribute.Int64("step.duration_ms", completedAt.Sub(startedAt).Milliseconds()),
			)
		}

		c.logger.Info("step completed",
			"step_id", step.ID,
			"tokens_used", result.TokensUsed,
			"steps_executed", snap.StepsExecuted,
			"total_tokens_used", snap.TotalTokensUsed,
		)
		c.notify(snap, &step)
		return true
	}

	// Failure path: expected failures and timeouts count toward the
	// threshold; unexpected executor errors escalate past it.
	message := result.Error
	if execErr != nil {
		message = execErr.Error()
	}
	if message == "" {
		message = "step execution failed"
	}

	if err := c.store.MarkFailed(step.ID, message); err != nil {
		c.logger.Error("failed to record step failure", "step_id", step.ID, "error", err)
	}

	completedAt := time.Now()
	c.mu.Lock()
	c.state.ConsecutiveErrors++
	c.state.LastError = message
	c.state.CurrentStepStartTime = nil
	c.finalizeEntryLocked(entryIndex, HistoryStatusError, completedAt, result.TokensUsed, message)

	escalate := execErr != nil
	thresholdHit := c.state.ConsecutiveErrors >= cfg.ErrorThreshold
	if escalate || thresholdHit {
		snap = c.pauseLocked(PauseReasonErrorThreshold)
		// The error threshold ends the run, not merely suspends it.
		c.state.IsAutoExecuting = false
		snap.IsAutoExecuting = false
		c.loopActive = false
		c.mu.Unlock()

		if span != nil {
			span.SetStatus(codes.Error, message)
		}

		c.logger.Error("run ended", "reason", PauseReasonErrorThreshold,
			"step_id", step.ID,
			"error", message,
			"consecutive_errors", snap.ConsecutiveErrors,
			"escalated", escalate,
		)
		c.notify(snap, &step)
		return false
	}

	snap = c.state
	c.mu.Unlock()

	if span != nil {
		span.SetStatus(codes.Error, message)
	}

	c.logger.Warn("step failed, continuing",
		"step_id", step.ID,
		"error", message,
		"consecutive_errors", snap.ConsecutiveErrors,
	)
	c.notify(snap, &step)
	return true
}

// finalizeEntryLocked settles the history entry at the given index.
// Must be called with the lock held.
func (c *Controller) finalizeEntryLocked(index int, status HistoryStatus, completedAt time.Time, tokens int, message string) {
	if index < 0 || index >= len(c.history) {
		return
	}
	entry := c.history[index]
	entry.Status = status
	entry.CompletedAt = &completedAt
	entry.TokensUsed = tokens
	entry.Error = message
	c.history[index] = entry
}

// invokeExecutor races the step executor against the step timeout. The
// timer winning synthesizes a failure result; the executor's eventual
// settlement is discarded (the buffered channel keeps the goroutine from
// leaking). Panics surface as unexpected errors.
func (c *Controller) invokeExecutor(ctx context.Context, step plan.Step, timeout time.Duration) (StepResult, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result StepResult
		err    error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("step executor panic: %v", r)}
			}
		}()
		result, err := c.executor(stepCtx, step, step.Index)
		resultCh <- outcome{result: result, err: err}
	}()

	select {
	case out := <-resultCh:
		return out.result, out.err
	case <-stepCtx.Done():
		message := timeoutErrorMessage
		if errors.Is(stepCtx.Err(), context.Canceled) {
			message = "step execution cancelled"
		}
		return StepResult{Success: false, TokensUsed: 0, Error: message}, nil
	}
}

// notify invokes the progress observer with a state snapshot. Observers run
// synchronously and are never awaited; panics are their caller's problem.
func (c *Controller) notify(state State, step *plan.Step) {
	if c.observer == nil {
		return
	}
	c.observer(state, step)
}
