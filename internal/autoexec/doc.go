// Package autoexec implements the autonomous multi-step plan execution
// engine: a Controller that takes an approved, ordered plan and drives its
// steps without per-step human approval, while enforcing safety budgets and
// pausing automatically before dangerous steps.
//
// # Execution model
//
// The Controller owns a control loop that advances one step at a time.
// Before each iteration it evaluates, in priority order: run inactive or
// paused (exit silently), step ceiling reached, token budget reached, no
// pending step left (all three end the run), then selects the
// lowest-indexed pending step. The ConfirmationGate combines the danger
// classifier's categories with the configured policy; a gated step awaits
// the injected ConfirmationPrompter, and a denial (or the absence of a
// prompter) pauses the run without ending it.
//
// Step execution races the injected StepExecutor against the configured
// step timeout. The timer winning synthesizes a failure; the executor's
// eventual result is discarded. Expected failures count toward the
// consecutive-error threshold and the loop continues to the next pending
// step; unexpected errors and panics escalate straight to the
// error-threshold pause.
//
// # Concurrency
//
// Scheduling is single-flight: at most one loop goroutine and one step are
// ever in flight, enforced by the controller's own loop-ownership flag.
// Pause and Stop are cooperative and take effect after an in-flight race
// resolves. All controller-owned state is mutex-guarded; callers read value
// snapshots via Snapshot, History, Stats, and Config.
//
// # Error policy
//
// No control method returns an error or panics across the public boundary.
// Precondition violations log warnings and no-op; all failure detail
// surfaces through State.LastError, State.PauseReason, and the run history.
package autoexec
