package autoexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/plan"
	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// approvedPlan builds an approved plan with one pending step per description.
func approvedPlan(descriptions ...string) plan.Plan {
	now := time.Now()
	steps := make([]plan.Step, len(descriptions))
	for i, d := range descriptions {
		steps[i] = plan.Step{
			ID:          types.NewID(),
			Index:       i,
			Title:       fmt.Sprintf("step %d", i+1),
			Description: d,
			Status:      plan.StepStatusPending,
		}
	}
	return plan.Plan{
		ID:        types.NewID(),
		Name:      "test plan",
		Status:    plan.PlanStatusApproved,
		Steps:     steps,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTestStore(t *testing.T, p plan.Plan) *plan.MemoryStore {
	t.Helper()
	store := plan.NewMemoryStore()
	if err := store.SetPlan(p); err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}
	return store
}

func newTestController(t *testing.T, store plan.Store, exec StepExecutor, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	c, err := NewController(store, exec, opts...)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	return c
}

// succeedWith returns an executor that always succeeds consuming the given
// tokens.
func succeedWith(tokens int) StepExecutor {
	return func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
		return StepResult{Success: true, TokensUsed: tokens}, nil
	}
}

func runToCompletion(t *testing.T, c *Controller) {
	t.Helper()
	c.Start(context.Background())
	c.Wait()
}

// waitFor polls the controller snapshot until cond holds or the deadline
// expires. Used where Wait() cannot observe a loop respawned mid-run.
func waitFor(t *testing.T, c *Controller, cond func(State) bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond(c.Snapshot()) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("condition never reached, state: %+v", c.Snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestController_StepOrdering(t *testing.T) {
	p := approvedPlan("a", "b", "c", "d", "e")
	store := newTestStore(t, p)

	var mu sync.Mutex
	var executed []int
	exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
		mu.Lock()
		executed = append(executed, index)
		mu.Unlock()
		return StepResult{Success: true, TokensUsed: 10}, nil
	}

	c := newTestController(t, store, exec)
	runToCompletion(t, c)

	if len(executed) != 5 {
		t.Fatalf("executed %d steps, want 5", len(executed))
	}
	for i, idx := range executed {
		if idx != i {
			t.Errorf("execution order[%d] = %d, want %d", i, idx, i)
		}
	}

	history := c.History()
	if len(history) != 5 {
		t.Fatalf("history has %d entries, want 5", len(history))
	}
	for i, entry := range history {
		if entry.StepIndex != i {
			t.Errorf("history[%d].StepIndex = %d, want %d", i, entry.StepIndex, i)
		}
		if entry.Status != HistoryStatusSuccess {
			t.Errorf("history[%d].Status = %s, want success", i, entry.Status)
		}
		if entry.CompletedAt == nil {
			t.Errorf("history[%d].CompletedAt is nil after run", i)
		}
	}

	state := c.Snapshot()
	if state.PauseReason != PauseReasonPlanComplete {
		t.Errorf("PauseReason = %s, want %s", state.PauseReason, PauseReasonPlanComplete)
	}
	if state.IsAutoExecuting {
		t.Error("IsAutoExecuting = true after plan completion, want false")
	}
}

func TestController_SingleInFlight(t *testing.T) {
	p := approvedPlan("a", "b", "c", "d", "e", "f", "g", "h")
	store := newTestStore(t, p)

	var inFlight, maxInFlight int32
	exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxInFlight)
			if n <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return StepResult{Success: true, TokensUsed: 1}, nil
	}

	c := newTestController(t, store, exec)
	runToCompletion(t, c)

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Errorf("max concurrent executions = %d, want 1", got)
	}
}

func TestController_MaxStepsEnforcement(t *testing.T) {
	p := approvedPlan("a", "b", "c", "d", "e")
	store := newTestStore(t, p)

	cfg := DefaultConfig()
	cfg.MaxSteps = 2

	c := newTestController(t, store, succeedWith(10), WithConfig(cfg))
	runToCompletion(t, c)

	state := c.Snapshot()
	if state.PauseReason != PauseReasonMaxSteps {
		t.Errorf("PauseReason = %s, want %s", state.PauseReason, PauseReasonMaxSteps)
	}
	if state.StepsExecuted != 2 {
		t.Errorf("StepsExecuted = %d, want exactly 2", state.StepsExecuted)
	}
	if state.IsAutoExecuting {
		t.Error("IsAutoExecuting = true, want false (max steps ends the run)")
	}

	current, _ := store.Current()
	if current.PendingSteps() != 3 {
		t.Errorf("pending steps = %d, want 3", current.PendingSteps())
	}
}

func TestController_TokenBudgetEnforcement(t *testing.T) {
	p := approvedPlan("a", "b", "c")
	store := newTestStore(t, p)

	cfg := DefaultConfig()
	cfg.MaxTotalTokens = 100

	c := newTestController(t, store, succeedWith(51), WithConfig(cfg))
	runToCompletion(t, c)

	state := c.Snapshot()
	if state.PauseReason != PauseReasonTokenBudget {
		t.Errorf("PauseReason = %s, want %s", state.PauseReason, PauseReasonTokenBudget)
	}
	if state.StepsExecuted != 2 {
		t.Errorf("StepsExecuted = %d, want 2", state.StepsExecuted)
	}
	if state.TotalTokensUsed != 102 {
		t.Errorf("TotalTokensUsed = %d, want 102", state.TotalTokensUsed)
	}
	if state.IsAutoExecuting {
		t.Error("IsAutoExecuting = true, want false (token budget ends the run)")
	}
}

func TestController_ErrorThreshold(t *testing.T) {
	p := approvedPlan("a", "b", "c", "d")
	store := newTestStore(t, p)

	cfg := DefaultConfig()
	cfg.ErrorThreshold = 2

	exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
		return StepResult{Success: false, Error: "boom"}, nil
	}

	c := newTestController(t, store, exec, WithConfig(cfg))
	runToCompletion(t, c)

	state := c.Snapshot()
	if state.PauseReason != PauseReasonErrorThreshold {
		t.Errorf("PauseReason = %s, want %s", state.PauseReason, PauseReasonErrorThreshold)
	}
	if state.ConsecutiveErrors != 2 {
		t.Errorf("ConsecutiveErrors = %d, want 2", state.ConsecutiveErrors)
	}
	if state.IsAutoExecuting {
		t.Error("IsAutoExecuting = true, want false")
	}
	if state.LastError != "boom" {
		t.Errorf("LastError = %q, want %q", state.LastError, "boom")
	}
	if got := len(c.History()); got != 2 {
		t.Errorf("history has %d entries, want 2 (run stops at the threshold)", got)
	}
}

func TestController_SuccessResetsConsecutiveErrors(t *testing.T) {
	// fail, fail, success, fail, fail with threshold 3: the success resets
	// the streak, so the run reaches plan completion, never the threshold.
	p := approvedPlan("a", "b", "c", "d", "e")
	store := newTestStore(t, p)

	cfg := DefaultConfig()
	cfg.ErrorThreshold = 3

	outcomes := []bool{false, false, true, false, false}
	var calls int32
	exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
		n := atomic.AddInt32(&calls, 1)
		if outcomes[n-1] {
			return StepResult{Success: true, TokensUsed: 20}, nil
		}
		return StepResult{Success: false, Error: "transient"}, nil
	}

	c := newTestController(t, store, exec, WithConfig(cfg))
	runToCompletion(t, c)

	state := c.Snapshot()
	if state.PauseReason != PauseReasonPlanComplete {
		t.Fatalf("PauseReason = %s, want %s", state.PauseReason, PauseReasonPlanComplete)
	}
	if state.ConsecutiveErrors != 2 {
		t.Errorf("ConsecutiveErrors = %d, want 2 (only the trailing streak counts)", state.ConsecutiveErrors)
	}
	if state.StepsExecuted != 1 {
		t.Errorf("StepsExecuted = %d, want 1 (only successes count)", state.StepsExecuted)
	}
}

func TestController_FailedStepIsNotRetried(t *testing.T) {
	p := approvedPlan("a", "b", "c")
	store := newTestStore(t, p)

	cfg := DefaultConfig()
	cfg.ErrorThreshold = 10

	var mu sync.Mutex
	attempts := make(map[types.ID]int)
	exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
		mu.Lock()
		attempts[step.ID]++
		mu.Unlock()
		return StepResult{Success: false, Error: "always fails"}, nil
	}

	c := newTestController(t, store, exec, WithConfig(cfg))
	runToCompletion(t, c)

	state := c.Snapshot()
	if state.PauseReason != PauseReasonPlanComplete {
		t.Fatalf("PauseReason = %s, want %s", state.PauseReason, PauseReasonPlanComplete)
	}
	mu.Lock()
	defer mu.Unlock()
	for id, n := range attempts {
		if n != 1 {
			t.Errorf("step %s attempted %d times, want 1", id, n)
		}
	}
	if len(attempts) != 3 {
		t.Errorf("attempted %d distinct steps, want 3", len(attempts))
	}
}

func TestController_PauseResumeIdempotence(t *testing.T) {
	t.Run("pause twice equals pause once", func(t *testing.T) {
		store := newTestStore(t, approvedPlan("a"))
		c := newTestController(t, store, succeedWith(1))

		c.Pause()
		first := c.Snapshot()
		c.Pause()
		second := c.Snapshot()

		if first != second {
			t.Errorf("state after second pause %+v differs from first %+v", second, first)
		}
		if !second.IsPaused || second.PauseReason != PauseReasonUserRequested {
			t.Errorf("unexpected paused state: %+v", second)
		}
	})

	t.Run("resume while not paused is a no-op", func(t *testing.T) {
		store := newTestStore(t, approvedPlan("a"))
		c := newTestController(t, store, succeedWith(1))

		before := c.Snapshot()
		c.Resume(context.Background())
		after := c.Snapshot()

		if before != after {
			t.Errorf("resume on non-paused controller changed state: %+v -> %+v", before, after)
		}
	})
}

func TestController_DangerousActionGate(t *testing.T) {
	t.Run("denied confirmation pauses without reaching the executor", func(t *testing.T) {
		store := newTestStore(t, approvedPlan("git push --force origin main"))

		var executed int32
		exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
			atomic.AddInt32(&executed, 1)
			return StepResult{Success: true}, nil
		}
		prompter := func(ctx context.Context, step plan.Step, reason string) (bool, error) {
			return false, nil
		}

		c := newTestController(t, store, exec, WithPrompter(prompter))
		runToCompletion(t, c)

		if atomic.LoadInt32(&executed) != 0 {
			t.Error("executor ran despite denied confirmation")
		}
		state := c.Snapshot()
		if state.PauseReason != PauseReasonDangerousAction {
			t.Errorf("PauseReason = %s, want %s", state.PauseReason, PauseReasonDangerousAction)
		}
		if !state.IsAutoExecuting {
			t.Error("IsAutoExecuting = false; a dangerous-action pause must keep the run resumable")
		}
	})

	t.Run("approval on resume lets the step through", func(t *testing.T) {
		store := newTestStore(t, approvedPlan("git push --force origin main"))

		var executed int32
		exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
			atomic.AddInt32(&executed, 1)
			return StepResult{Success: true, TokensUsed: 5}, nil
		}
		var prompts int32
		prompter := func(ctx context.Context, step plan.Step, reason string) (bool, error) {
			return atomic.AddInt32(&prompts, 1) > 1, nil
		}

		c := newTestController(t, store, exec, WithPrompter(prompter))
		runToCompletion(t, c)

		if atomic.LoadInt32(&executed) != 0 {
			t.Fatal("executor ran before approval")
		}

		c.Resume(context.Background())
		c.Wait()

		if atomic.LoadInt32(&executed) != 1 {
			t.Errorf("executor ran %d times after approval, want 1", executed)
		}
		state := c.Snapshot()
		if state.PauseReason != PauseReasonPlanComplete {
			t.Errorf("PauseReason = %s, want %s", state.PauseReason, PauseReasonPlanComplete)
		}
	})

	t.Run("no prompter means auto-pause", func(t *testing.T) {
		store := newTestStore(t, approvedPlan("rm -rf /srv/data"))

		var executed int32
		exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
			atomic.AddInt32(&executed, 1)
			return StepResult{Success: true}, nil
		}

		c := newTestController(t, store, exec)
		runToCompletion(t, c)

		if atomic.LoadInt32(&executed) != 0 {
			t.Error("executor ran with no prompter configured")
		}
		if got := c.Snapshot().PauseReason; got != PauseReasonDangerousAction {
			t.Errorf("PauseReason = %s, want %s", got, PauseReasonDangerousAction)
		}
	})

	t.Run("high token estimate requires confirmation", func(t *testing.T) {
		p := approvedPlan("write documentation")
		p.Steps[0].EstimatedTokens = 6000
		store := newTestStore(t, p)

		var executed int32
		exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
			atomic.AddInt32(&executed, 1)
			return StepResult{Success: true}, nil
		}

		c := newTestController(t, store, exec)
		runToCompletion(t, c)

		if atomic.LoadInt32(&executed) != 0 {
			t.Error("executor ran despite token estimate above the ceiling")
		}
	})
}

func TestController_TimeoutSynthesizesFailure(t *testing.T) {
	store := newTestStore(t, approvedPlan("slow step"))

	cfg := DefaultConfig()
	cfg.StepTimeout = 30 * time.Millisecond
	cfg.ErrorThreshold = 2

	exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
		<-ctx.Done()
		return StepResult{Success: true, TokensUsed: 999}, nil
	}

	c := newTestController(t, store, exec, WithConfig(cfg))

	start := time.Now()
	runToCompletion(t, c)
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Errorf("run took %s; the timeout race should settle near 30ms", elapsed)
	}

	history := c.History()
	if len(history) != 1 {
		t.Fatalf("history has %d entries, want 1", len(history))
	}
	if history[0].Status != HistoryStatusError {
		t.Errorf("history status = %s, want error", history[0].Status)
	}
	if history[0].Error != "Step execution timeout" {
		t.Errorf("history error = %q, want %q", history[0].Error, "Step execution timeout")
	}
	if history[0].TokensUsed != 0 {
		t.Errorf("TokensUsed = %d, want 0 for a timed-out step", history[0].TokensUsed)
	}

	state := c.Snapshot()
	if state.LastError != "Step execution timeout" {
		t.Errorf("LastError = %q, want %q", state.LastError, "Step execution timeout")
	}
	if state.PauseReason != PauseReasonPlanComplete {
		t.Errorf("PauseReason = %s, want %s (single failure below the threshold)", state.PauseReason, PauseReasonPlanComplete)
	}
}

func TestController_UnexpectedErrorEscalates(t *testing.T) {
	t.Run("returned error", func(t *testing.T) {
		store := newTestStore(t, approvedPlan("a", "b"))

		cfg := DefaultConfig()
		cfg.ErrorThreshold = 5

		exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
			return StepResult{}, errors.New("connection reset")
		}

		c := newTestController(t, store, exec, WithConfig(cfg))
		runToCompletion(t, c)

		state := c.Snapshot()
		if state.PauseReason != PauseReasonErrorThreshold {
			t.Errorf("PauseReason = %s, want %s", state.PauseReason, PauseReasonErrorThreshold)
		}
		if state.IsAutoExecuting {
			t.Error("IsAutoExecuting = true, want false (escalation ends the run)")
		}
		if state.ConsecutiveErrors != 1 {
			t.Errorf("ConsecutiveErrors = %d, want 1 (escalation ignores the threshold)", state.ConsecutiveErrors)
		}
		if state.LastError != "connection reset" {
			t.Errorf("LastError = %q, want %q", state.LastError, "connection reset")
		}
	})

	t.Run("panic", func(t *testing.T) {
		store := newTestStore(t, approvedPlan("a", "b"))

		cfg := DefaultConfig()
		cfg.ErrorThreshold = 5

		exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
			panic("nil pointer somewhere deep")
		}

		c := newTestController(t, store, exec, WithConfig(cfg))
		runToCompletion(t, c)

		state := c.Snapshot()
		if state.PauseReason != PauseReasonErrorThreshold {
			t.Errorf("PauseReason = %s, want %s", state.PauseReason, PauseReasonErrorThreshold)
		}
		if state.LastError == "" {
			t.Error("LastError is empty after executor panic")
		}
	})
}

func TestController_EndToEndScenario(t *testing.T) {
	// stepA succeeds (100 tokens), stepB fails ("disk full"), stepC
	// succeeds (50 tokens). The failure is tolerated and the run finishes
	// with plan_complete.
	p := approvedPlan("step a", "step b", "step c")
	store := newTestStore(t, p)

	cfg := DefaultConfig()
	cfg.ErrorThreshold = 2
	cfg.MaxSteps = 10
	cfg.MaxTotalTokens = 10_000

	exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
		switch index {
		case 0:
			return StepResult{Success: true, TokensUsed: 100}, nil
		case 1:
			return StepResult{Success: false, Error: "disk full"}, nil
		default:
			return StepResult{Success: true, TokensUsed: 50}, nil
		}
	}

	c := newTestController(t, store, exec, WithConfig(cfg))
	runToCompletion(t, c)

	state := c.Snapshot()
	if state.StepsExecuted != 2 {
		t.Errorf("StepsExecuted = %d, want 2", state.StepsExecuted)
	}
	if state.TotalTokensUsed != 150 {
		t.Errorf("TotalTokensUsed = %d, want 150", state.TotalTokensUsed)
	}
	if state.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0 (stepC reset the streak)", state.ConsecutiveErrors)
	}
	if state.PauseReason != PauseReasonPlanComplete {
		t.Errorf("PauseReason = %s, want %s", state.PauseReason, PauseReasonPlanComplete)
	}
	if state.IsAutoExecuting {
		t.Error("IsAutoExecuting = true, want false")
	}

	history := c.History()
	wantStatuses := []HistoryStatus{HistoryStatusSuccess, HistoryStatusError, HistoryStatusSuccess}
	if len(history) != len(wantStatuses) {
		t.Fatalf("history has %d entries, want %d", len(history), len(wantStatuses))
	}
	for i, want := range wantStatuses {
		if history[i].Status != want {
			t.Errorf("history[%d].Status = %s, want %s", i, history[i].Status, want)
		}
	}

	current, _ := store.Current()
	wantStepStatuses := []plan.StepStatus{plan.StepStatusComplete, plan.StepStatusFailed, plan.StepStatusComplete}
	for i, want := range wantStepStatuses {
		if current.Steps[i].Status != want {
			t.Errorf("step[%d].Status = %s, want %s", i, current.Steps[i].Status, want)
		}
	}
	if current.Steps[1].Error != "disk full" {
		t.Errorf("step[1].Error = %q, want %q", current.Steps[1].Error, "disk full")
	}
}

func TestController_StartPreconditions(t *testing.T) {
	t.Run("no plan loaded", func(t *testing.T) {
		store := plan.NewMemoryStore()
		c := newTestController(t, store, succeedWith(1))

		c.Start(context.Background())
		c.Wait()

		state := c.Snapshot()
		if state.IsAutoExecuting || state.StepsExecuted != 0 {
			t.Errorf("start without a plan mutated state: %+v", state)
		}
	})

	t.Run("plan not approved", func(t *testing.T) {
		p := approvedPlan("a")
		p.Status = plan.PlanStatusPendingApproval
		store := newTestStore(t, p)

		var executed int32
		exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
			atomic.AddInt32(&executed, 1)
			return StepResult{Success: true}, nil
		}

		c := newTestController(t, store, exec)
		c.Start(context.Background())
		c.Wait()

		if atomic.LoadInt32(&executed) != 0 {
			t.Error("executor ran for an unapproved plan")
		}
	})

	t.Run("nil store or executor rejected at construction", func(t *testing.T) {
		if _, err := NewController(nil, succeedWith(1)); err == nil {
			t.Error("NewController accepted a nil store")
		}
		if _, err := NewController(plan.NewMemoryStore(), nil); err == nil {
			t.Error("NewController accepted a nil executor")
		}
	})
}

func TestController_StopPreservesCounters(t *testing.T) {
	store := newTestStore(t, approvedPlan("a", "b"))
	c := newTestController(t, store, succeedWith(25))
	runToCompletion(t, c)

	c.Stop()
	state := c.Snapshot()
	if state.IsAutoExecuting || state.IsPaused || state.PauseReason != "" {
		t.Errorf("stop left run flags set: %+v", state)
	}
	if state.StepsExecuted != 2 || state.TotalTokensUsed != 50 {
		t.Errorf("stop must preserve counters, got steps=%d tokens=%d", state.StepsExecuted, state.TotalTokensUsed)
	}

	c.Reset()
	state = c.Snapshot()
	if state != (State{}) {
		t.Errorf("reset left state populated: %+v", state)
	}
	if len(c.History()) != 0 {
		t.Error("reset left history populated")
	}
}

func TestController_ConfigMutators(t *testing.T) {
	store := newTestStore(t, approvedPlan("a"))
	c := newTestController(t, store, succeedWith(1))

	c.SetMaxSteps(42)
	c.SetTokenBudget(9000)
	c.SetAutoApprove(true)

	cfg := c.Config()
	if cfg.MaxSteps != 42 {
		t.Errorf("MaxSteps = %d, want 42", cfg.MaxSteps)
	}
	if cfg.MaxTotalTokens != 9000 {
		t.Errorf("MaxTotalTokens = %d, want 9000", cfg.MaxTotalTokens)
	}
	if cfg.PauseOnDangerousActions {
		t.Error("SetAutoApprove(true) must disable PauseOnDangerousActions")
	}

	// Invalid values are ignored.
	c.SetMaxSteps(0)
	c.SetTokenBudget(-1)
	cfg = c.Config()
	if cfg.MaxSteps != 42 || cfg.MaxTotalTokens != 9000 {
		t.Errorf("invalid mutator values were applied: %+v", cfg)
	}

	if err := c.UpdateConfig(Config{}); err == nil {
		t.Error("UpdateConfig accepted an invalid config")
	}
}

func TestController_AutoApproveSkipsGate(t *testing.T) {
	store := newTestStore(t, approvedPlan("git push --force origin main"))

	var executed int32
	exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
		atomic.AddInt32(&executed, 1)
		return StepResult{Success: true}, nil
	}

	cfg := DefaultConfig()
	cfg.PauseOnDangerousActions = false

	c := newTestController(t, store, exec, WithConfig(cfg))
	runToCompletion(t, c)

	if atomic.LoadInt32(&executed) != 1 {
		t.Errorf("executor ran %d times, want 1 (gate disabled)", executed)
	}
	if got := c.Snapshot().PauseReason; got != PauseReasonPlanComplete {
		t.Errorf("PauseReason = %s, want %s", got, PauseReasonPlanComplete)
	}
}

func TestController_ExternallySkippedStepIsNotExecuted(t *testing.T) {
	p := approvedPlan("a", "b")
	store := newTestStore(t, p)
	if err := store.MarkSkipped(p.Steps[0].ID, "manual skip"); err != nil {
		t.Fatalf("MarkSkipped failed: %v", err)
	}

	var mu sync.Mutex
	var executed []int
	exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
		mu.Lock()
		executed = append(executed, index)
		mu.Unlock()
		return StepResult{Success: true}, nil
	}

	c := newTestController(t, store, exec)
	runToCompletion(t, c)

	mu.Lock()
	defer mu.Unlock()
	if len(executed) != 1 || executed[0] != 1 {
		t.Errorf("executed indexes = %v, want [1]", executed)
	}
}

func TestController_ObserverSeesTransitions(t *testing.T) {
	store := newTestStore(t, approvedPlan("a"))

	var mu sync.Mutex
	var snapshots []State
	observer := func(state State, step *plan.Step) {
		mu.Lock()
		snapshots = append(snapshots, state)
		mu.Unlock()
	}

	c := newTestController(t, store, succeedWith(7), WithObserver(observer))
	runToCompletion(t, c)

	mu.Lock()
	defer mu.Unlock()
	if len(snapshots) < 3 {
		t.Fatalf("observer saw %d transitions, want at least start, step start, step end", len(snapshots))
	}
	last := snapshots[len(snapshots)-1]
	if last.PauseReason != PauseReasonPlanComplete {
		t.Errorf("final observed PauseReason = %s, want %s", last.PauseReason, PauseReasonPlanComplete)
	}

	sawInFlight := false
	for _, s := range snapshots {
		if s.CurrentStepStartTime != nil {
			sawInFlight = true
		}
	}
	if !sawInFlight {
		t.Error("observer never saw an in-flight step snapshot")
	}
}

func TestController_ResumeDuringPauseNotification(t *testing.T) {
	// Resume arrives from inside the dangerous_action pause notification,
	// exactly in the gap between the loop deciding to exit and its goroutine
	// finishing. The controller must still re-enter the loop: the run ends
	// plan_complete instead of sitting active-but-loopless forever.
	store := newTestStore(t, approvedPlan("git push --force origin main"))

	var executed int32
	exec := func(ctx context.Context, step plan.Step, index int) (StepResult, error) {
		atomic.AddInt32(&executed, 1)
		return StepResult{Success: true, TokensUsed: 5}, nil
	}
	var prompts int32
	prompter := func(ctx context.Context, step plan.Step, reason string) (bool, error) {
		return atomic.AddInt32(&prompts, 1) > 1, nil
	}

	var c *Controller
	var resumed int32
	observer := func(state State, step *plan.Step) {
		if state.IsPaused && state.PauseReason == PauseReasonDangerousAction &&
			atomic.CompareAndSwapInt32(&resumed, 0, 1) {
			c.Resume(context.Background())
		}
	}

	c = newTestController(t, store, exec, WithPrompter(prompter), WithObserver(observer))
	c.Start(context.Background())

	waitFor(t, c, func(s State) bool { return s.PauseReason == PauseReasonPlanComplete })

	if atomic.LoadInt32(&executed) != 1 {
		t.Errorf("executor ran %d times, want 1 after the in-notification resume", executed)
	}
	state := c.Snapshot()
	if state.IsAutoExecuting {
		t.Error("IsAutoExecuting = true after plan completion, want false")
	}
}

// countingStore counts the controller's MarkStarted attempts.
type countingStore struct {
	*plan.MemoryStore
	markStartedCalls int32
}

func (s *countingStore) MarkStarted(id types.ID) error {
	atomic.AddInt32(&s.markStartedCalls, 1)
	return s.MemoryStore.MarkStarted(id)
}

func TestController_ExternalInFlightStepBacksOff(t *testing.T) {
	p := approvedPlan("a", "b")
	store := &countingStore{MemoryStore: plan.NewMemoryStore()}
	if err := store.SetPlan(p); err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}

	// An external actor holds the first step in progress before the run
	// starts, blocking the single in-flight slot.
	if err := store.MemoryStore.MarkStarted(p.Steps[0].ID); err != nil {
		t.Fatalf("external MarkStarted failed: %v", err)
	}

	c := newTestController(t, store, succeedWith(1))
	c.Start(context.Background())

	// Let the loop collide with the held step a few times, then settle it.
	time.Sleep(350 * time.Millisecond)
	if err := store.MemoryStore.MarkCompleted(p.Steps[0].ID, 10); err != nil {
		t.Fatalf("external MarkCompleted failed: %v", err)
	}
	c.Wait()

	state := c.Snapshot()
	if state.PauseReason != PauseReasonPlanComplete {
		t.Errorf("PauseReason = %s, want %s", state.PauseReason, PauseReasonPlanComplete)
	}
	if state.StepsExecuted != 1 {
		t.Errorf("StepsExecuted = %d, want 1 (only the second step runs here)", state.StepsExecuted)
	}
	if calls := atomic.LoadInt32(&store.markStartedCalls); calls > 10 {
		t.Errorf("MarkStarted attempted %d times while the slot was held, want a backed-off handful", calls)
	}
}

func TestController_TracerRecordsStepSpans(t *testing.T) {
	store := newTestStore(t, approvedPlan("a", "b"))

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	c := newTestController(t, store, succeedWith(3), WithTracer(provider.Tracer("autoexec-test")))
	runToCompletion(t, c)

	spans := recorder.Ended()
	stepSpans := 0
	for _, span := range spans {
		if span.Name() == "step.execute" {
			stepSpans++
		}
	}
	if stepSpans != 2 {
		t.Errorf("recorded %d step.execute spans, want 2", stepSpans)
	}
}
