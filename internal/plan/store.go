package plan

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/types"
)

var (
	// ErrNoPlan is returned when a store operation requires a plan but none is loaded.
	ErrNoPlan = errors.New("no plan loaded")

	// ErrStepNotFound is returned when the referenced step does not exist in the plan.
	ErrStepNotFound = errors.New("step not found")

	// ErrStepNotPending is returned when a step cannot be started or skipped
	// because it is no longer pending.
	ErrStepNotPending = errors.New("step is not pending")

	// ErrStepNotInProgress is returned when a completion or failure is recorded
	// for a step that is not currently in progress.
	ErrStepNotInProgress = errors.New("step is not in progress")

	// ErrStepInFlight is returned when a step cannot be started because
	// another step is already in progress. At most one step may be
	// in progress across the whole plan.
	ErrStepInFlight = errors.New("another step is already in progress")
)

// Store is the execution engine's view of the plan state. The store is the
// single source of truth for step status; the engine reads the next pending
// step from it and records step transitions through it.
//
// Implementations must be safe for concurrent use: the engine mutates step
// status from its control loop while external callers (UI, manual skip) may
// read or mutate the same plan.
type Store interface {
	// Current returns a copy of the loaded plan.
	// The second return value is false when no plan is loaded.
	Current() (Plan, bool)

	// NextPending returns a copy of the lowest-indexed step whose status is
	// pending. The second return value is false when no pending step remains.
	NextPending() (Step, bool)

	// MarkStarted transitions a pending step to in-progress. It fails when
	// the step is no longer pending or another step is already in progress,
	// letting callers tolerate the step disappearing between selection and
	// execution.
	MarkStarted(id types.ID) error

	// MarkCompleted transitions an in-progress step to complete and records
	// its actual token usage.
	MarkCompleted(id types.ID, actualTokens int) error

	// MarkFailed transitions an in-progress step to failed and records the
	// failure message.
	MarkFailed(id types.ID, message string) error

	// MarkSkipped transitions a pending step to skipped. Used by external
	// callers (manual skip), never by the engine itself.
	MarkSkipped(id types.ID, reason string) error
}

// MemoryStore is an in-memory Store implementation. It keeps the plan's
// steps sorted by index and guards all access with a read-write mutex.
type MemoryStore struct {
	mu   sync.RWMutex
	plan *Plan
}

// NewMemoryStore creates an empty MemoryStore with no plan loaded.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SetPlan loads a plan into the store, replacing any previous plan.
// Steps are sorted by index; steps with duplicate IDs are rejected.
// This method is thread-safe and uses a write lock.
func (s *MemoryStore) SetPlan(p Plan) error {
	seen := make(map[types.ID]struct{}, len(p.Steps))
	for i := range p.Steps {
		if p.Steps[i].ID.IsZero() {
			return fmt.Errorf("step %d: %w", i, ErrStepNotFound)
		}
		if _, dup := seen[p.Steps[i].ID]; dup {
			return fmt.Errorf("duplicate step ID %s", p.Steps[i].ID)
		}
		seen[p.Steps[i].ID] = struct{}{}
	}

	sort.SliceStable(p.Steps, func(i, j int) bool {
		return p.Steps[i].Index < p.Steps[j].Index
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	s.plan = &p
	return nil
}

// Clear removes the loaded plan.
// This method is thread-safe and uses a write lock.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.plan = nil
}

// SetStatus transitions the plan status, enforcing the plan status state
// machine. This method is thread-safe and uses a write lock.
func (s *MemoryStore) SetStatus(target PlanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plan == nil {
		return ErrNoPlan
	}
	if !s.plan.Status.CanTransitionTo(target) {
		return fmt.Errorf("invalid plan status transition %s -> %s", s.plan.Status, target)
	}

	s.plan.Status = target
	s.plan.UpdatedAt = time.Now()
	return nil
}

// Current returns a copy of the loaded plan.
// This method is thread-safe and uses a read lock.
func (s *MemoryStore) Current() (Plan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.plan == nil {
		return Plan{}, false
	}
	return s.copyPlanLocked(), true
}

// NextPending returns a copy of the lowest-indexed pending step.
// This method is thread-safe and uses a read lock.
func (s *MemoryStore) NextPending() (Step, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.plan == nil {
		return Step{}, false
	}

	// Steps are kept sorted by index, so the first pending step wins.
	for i := range s.plan.Steps {
		if s.plan.Steps[i].Status == StepStatusPending {
			return copyStep(s.plan.Steps[i]), true
		}
	}
	return Step{}, false
}

// MarkStarted transitions a pending step to in-progress.
// This method is thread-safe and uses a write lock.
func (s *MemoryStore) MarkStarted(id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plan == nil {
		return ErrNoPlan
	}

	for i := range s.plan.Steps {
		if s.plan.Steps[i].Status == StepStatusInProgress {
			return fmt.Errorf("step %s: %w", s.plan.Steps[i].ID, ErrStepInFlight)
		}
	}

	step := s.findStepLocked(id)
	if step == nil {
		return fmt.Errorf("step %s: %w", id, ErrStepNotFound)
	}
	if step.Status != StepStatusPending {
		return fmt.Errorf("step %s has status %s: %w", id, step.Status, ErrStepNotPending)
	}

	now := time.Now()
	step.Status = StepStatusInProgress
	step.StartedAt = &now
	s.plan.UpdatedAt = now

	// First step starting moves an approved plan into executing.
	if s.plan.Status == PlanStatusApproved {
		s.plan.Status = PlanStatusExecuting
		s.plan.StartedAt = &now
	}

	return nil
}

// MarkCompleted transitions an in-progress step to complete and records
// its actual token usage. This method is thread-safe and uses a write lock.
func (s *MemoryStore) MarkCompleted(id types.ID, actualTokens int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plan == nil {
		return ErrNoPlan
	}

	step := s.findStepLocked(id)
	if step == nil {
		return fmt.Errorf("step %s: %w", id, ErrStepNotFound)
	}
	if step.Status != StepStatusInProgress {
		return fmt.Errorf("step %s has status %s: %w", id, step.Status, ErrStepNotInProgress)
	}

	now := time.Now()
	step.Status = StepStatusComplete
	step.ActualTokens = actualTokens
	step.CompletedAt = &now
	s.plan.UpdatedAt = now
	return nil
}

// MarkFailed transitions an in-progress step to failed and records the
// failure message. This method is thread-safe and uses a write lock.
func (s *MemoryStore) MarkFailed(id types.ID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plan == nil {
		return ErrNoPlan
	}

	step := s.findStepLocked(id)
	if step == nil {
		return fmt.Errorf("step %s: %w", id, ErrStepNotFound)
	}
	if step.Status != StepStatusInProgress {
		return fmt.Errorf("step %s has status %s: %w", id, step.Status, ErrStepNotInProgress)
	}

	now := time.Now()
	step.Status = StepStatusFailed
	step.Error = message
	step.CompletedAt = &now
	s.plan.UpdatedAt = now
	return nil
}

// MarkSkipped transitions a pending step to skipped with a reason.
// This method is thread-safe and uses a write lock.
func (s *MemoryStore) MarkSkipped(id types.ID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plan == nil {
		return ErrNoPlan
	}

	step := s.findStepLocked(id)
	if step == nil {
		return fmt.Errorf("step %s: %w", id, ErrStepNotFound)
	}
	if step.Status != StepStatusPending {
		return fmt.Errorf("step %s has status %s: %w", id, step.Status, ErrStepNotPending)
	}

	now := time.Now()
	step.Status = StepStatusSkipped
	step.Error = reason
	step.CompletedAt = &now
	s.plan.UpdatedAt = now
	return nil
}

// findStepLocked returns a pointer to the step with the given ID.
// Must be called with the lock held.
func (s *MemoryStore) findStepLocked(id types.ID) *Step {
	for i := range s.plan.Steps {
		if s.plan.Steps[i].ID == id {
			return &s.plan.Steps[i]
		}
	}
	return nil
}

// copyPlanLocked returns a deep copy of the loaded plan.
// Must be called with the lock held.
func (s *MemoryStore) copyPlanLocked() Plan {
	p := *s.plan
	p.Steps = make([]Step, len(s.plan.Steps))
	for i := range s.plan.Steps {
		p.Steps[i] = copyStep(s.plan.Steps[i])
	}
	return p
}

// copyStep returns a copy of the step with its metadata map cloned.
func copyStep(st Step) Step {
	out := st
	if st.Metadata != nil {
		out.Metadata = make(map[string]string, len(st.Metadata))
		for k, v := range st.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Ensure MemoryStore implements Store at compile time
var _ Store = (*MemoryStore)(nil)
