// Package plan defines the plan and step data model and the Store contract
// the execution engine runs against.
//
// # Plans and Steps
//
// A Plan is an ordered collection of steps representing one unit of work to
// be executed autonomously once approved. Plans move through a fixed status
// state machine (draft -> pending_approval -> approved -> executing ->
// completed/failed, with rejection as the alternate approval outcome); see
// PlanStatus.CanTransitionTo.
//
// Steps are totally ordered by Index and carry their own status state
// machine (pending -> in-progress -> complete/failed, pending -> skipped).
// At most one step may be in-progress at a time across the whole plan.
//
// # Store
//
// Store is the single source of truth for step state during execution. The
// engine selects the lowest-indexed pending step via NextPending and records
// transitions via MarkStarted/MarkCompleted/MarkFailed. External callers may
// mutate the same plan (manual skip), so MarkStarted re-validates that the
// step is still pending and that nothing else is in flight.
//
// MemoryStore is the in-process reference implementation. Plan files for the
// CLI are loaded with LoadFile.
package plan
