package autoexec

import (
	"time"

	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/types"
)

// HistoryStatus is the status of a single step attempt in the run history.
type HistoryStatus string

const (
	HistoryStatusRunning HistoryStatus = "running"
	HistoryStatusSuccess HistoryStatus = "success"
	HistoryStatusError   HistoryStatus = "error"
	HistoryStatusSkipped HistoryStatus = "skipped"
	HistoryStatusPaused  HistoryStatus = "paused"
)

// String returns the string representation of the history status.
func (s HistoryStatus) String() string {
	return string(s)
}

// HistoryEntry records one step attempt within a run. Entries are appended
// when the attempt starts and finalized in place (index lookup-and-replace)
// when it settles; they are never mutated afterwards.
type HistoryEntry struct {
	StepID    types.ID      `json:"step_id"`
	StepIndex int           `json:"step_index"`
	Title     string        `json:"title"`
	StartedAt time.Time     `json:"started_at"`
	// CompletedAt is nil while the attempt is still running.
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	TokensUsed  int           `json:"tokens_used"`
	Status      HistoryStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
}

// Duration returns the wall-clock duration of the attempt, or zero while it
// is still running.
func (e HistoryEntry) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// RunStats summarizes a run's history for reporting.
type RunStats struct {
	// Attempts is the number of settled step attempts.
	Attempts int `json:"attempts"`

	// Successes counts attempts that ended in success.
	Successes int `json:"successes"`

	// Failures counts attempts that ended in error.
	Failures int `json:"failures"`

	// TokensUsed is the total token spend across settled attempts.
	TokensUsed int `json:"tokens_used"`

	// SuccessRate is Successes/Attempts, 0 when there were no attempts.
	SuccessRate float64 `json:"success_rate"`

	// AverageDuration is the mean wall-clock duration of settled attempts.
	AverageDuration time.Duration `json:"average_duration"`
}

// summarize computes RunStats over the settled entries of a history.
// Entries still running are excluded.
func summarize(entries []HistoryEntry) RunStats {
	var stats RunStats
	var total time.Duration

	for _, e := range entries {
		if e.CompletedAt == nil {
			continue
		}
		stats.Attempts++
		stats.TokensUsed += e.TokensUsed
		total += e.Duration()

		switch e.Status {
		case HistoryStatusSuccess:
			stats.Successes++
		case HistoryStatusError:
			stats.Failures++
		}
	}

	if stats.Attempts > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.Attempts)
		stats.AverageDuration = total / time.Duration(stats.Attempts)
	}
	return stats
}
