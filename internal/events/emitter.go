// Package events bridges the execution controller's synchronous progress
// observer to channel-based subscribers such as the CLI renderer. Emission
// is non-blocking: slow subscribers drop events rather than stalling the
// control loop.
package events

import (
	"errors"
	"sync"
	"time"

	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/autoexec"
	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/plan"
	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/types"
)

// EventType identifies the type of execution event.
type EventType string

const (
	// EventRunStarted indicates a run has started.
	EventRunStarted EventType = "execution.started"

	// EventStepStarted indicates a step attempt is in flight.
	EventStepStarted EventType = "execution.step_started"

	// EventStepSettled indicates a step attempt finished (success or failure).
	EventStepSettled EventType = "execution.step_settled"

	// EventRunPaused indicates the run was suspended or ended with a reason.
	EventRunPaused EventType = "execution.paused"

	// EventRunStopped indicates the run returned to idle.
	EventRunStopped EventType = "execution.stopped"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Event is one observed execution state transition.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	State     autoexec.State `json:"state"`

	// Step is the step involved in the transition, nil for run-level events.
	Step *plan.Step `json:"step,omitempty"`
}

// ErrEmitterClosed is returned by Emit after Close.
var ErrEmitterClosed = errors.New("event emitter is closed")

// Emitter publishes execution events to subscribers. It is safe for
// concurrent use.
type Emitter struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	bufferSize  int
	closed      bool
}

// Option is a functional option for configuring an Emitter.
type Option func(*Emitter)

// WithBufferSize sets the buffer size for subscriber channels.
// Default is 64.
func WithBufferSize(size int) Option {
	return func(e *Emitter) {
		e.bufferSize = size
	}
}

// NewEmitter creates an Emitter with the given options.
func NewEmitter(opts ...Option) *Emitter {
	e := &Emitter{
		subscribers: make(map[string]chan Event),
		bufferSize:  64,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Emit publishes an event to all subscribers without blocking. Events are
// dropped for subscribers whose buffers are full, so one slow consumer
// cannot stall the control loop.
func (e *Emitter) Emit(event Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrEmitterClosed
	}

	for _, ch := range e.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, drop.
		}
	}
	return nil
}

// Subscribe registers a new subscriber and returns its event channel plus a
// cancel function. The cancel function must be called to release the
// subscription.
func (e *Emitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := types.NewID().String()
	ch := make(chan Event, e.bufferSize)

	if e.closed {
		close(ch)
		return ch, func() {}
	}

	e.subscribers[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close shuts down the emitter and every subscription.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	for id, ch := range e.subscribers {
		delete(e.subscribers, id)
		close(ch)
	}
	return nil
}

// Observer adapts the emitter into an autoexec.ProgressObserver, deriving
// the event type from the observed state transition.
func (e *Emitter) Observer() autoexec.ProgressObserver {
	return func(state autoexec.State, step *plan.Step) {
		_ = e.Emit(Event{
			Type:      classify(state, step),
			Timestamp: time.Now(),
			State:     state,
			Step:      step,
		})
	}
}

// classify derives an event type from a state snapshot and the step it
// concerns.
func classify(state autoexec.State, step *plan.Step) EventType {
	switch {
	case state.IsPaused || state.PauseReason != "":
		return EventRunPaused
	case step == nil && state.IsAutoExecuting:
		return EventRunStarted
	case step == nil:
		return EventRunStopped
	case state.CurrentStepStartTime != nil:
		return EventStepStarted
	default:
		return EventStepSettled
	}
}
