package domain

import (
	"fmt"
	"sync"
	"time"
)

type RequestState uint8

const (
	StateStarted RequestState = iota
	StatePoolsFetched
	StateRoutesGenerated
	StateQuoting
	StateOptimizing
	StateCompleted
	StateFailed
)

func (s RequestState) String() string {
	switch s {
	case StateStarted:
		return "Started"
	case StatePoolsFetched:
		return "PoolsFetched"
	case StateRoutesGenerated:
		return "RoutesGenerated"
	case StateQuoting:
		return "Quoting"
	case StateOptimizing:
		return "Optimizing"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

func (s RequestState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type StateTransition struct {
	From RequestState
	To   RequestState
	At   time.Time
}

// RequestTracker enforces the one-way lifecycle of a routing request.
// Non-terminal states advance strictly in order; Fail is allowed from any
// non-terminal state and records the stage where the error originated.
type RequestTracker struct {
	mu          sync.Mutex
	id          string
	state       RequestState
	failedAt    RequestState
	err         error
	transitions []StateTransition
	started     time.Time
}

func NewRequestTracker(id string) *RequestTracker {
	return &RequestTracker{
		id:      id,
		state:   StateStarted,
		started: time.Now(),
	}
}

func (t *RequestTracker) ID() string {
	return t.id
}

func (t *RequestTracker) State() RequestState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Advance moves to next, which must be the immediate successor of the current state.
func (t *RequestTracker) Advance(next RequestState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Terminal() {
		return fmt.Errorf("request %s: cannot leave terminal state %s", t.id, t.state)
	}
	if next == StateFailed || next != t.state+1 {
		return fmt.Errorf("request %s: illegal transition %s -> %s", t.id, t.state, next)
	}
	t.record(next)
	return nil
}

// Fail moves the request to Failed and returns the wrapped RoutingError.
// Calling Fail on an already failed request returns the original error.
func (t *RequestTracker) Fail(err error) *RoutingError {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateFailed {
		return &RoutingError{RequestID: t.id, State: t.failedAt, Err: t.err}
	}
	if t.state == StateCompleted {
		return &RoutingError{RequestID: t.id, State: StateCompleted, Err: err}
	}
	t.failedAt = t.state
	t.err = err
	t.record(StateFailed)
	return &RoutingError{RequestID: t.id, State: t.failedAt, Err: err}
}

func (t *RequestTracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *RequestTracker) Transitions() []StateTransition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StateTransition, len(t.transitions))
	copy(out, t.transitions)
	return out
}

func (t *RequestTracker) Elapsed() time.Duration {
	return time.Since(t.started)
}

func (t *RequestTracker) record(next RequestState) {
	t.transitions = append(t.transitions, StateTransition{From: t.state, To: next, At: time.Now()})
	t.state = next
}
