package registry

import (
	"sync"
	"time"
)

// BreakerState is the explicit circuit breaker state. Keeping it as an
// enumerated type (instead of a bool pair) makes illegal states
// unrepresentable and keeps the status endpoints honest.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker tracks consecutive upstream failures for one service.
// State is shared across all instances of the service: circuit breaking is
// about reachability of the service as a whole, not of a single instance.
type CircuitBreaker struct {
	name      string
	threshold int
	openFor   time.Duration

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	openedTill  time.Time

	now           func() time.Time
	onStateChange func(name string, open bool)
}

// BreakerSnapshot is a point-in-time copy of breaker state for status endpoints.
type BreakerSnapshot struct {
	State       string     `json:"state"`
	Failures    int        `json:"failures"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
}

func newCircuitBreaker(name string, threshold int, openFor time.Duration, onStateChange func(string, bool)) *CircuitBreaker {
	b := &CircuitBreaker{
		name:          name,
		threshold:     threshold,
		openFor:       openFor,
		now:           time.Now,
		onStateChange: onStateChange,
	}
	if b.onStateChange != nil {
		b.onStateChange(name, false)
	}
	return b
}

// Allow reports whether a request may pass through the breaker. While open it
// rejects until the cooldown elapses, then transitions to half-open and lets
// a trial request through.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return true
	}
	if b.now().Before(b.openedTill) {
		return false
	}
	b.state = StateHalfOpen
	b.notify(false)
	return true
}

// ReportSuccess closes the breaker and resets the failure counter.
// Idempotent on an already-closed breaker.
func (b *CircuitBreaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != StateClosed {
		b.state = StateClosed
		b.notify(false)
	}
}

// ReportFailure records one failed call. Reaching the threshold, or any
// failure while half-open, opens the breaker and re-arms the cooldown timer.
func (b *CircuitBreaker) ReportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
		b.openedTill = b.now().Add(b.openFor)
		b.failures = 0
		b.notify(true)
	}
}

// State returns the current state, accounting for an elapsed cooldown the
// same way Allow would (an open breaker past its deadline reads as half-open).
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && !b.now().Before(b.openedTill) {
		return StateHalfOpen
	}
	return b.state
}

func (b *CircuitBreaker) snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BreakerSnapshot{State: b.state.String(), Failures: b.failures}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailure = &t
	}
	return s
}

// notify must be called with b.mu held.
func (b *CircuitBreaker) notify(open bool) {
	if b.onStateChange != nil {
		b.onStateChange(b.name, open)
	}
}
