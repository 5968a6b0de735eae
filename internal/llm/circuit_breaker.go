package llm

import (
	"sync"
	"time"
)

// circuitState mirrors the closed/open/half-open states of the standard
// circuit breaker pattern.
type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// circuitBreaker is a minimal per-provider failure gate: after threshold
// consecutive failures it opens and rejects calls for cooldown, then allows
// a single probe request through in half-open state before fully closing or
// re-opening based on that probe's outcome.
type circuitBreaker struct {
	mu sync.Mutex

	name      string
	threshold int
	cooldown  time.Duration

	state       circuitState
	failures    int
	openedAt    time.Time
	halfOpenBusy bool
}

func newCircuitBreaker(name string, threshold int, cooldown time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &circuitBreaker{name: name, threshold: threshold, cooldown: cooldown, state: stateClosed}
}

// CanExecute reports whether a call should be attempted right now, and
// transitions open->half-open once the cooldown has elapsed.
func (cb *circuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(cb.openedAt) >= cb.cooldown {
			cb.state = stateHalfOpen
			cb.halfOpenBusy = false
		} else {
			return false
		}
		fallthrough
	case stateHalfOpen:
		if cb.halfOpenBusy {
			return false
		}
		cb.halfOpenBusy = true
		return true
	}
	return false
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = stateClosed
	cb.failures = 0
	cb.halfOpenBusy = false
}

// RecordFailure increments the failure count, opening the circuit once the
// threshold is reached (or immediately, if the failing call was the
// half-open probe).
func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == stateHalfOpen {
		cb.state = stateOpen
		cb.openedAt = time.Now()
		cb.halfOpenBusy = false
		return
	}

	cb.failures++
	if cb.failures >= cb.threshold {
		cb.state = stateOpen
		cb.openedAt = time.Now()
	}
}

// State returns the current state as a string for metrics/logging.
func (cb *circuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// Reset forces the circuit back to closed.
func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = stateClosed
	cb.failures = 0
	cb.halfOpenBusy = false
}
