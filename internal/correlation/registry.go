// Package correlation tracks in-flight agent dispatches by correlation id,
// so a TaskResponse arriving on the bus can be matched back to the session
// and callback waiting on it, and so a dispatch that never gets a response
// is eventually timed out instead of leaking forever. The Registry is
// per-process: a response consumed by an instance that did not dispatch the
// task finds no pending entry and is dropped; responses are not forwarded
// between instances.
package correlation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	orcherrors "github.com/carebridge/orchestrator/internal/errors"
)

// Outcome is delivered to a pending entry's waiter, either from a genuine
// TaskResponse or synthesized by the sweeper on timeout.
type Outcome struct {
	CorrelationID string
	Success       bool
	Result        map[string]any
	Err           error
}

// pending is one in-flight dispatch.
type pending struct {
	sessionID string
	deadline  time.Time
	done      chan Outcome
}

// Registry tracks pending dispatches in-process. Resolve, the sweeper's
// timeout and Cancel are idempotent: only the first call against a given correlation id delivers
// to done, subsequent calls are no-ops, so a response racing a sweep timeout
// can't double-deliver.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*pending
	logger  *slog.Logger
}

// New returns an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{entries: make(map[string]*pending), logger: logger}
}

// Register records a new in-flight dispatch and returns a channel that
// receives exactly one Outcome: the eventual response, a sweeper timeout, or
// a Cancel.
func (r *Registry) Register(correlationID, sessionID string, deadline time.Time) <-chan Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan Outcome, 1)
	r.entries[correlationID] = &pending{sessionID: sessionID, deadline: deadline, done: ch}
	return ch
}

// Resolve delivers a successful or failed TaskResponse outcome to the
// waiter registered under correlationID. Returns false if no such
// correlation id is pending (already resolved, timed out, or unknown —
// e.g. a duplicate/late redelivery from the bus's at-least-once semantics).
func (r *Registry) Resolve(correlationID string, success bool, result map[string]any, errMsg string) bool {
	r.mu.Lock()
	p, ok := r.entries[correlationID]
	if ok {
		delete(r.entries, correlationID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	outcome := Outcome{CorrelationID: correlationID, Success: success, Result: result}
	if !success {
		outcome.Err = orcherrors.New(orcherrors.KindDispatchFailure, orcherrors.ErrValidation).WithCorrelation(correlationID)
		if errMsg != "" {
			r.logger.Warn("correlation: agent reported failure", "correlation_id", correlationID, "error", errMsg)
		}
	}

	p.done <- outcome
	close(p.done)
	return true
}

// Cancel removes a pending entry without delivering an outcome, closing its
// channel so the waiter returns.
func (r *Registry) Cancel(correlationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.entries[correlationID]; ok {
		delete(r.entries, correlationID)
		close(p.done)
	}
}

// CancelBySession removes every pending entry belonging to sessionID,
// delivering no outcome — used when a session is deleted while it still has
// outstanding dispatches.
func (r *Registry) CancelBySession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.entries {
		if p.sessionID == sessionID {
			delete(r.entries, id)
			close(p.done)
		}
	}
}

// sweepTimeouts scans pending entries once and resolves any past their
// deadline with a synthesized AGENT_TIMEOUT outcome.
func (r *Registry) sweepTimeouts(now time.Time) {
	var timedOut []string

	r.mu.Lock()
	for id, p := range r.entries {
		if now.After(p.deadline) {
			timedOut = append(timedOut, id)
		}
	}
	r.mu.Unlock()

	for _, id := range timedOut {
		r.mu.Lock()
		p, ok := r.entries[id]
		if ok {
			delete(r.entries, id)
		}
		r.mu.Unlock()
		if !ok {
			continue
		}
		p.done <- Outcome{
			CorrelationID: id,
			Success:       false,
			Err:           orcherrors.New(orcherrors.KindAgentTimeout, orcherrors.ErrDispatchTimeout).WithCorrelation(id),
		}
		close(p.done)
		r.logger.Warn("correlation: dispatch timed out", "correlation_id", id)
	}
}

// RunSweeper blocks, checking for timed-out entries every interval, until
// ctx is canceled. interval should stay well under the shortest configured
// agent deadline (the design targets <=250ms) so a timeout is caught close
// to when it actually elapses.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.sweepTimeouts(now)
		}
	}
}

// Len reports the number of pending dispatches, for metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
