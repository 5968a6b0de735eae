package session

import (
	"context"
	"math/rand"
	"time"

	orcherrors "github.com/carebridge/orchestrator/internal/errors"
)

// Store is the durable key-value contract over Session values, shared
// across orchestrator instances. Implementations must reset TTL to the
// configured default on every Put, and must make AppendMessage atomic:
// read, append-with-truncation, write, retried on ErrConflict.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Session, bool, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, sessionID string) error
	ListByUser(ctx context.Context, userID string) ([]string, error)
	AppendMessage(ctx context.Context, sessionID string, msg Message) error

	// AppendMessages atomically appends every message in msgs to the
	// session in a single load-mutate-write cycle, so a caller needing to
	// append more than one message (e.g. a user turn and its provisional
	// assistant placeholder) never has the pair split by a racing writer.
	AppendMessages(ctx context.Context, sessionID string, msgs ...Message) error

	// ResolvePending atomically loads the session, locates the still-pending
	// assistant message carrying correlationID, and applies mutate to it.
	// A missing session or an already-resolved/superseded message is a
	// silent no-op (not an error), since a late or duplicate agent response
	// arriving for a correlation id the engine no longer cares about must
	// not fail the caller.
	ResolvePending(ctx context.Context, sessionID, correlationID string, mutate func(m *Message)) error
}

// maxAppendRetries bounds the optimistic-concurrency retry loop that every
// Store implementation's AppendMessage follows.
const maxAppendRetries = 3

// retryJitter returns a small random backoff before a conflict retry.
func retryJitter() time.Duration {
	return time.Duration(rand.Intn(10)) * time.Millisecond
}

// appendWithRetry is the shared retry loop used by Store implementations:
// it loads the session (creating one if missing), applies mutate to the
// loaded copy, and writes it back through store-specific compare-and-swap
// semantics provided by casWrite. casWrite must return orcherrors.ErrConflict
// if another writer raced it, in which case the whole load-mutate-write
// sequence is retried from scratch.
func appendWithRetry(
	ctx context.Context,
	load func(ctx context.Context) (*Session, error),
	mutate func(s *Session),
	casWrite func(ctx context.Context, s *Session) error,
) error {
	var lastErr error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryJitter()):
			}
		}

		s, err := load(ctx)
		if err != nil {
			return err
		}

		mutate(s)

		if err := casWrite(ctx, s); err != nil {
			if err == orcherrors.ErrConflict {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}
