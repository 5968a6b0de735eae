package session

import (
	"context"
	"sync"
	"time"

	orcherrors "github.com/carebridge/orchestrator/internal/errors"
)

// memoryEntry wraps a Session with the bookkeeping a single-process TTL map
// needs: an expiry deadline and a version counter used as the compare token
// for AppendMessage's optimistic concurrency.
type memoryEntry struct {
	expiresAt time.Time
	session   *Session
	version   uint64
}

// MemoryStore is an in-process Store, generalized from the teacher's
// generic LRUCache[K,V]: a mutex-guarded map keyed by session id with a
// per-entry TTL, but without a capacity bound since sessions are pruned by
// TTL rather than LRU eviction. Suitable for tests and single-instance
// deployments; a multi-instance deployment should use RedisStore instead.
type MemoryStore struct {
	entries    map[string]*memoryEntry
	byUser     map[string]map[string]struct{}
	mu         sync.RWMutex
	ttl        time.Duration
	maxHistory int
}

// NewMemoryStore creates an in-process session store with the given
// default TTL (DefaultTTL is used if ttl <= 0). History length per session
// defaults to MaxHistoryLength; use SetMaxHistory to override.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		byUser:  make(map[string]map[string]struct{}),
		ttl:     ttl,
	}
}

// SetMaxHistory overrides the per-session history cap applied on append.
func (m *MemoryStore) SetMaxHistory(n int) {
	m.maxHistory = n
}

func cloneSession(s *Session) *Session {
	cp := *s
	cp.History = append([]Message(nil), s.History...)
	cp.PendingTasks = append([]PendingTask(nil), s.PendingTasks...)
	return &cp
}

// Get returns a copy of the session, or (nil, false, nil) if it does not
// exist or has expired since its last activity — per the spec, a session
// absent beyond TTL is treated as nonexistent.
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*Session, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		m.mu.Lock()
		if e2, ok := m.entries[sessionID]; ok && time.Now().After(e2.expiresAt) {
			m.removeLocked(sessionID)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return cloneSession(e.session), true, nil
}

// Put writes/replaces the session and resets its TTL to the store default.
func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var version uint64
	if existing, ok := m.entries[s.ID]; ok {
		version = existing.version + 1
		if existing.session.UserID != s.UserID {
			m.unindexUserLocked(existing.session.UserID, s.ID)
		}
	}
	m.entries[s.ID] = &memoryEntry{
		session:   cloneSession(s),
		expiresAt: time.Now().Add(m.ttl),
		version:   version,
	}
	m.indexUserLocked(s.UserID, s.ID)
	return nil
}

// Delete removes the session unconditionally.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(sessionID)
	return nil
}

// ListByUser returns the ids of all live sessions owned by userID.
func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.byUser[userID]))
	now := time.Now()
	for id := range m.byUser[userID] {
		if e, ok := m.entries[id]; ok && now.Before(e.expiresAt) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// AppendMessage atomically loads the session (creating it if absent),
// appends msg with truncation to MaxHistoryLength, and writes it back.
// The load and the write take the store's mutex separately, so concurrent
// writers can race and hit a version conflict; appendWithRetry reloads and
// retries up to maxAppendRetries attempts, uniformly with RedisStore's
// optimistic concurrency, and then returns the conflict.
func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	return m.AppendMessages(ctx, sessionID, msg)
}

// AppendMessages atomically appends every message in msgs in one
// load-mutate-write cycle, see Store.AppendMessages.
func (m *MemoryStore) AppendMessages(ctx context.Context, sessionID string, msgs ...Message) error {
	var expectedVersion uint64

	return appendWithRetry(ctx,
		func(_ context.Context) (*Session, error) {
			m.mu.RLock()
			defer m.mu.RUnlock()
			if e, ok := m.entries[sessionID]; ok && time.Now().Before(e.expiresAt) {
				expectedVersion = e.version
				return cloneSession(e.session), nil
			}
			expectedVersion = 0
			return New(sessionID, ""), nil
		},
		func(s *Session) {
			for _, msg := range msgs {
				s.AppendMessage(msg, m.maxHistory)
			}
		},
		func(_ context.Context, s *Session) error {
			m.mu.Lock()
			defer m.mu.Unlock()

			var currentVersion uint64
			if e, ok := m.entries[sessionID]; ok {
				currentVersion = e.version
			}
			if currentVersion != expectedVersion {
				return orcherrors.ErrConflict
			}

			m.entries[sessionID] = &memoryEntry{
				session:   cloneSession(s),
				expiresAt: time.Now().Add(m.ttl),
				version:   currentVersion + 1,
			}
			m.indexUserLocked(s.UserID, s.ID)
			return nil
		},
	)
}

// ResolvePending atomically applies mutate to sessionID's still-pending
// assistant message carrying correlationID, see Store.ResolvePending. A
// missing session or a correlation id no longer found pending is a no-op.
func (m *MemoryStore) ResolvePending(ctx context.Context, sessionID, correlationID string, mutate func(msg *Message)) error {
	var expectedVersion uint64
	var found bool

	return appendWithRetry(ctx,
		func(_ context.Context) (*Session, error) {
			m.mu.RLock()
			defer m.mu.RUnlock()
			e, ok := m.entries[sessionID]
			if !ok || time.Now().After(e.expiresAt) {
				found = false
				return New(sessionID, ""), nil
			}
			expectedVersion = e.version
			found = true
			return cloneSession(e.session), nil
		},
		func(s *Session) {
			if !found {
				return
			}
			if idx := s.FindPendingByCorrelation(correlationID); idx >= 0 {
				mutate(&s.History[idx])
			}
		},
		func(_ context.Context, s *Session) error {
			if !found {
				return nil
			}
			m.mu.Lock()
			defer m.mu.Unlock()

			var currentVersion uint64
			if e, ok := m.entries[sessionID]; ok {
				currentVersion = e.version
			}
			if currentVersion != expectedVersion {
				return orcherrors.ErrConflict
			}

			m.entries[sessionID] = &memoryEntry{
				session:   cloneSession(s),
				expiresAt: time.Now().Add(m.ttl),
				version:   currentVersion + 1,
			}
			m.indexUserLocked(s.UserID, s.ID)
			return nil
		},
	)
}

func (m *MemoryStore) removeLocked(sessionID string) {
	if e, ok := m.entries[sessionID]; ok {
		m.unindexUserLocked(e.session.UserID, sessionID)
		delete(m.entries, sessionID)
	}
}

func (m *MemoryStore) indexUserLocked(userID, sessionID string) {
	if userID == "" {
		return
	}
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]struct{})
	}
	m.byUser[userID][sessionID] = struct{}{}
}

func (m *MemoryStore) unindexUserLocked(userID, sessionID string) {
	if userID == "" {
		return
	}
	if set, ok := m.byUser[userID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(m.byUser, userID)
		}
	}
}
