package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	orcherrors "github.com/carebridge/orchestrator/internal/errors"
)

// redisRecord is the on-the-wire shape stored at each session's key: the
// session payload plus a monotonically increasing version used as the CAS
// token for AppendMessage's optimistic concurrency.
type redisRecord struct {
	Session *Session `json:"session"`
	Version uint64   `json:"version"`
}

// RedisStore is the shared, multi-instance Store backing. It isolates its
// keyspace by database number the way the pack's Redis client wrapper
// isolates discovery/rate-limiting/session concerns onto separate DBs, and
// namespaces every key under a prefix so a shared Redis instance can also
// host the message bus (internal/bus) and instance-membership keys
// (internal/correlation) without collision.
type RedisStore struct {
	client     *redis.Client
	namespace  string
	ttl        time.Duration
	maxHistory int
}

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	URL        string
	DB         int
	Namespace  string // default "orchestrator:session"
	TTL        time.Duration
	MaxHistory int // per-session history cap; MaxHistoryLength if <= 0
}

// NewRedisStore dials Redis and returns a Store backed by it.
func NewRedisStore(ctx context.Context, opts RedisStoreOptions) (*RedisStore, error) {
	if opts.Namespace == "" {
		opts.Namespace = "orchestrator:session"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	redisOpts.DB = opts.DB

	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis db %d: %w", opts.DB, err)
	}

	return &RedisStore{client: client, namespace: opts.Namespace, ttl: opts.TTL, maxHistory: opts.MaxHistory}, nil
}

func (r *RedisStore) key(sessionID string) string {
	return r.namespace + ":" + sessionID
}

func (r *RedisStore) userIndexKey(userID string) string {
	return r.namespace + ":by-user:" + userID
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) readRecord(ctx context.Context, sessionID string) (*redisRecord, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &rec, nil
}

// Get returns the session, or (nil, false, nil) if missing or expired.
// Redis's own key TTL is the source of truth for expiry, so a miss here
// already means "absent beyond TTL" per the spec.
func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Session, bool, error) {
	rec, err := r.readRecord(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	return rec.Session, true, nil
}

// Put writes/replaces the session and resets its Redis TTL to the store default.
func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	existing, err := r.readRecord(ctx, s.ID)
	if err != nil {
		return err
	}
	var version uint64
	if existing != nil {
		version = existing.Version + 1
	}
	return r.writeRecord(ctx, s, version)
}

func (r *RedisStore) writeRecord(ctx context.Context, s *Session, version uint64) error {
	data, err := json.Marshal(redisRecord{Session: s, Version: version})
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(s.ID), data, r.ttl)
	if s.UserID != "" {
		pipe.SAdd(ctx, r.userIndexKey(s.UserID), s.ID)
		pipe.Expire(ctx, r.userIndexKey(s.UserID), r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Delete removes the session unconditionally.
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	rec, err := r.readRecord(ctx, sessionID)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key(sessionID))
	if rec != nil && rec.Session.UserID != "" {
		pipe.SRem(ctx, r.userIndexKey(rec.Session.UserID), sessionID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ListByUser returns the ids of sessions indexed for userID. Entries whose
// underlying key already expired are pruned lazily.
func (r *RedisStore) ListByUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.userIndexKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	live := make([]string, 0, len(ids))
	for _, id := range ids {
		exists, err := r.client.Exists(ctx, r.key(id)).Result()
		if err != nil {
			return nil, err
		}
		if exists == 1 {
			live = append(live, id)
		} else {
			r.client.SRem(ctx, r.userIndexKey(userID), id)
		}
	}
	return live, nil
}

// AppendMessage atomically loads the session (creating it if absent),
// appends msg with truncation, and writes it back using Redis's WATCH/MULTI
// to detect a concurrent writer: if the version read at WATCH time no
// longer matches at EXEC time, redis.TxFailedErr surfaces as ErrConflict
// and the whole load-mutate-write sequence is retried.
func (r *RedisStore) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	return r.AppendMessages(ctx, sessionID, msg)
}

// AppendMessages atomically appends every message in msgs in one
// load-mutate-write cycle, see Store.AppendMessages.
func (r *RedisStore) AppendMessages(ctx context.Context, sessionID string, msgs ...Message) error {
	var expectedVersion uint64

	return appendWithRetry(ctx,
		func(ctx context.Context) (*Session, error) {
			rec, err := r.readRecord(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			if rec == nil {
				expectedVersion = 0
				return New(sessionID, ""), nil
			}
			expectedVersion = rec.Version
			return rec.Session, nil
		},
		func(s *Session) {
			for _, msg := range msgs {
				s.AppendMessage(msg, r.maxHistory)
			}
		},
		func(ctx context.Context, s *Session) error {
			txErr := r.client.Watch(ctx, func(tx *redis.Tx) error {
				rec, err := r.readRecordTx(ctx, tx, sessionID)
				if err != nil {
					return err
				}
				currentVersion := uint64(0)
				if rec != nil {
					currentVersion = rec.Version
				}
				if currentVersion != expectedVersion {
					return orcherrors.ErrConflict
				}

				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					data, err := json.Marshal(redisRecord{Session: s, Version: currentVersion + 1})
					if err != nil {
						return err
					}
					pipe.Set(ctx, r.key(s.ID), data, r.ttl)
					if s.UserID != "" {
						pipe.SAdd(ctx, r.userIndexKey(s.UserID), s.ID)
						pipe.Expire(ctx, r.userIndexKey(s.UserID), r.ttl)
					}
					return nil
				})
				return err
			}, r.key(sessionID))

			if txErr == redis.TxFailedErr {
				return orcherrors.ErrConflict
			}
			return txErr
		},
	)
}

// ResolvePending atomically applies mutate to sessionID's still-pending
// assistant message carrying correlationID, see Store.ResolvePending. A
// missing session or a correlation id no longer found pending is a no-op.
func (r *RedisStore) ResolvePending(ctx context.Context, sessionID, correlationID string, mutate func(msg *Message)) error {
	var expectedVersion uint64
	var found bool

	return appendWithRetry(ctx,
		func(ctx context.Context) (*Session, error) {
			rec, err := r.readRecord(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			if rec == nil {
				found = false
				return New(sessionID, ""), nil
			}
			expectedVersion = rec.Version
			found = true
			return rec.Session, nil
		},
		func(s *Session) {
			if !found {
				return
			}
			if idx := s.FindPendingByCorrelation(correlationID); idx >= 0 {
				mutate(&s.History[idx])
			}
		},
		func(ctx context.Context, s *Session) error {
			if !found {
				return nil
			}
			txErr := r.client.Watch(ctx, func(tx *redis.Tx) error {
				rec, err := r.readRecordTx(ctx, tx, sessionID)
				if err != nil {
					return err
				}
				currentVersion := uint64(0)
				if rec != nil {
					currentVersion = rec.Version
				}
				if currentVersion != expectedVersion {
					return orcherrors.ErrConflict
				}

				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					data, err := json.Marshal(redisRecord{Session: s, Version: currentVersion + 1})
					if err != nil {
						return err
					}
					pipe.Set(ctx, r.key(s.ID), data, r.ttl)
					if s.UserID != "" {
						pipe.SAdd(ctx, r.userIndexKey(s.UserID), s.ID)
						pipe.Expire(ctx, r.userIndexKey(s.UserID), r.ttl)
					}
					return nil
				})
				return err
			}, r.key(sessionID))

			if txErr == redis.TxFailedErr {
				return orcherrors.ErrConflict
			}
			return txErr
		},
	)
}

func (r *RedisStore) readRecordTx(ctx context.Context, tx *redis.Tx, sessionID string) (*redisRecord, error) {
	data, err := tx.Get(ctx, r.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &rec, nil
}
