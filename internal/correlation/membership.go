package correlation

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Membership tracks which orchestrator instances are currently alive via a
// Redis key-per-instance heartbeat (each instance's key expires if it stops
// renewing), and hashes session ids onto the alive set with consistent
// hashing to name each session's owning instance. The owner is consulted
// only when a WebSocket attaches; dispatches and responses are not routed
// by it.
type Membership struct {
	client     *redis.Client
	namespace  string
	instanceID string
	ttl        time.Duration
	logger     *slog.Logger

	mu    sync.RWMutex
	ring  []ringPoint
	alive map[string]bool
}

type ringPoint struct {
	hash       uint32
	instanceID string
}

const virtualNodesPerInstance = 100

// NewMembership creates a Membership for instanceID, backed by client under
// namespace. Call Start to begin heartbeating and refreshing the view of
// the live set.
func NewMembership(client *redis.Client, namespace, instanceID string, ttl time.Duration, logger *slog.Logger) *Membership {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Membership{
		client:     client,
		namespace:  namespace,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger,
		alive:      map[string]bool{instanceID: true},
	}
}

func (m *Membership) key(instanceID string) string {
	return m.namespace + ":instance:" + instanceID
}

// Start registers this instance and runs the heartbeat/refresh loop until
// ctx is canceled.
func (m *Membership) Start(ctx context.Context) {
	m.heartbeat(ctx)
	m.refresh(ctx)

	interval := m.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.client.Del(context.Background(), m.key(m.instanceID))
			return
		case <-ticker.C:
			m.heartbeat(ctx)
			m.refresh(ctx)
		}
	}
}

func (m *Membership) heartbeat(ctx context.Context) {
	if err := m.client.Set(ctx, m.key(m.instanceID), time.Now().Unix(), m.ttl).Err(); err != nil {
		m.logger.Warn("membership: heartbeat failed", "instance_id", m.instanceID, "error", err)
	}
}

// refresh scans the namespace's instance keys and rebuilds the hash ring
// from whatever is currently alive.
func (m *Membership) refresh(ctx context.Context) {
	var instances []string
	iter := m.client.Scan(ctx, 0, m.namespace+":instance:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		prefix := m.namespace + ":instance:"
		instances = append(instances, key[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		m.logger.Warn("membership: refresh scan failed", "error", err)
		return
	}
	if len(instances) == 0 {
		instances = []string{m.instanceID}
	}

	ring := make([]ringPoint, 0, len(instances)*virtualNodesPerInstance)
	alive := make(map[string]bool, len(instances))
	for _, id := range instances {
		alive[id] = true
		for v := 0; v < virtualNodesPerInstance; v++ {
			ring = append(ring, ringPoint{hash: hashKey(fmt.Sprintf("%s#%d", id, v)), instanceID: id})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	m.mu.Lock()
	m.ring = ring
	m.alive = alive
	m.mu.Unlock()
}

// OwnerOf returns the instance id responsible for sessionID under the
// current view of the ring.
func (m *Membership) OwnerOf(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.ring) == 0 {
		return m.instanceID
	}

	h := hashKey(sessionID)
	idx := sort.Search(len(m.ring), func(i int) bool { return m.ring[i].hash >= h })
	if idx == len(m.ring) {
		idx = 0
	}
	return m.ring[idx].instanceID
}

// IsLocal reports whether this instance owns sessionID under the current
// view of the ring.
func (m *Membership) IsLocal(sessionID string) bool {
	return m.OwnerOf(sessionID) == m.instanceID
}

// Alive reports whether instanceID is currently considered live.
func (m *Membership) Alive(instanceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alive[instanceID]
}

// InstanceID returns this membership's own instance id.
func (m *Membership) InstanceID() string { return m.instanceID }

func hashKey(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
