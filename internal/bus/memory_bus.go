package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus for single-instance deployments and tests.
// Unlike RedisBus it keeps requests and responses on separate internal
// channels per topic, so a test can drain Requests(topic) and answer by
// calling Publish on the matching
// response topic, exercising the exact same Subscribe/Handler path the
// Redis-backed bus uses in production.
type MemoryBus struct {
	mu        sync.Mutex
	requests  map[string]chan TaskRequest
	responses map[string]chan TaskResponse
}

// NewMemoryBus returns an empty in-process Bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		requests:  make(map[string]chan TaskRequest),
		responses: make(map[string]chan TaskResponse),
	}
}

func (m *MemoryBus) requestChan(topic string) chan TaskRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.requests[topic]
	if !ok {
		ch = make(chan TaskRequest, 256)
		m.requests[topic] = ch
	}
	return ch
}

func (m *MemoryBus) responseChan(topic string) chan TaskResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.responses[topic]
	if !ok {
		ch = make(chan TaskResponse, 256)
		m.responses[topic] = ch
	}
	return ch
}

// Dispatch enqueues req on topic's request channel.
func (m *MemoryBus) Dispatch(ctx context.Context, topic string, req TaskRequest) error {
	select {
	case m.requestChan(topic) <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Requests exposes topic's request channel so a stub agent can consume
// dispatched tasks in dev mode or in a test.
func (m *MemoryBus) Requests(topic string) <-chan TaskRequest {
	return m.requestChan(topic)
}

// Publish delivers resp to any Subscribe loop registered on topic.
func (m *MemoryBus) Publish(ctx context.Context, topic string, resp TaskResponse) error {
	select {
	case m.responseChan(topic) <- resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe drains topic's response channel, invoking handler for each
// message until ctx is canceled. group/consumer are accepted to satisfy Bus
// but unused: a single process has nothing to share a consumer group with.
func (m *MemoryBus) Subscribe(ctx context.Context, topic, group, consumer string, handler Handler) error {
	ch := m.responseChan(topic)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp := <-ch:
			_ = handler(ctx, resp)
		}
	}
}

func (m *MemoryBus) Close() error {
	return nil
}
