package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_DispatchThenStubAgentRespondsAndSubscriberReceives(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan TaskResponse, 1)
	go func() {
		_ = b.Subscribe(ctx, "orchestrator.scheduling.response", "orchestrator", "instance-1", func(_ context.Context, resp TaskResponse) error {
			received <- resp
			return nil
		})
	}()

	require.NoError(t, b.Dispatch(ctx, "agent.scheduling.request", TaskRequest{
		Type:          MessageTypeTaskRequest,
		CorrelationID: "corr-1",
		SessionID:     "sess-1",
		TaskType:      "appointment.book",
	}))

	select {
	case req := <-b.Requests("agent.scheduling.request"):
		assert.Equal(t, "corr-1", req.CorrelationID)
		require.NoError(t, b.Publish(ctx, "orchestrator.scheduling.response", TaskResponse{
			Type:          MessageTypeTaskResponse,
			CorrelationID: req.CorrelationID,
			SessionID:     req.SessionID,
			Status:        StatusSuccess,
		}))
	case <-time.After(time.Second):
		t.Fatal("stub agent never saw the dispatched request")
	}

	select {
	case resp := <-received:
		assert.Equal(t, "corr-1", resp.CorrelationID)
		assert.Equal(t, StatusSuccess, resp.Status)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the published response")
	}
}

func TestMemoryBus_SubscribeStopsOnContextCancel(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, "topic", "group", "consumer", func(context.Context, TaskResponse) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not return after context cancellation")
	}
}
