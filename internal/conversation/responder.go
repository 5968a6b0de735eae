package conversation

import (
	"context"

	"github.com/carebridge/orchestrator/internal/bus"
)

// Start subscribes to every distinct response topic in the routing table
// and runs the correlation sweeper, blocking until ctx is canceled. instanceID
// identifies this process as a bus consumer (the "consumer" half of a Redis
// Streams consumer group).
func (e *Engine) Start(ctx context.Context, instanceID string, routes []string) {
	for _, topic := range dedupe(routes) {
		topic := topic
		go func() {
			if err := e.bus.Subscribe(ctx, topic, "orchestrator", instanceID, e.handleAgentResponse); err != nil && ctx.Err() == nil {
				e.logger.Error("conversation: response subscriber exited", "topic", topic, "error", err)
			}
		}()
	}
	e.correlation.RunSweeper(ctx, e.sweepInterval)
}

// handleAgentResponse is the bus.Handler invoked for every TaskResponse
// arriving on a response topic. Resolving an unknown or already-resolved
// correlation id (a late or duplicate at-least-once redelivery) is treated
// as success so the message is acked and not retried forever.
func (e *Engine) handleAgentResponse(_ context.Context, resp bus.TaskResponse) error {
	e.correlation.Resolve(resp.CorrelationID, resp.Status == bus.StatusSuccess, resp.Result, resp.ErrorMessage)
	return nil
}

func dedupe(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
