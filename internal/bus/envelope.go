// Package bus implements the message-bus transport between the orchestrator
// and worker agents: Redis Streams with consumer groups, giving at-least-once
// delivery and durable offsets without the orchestrator having to run its
// own broker.
package bus

import "time"

// Message-type tags carried by every envelope on the bus, so a consumer
// never has to guess an envelope's shape from its topic alone.
const (
	MessageTypeTaskRequest  = "task_request"
	MessageTypeTaskResponse = "task_response"
)

// ResponseStatus is the outcome an agent reports for a completed task.
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "success"
	StatusError   ResponseStatus = "error"
)

// TaskRequest is the envelope dispatched to an agent's request topic.
type TaskRequest struct {
	Type          string            `json:"type"`
	CorrelationID string            `json:"correlation_id"`
	SessionID     string            `json:"session_id"`
	TaskType      string            `json:"task_type"`
	Payload       map[string]any    `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	DispatchedAt  time.Time         `json:"dispatched_at"`
	Deadline      time.Time         `json:"deadline"`
}

// TaskResponse is the envelope an agent publishes to the orchestrator's
// response topic once it has finished (or failed) a task. Result is the
// agent's result object: at minimum a "response" text field, and optionally
// "sources", "requires_human_handoff", and "suggested_actions".
type TaskResponse struct {
	Type          string         `json:"type"`
	CorrelationID string         `json:"correlation_id"`
	SessionID     string         `json:"session_id"`
	Status        ResponseStatus `json:"status"`
	Result        map[string]any `json:"result,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	RespondedAt   time.Time      `json:"responded_at"`
}
