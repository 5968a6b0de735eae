// Package session implements the durable conversation-session contract: an
// append-only, TTL-bounded history keyed by session id, shared across
// orchestrator instances through a pluggable Store.
package session

import (
	"time"

	"github.com/google/uuid"
)

// MaxHistoryLength is the default cap on a session's conversation history.
// Once reached, the oldest message is dropped on append, preserving
// chronological order of the remainder.
const MaxHistoryLength = 50

// DefaultTTL is the default time a session survives since its last activity.
const DefaultTTL = time.Hour

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status is the lifecycle state of an assistant message awaiting agent work.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Metadata carries the routing/correlation facts attached to a message.
type Metadata struct {
	Intent        string  `json:"intent,omitempty"`
	Confidence    float32 `json:"confidence,omitempty"`
	CorrelationID string  `json:"correlation_id,omitempty"`
	Status        Status  `json:"status,omitempty"`
}

// Message is one turn of a conversation.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
}

// TaskStatus is the lifecycle state of a PendingTask.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// PendingTask tracks a dispatched agent call from the session's point of view.
type PendingTask struct {
	CreatedAt time.Time  `json:"created_at"`
	Deadline  time.Time  `json:"deadline"`
	TaskID    string     `json:"task_id"` // equals the correlation id
	TaskType  string     `json:"task_type"`
	Status    TaskStatus `json:"status"`
}

// IsTimedOut reports whether the task's deadline has passed while it is
// still in-flight, making it eligible for timeout handling by the sweeper.
func (t PendingTask) IsTimedOut(now time.Time) bool {
	return (t.Status == TaskStatusPending || t.Status == TaskStatusProcessing) && now.After(t.Deadline)
}

// Session is a durable conversation thread.
type Session struct {
	CreatedAt     time.Time     `json:"created_at"`
	LastActivity  time.Time     `json:"last_activity"`
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Language      string        `json:"language"`
	Intent        string        `json:"intent"`
	WorkflowState string        `json:"workflow_state"`
	History       []Message     `json:"history"`
	PendingTasks  []PendingTask `json:"pending_tasks"`
}

// New creates a fresh session for the given id (minting one if empty) and
// user, with created_at == last_activity as the invariant requires.
func New(id, userID string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		History:      make([]Message, 0, 8),
		PendingTasks: make([]PendingTask, 0),
	}
}

// AppendMessage appends msg to the session's history in place, truncating
// the oldest entries once maxHistory is exceeded (MaxHistoryLength if
// maxHistory <= 0), and refreshes LastActivity. Callers needing atomicity
// across concurrent writers should go through a Store's AppendMessage
// instead of mutating a loaded Session directly.
func (s *Session) AppendMessage(msg Message, maxHistory int) {
	if maxHistory <= 0 {
		maxHistory = MaxHistoryLength
	}
	s.History = append(s.History, msg)
	if over := len(s.History) - maxHistory; over > 0 {
		s.History = s.History[over:]
	}
	s.LastActivity = time.Now().UTC()
}

// FindPendingByCorrelation returns the index of the assistant message whose
// metadata carries the given correlation id and is still pending, or -1.
func (s *Session) FindPendingByCorrelation(correlationID string) int {
	for i := len(s.History) - 1; i >= 0; i-- {
		m := s.History[i]
		if m.Role == RoleAssistant && m.Metadata.Status == StatusPending && m.Metadata.CorrelationID == correlationID {
			return i
		}
	}
	return -1
}

// Expired reports whether the session has been idle longer than ttl.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.LastActivity) > ttl
}

// LastNTurns returns at most n trailing user/assistant turns (messages with
// role user or assistant), used to trim history before sending it to an
// agent payload.
func (s *Session) LastNTurns(n int) []Message {
	var turns []Message
	for i := len(s.History) - 1; i >= 0 && len(turns) < n; i-- {
		m := s.History[i]
		if m.Role == RoleUser || m.Role == RoleAssistant {
			turns = append(turns, m)
		}
	}
	// reverse into chronological order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}
