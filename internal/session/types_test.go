package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MintsIDWhenEmpty(t *testing.T) {
	s := New("", "user-1")
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, s.CreatedAt, s.LastActivity)
}

func TestNew_KeepsGivenID(t *testing.T) {
	s := New("fixed-id", "user-1")
	assert.Equal(t, "fixed-id", s.ID)
}

func TestAppendMessage_TruncatesOldestFirst(t *testing.T) {
	s := New("s1", "u1")
	for i := 0; i < MaxHistoryLength+1; i++ {
		s.AppendMessage(Message{Role: RoleUser, Content: string(rune('A' + i))}, 0)
	}
	require.Len(t, s.History, MaxHistoryLength)
	// the very first appended message ("A") must have been dropped
	for _, m := range s.History {
		assert.NotEqual(t, "A", m.Content, "oldest message should have been evicted")
	}
}

func TestFindPendingByCorrelation(t *testing.T) {
	s := New("s1", "u1")
	s.History = []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "...", Metadata: Metadata{Status: StatusPending, CorrelationID: "corr-1"}},
		{Role: RoleAssistant, Content: "done", Metadata: Metadata{Status: StatusCompleted, CorrelationID: "corr-0"}},
	}

	idx := s.FindPendingByCorrelation("corr-1")
	assert.Equal(t, 1, idx)

	idx = s.FindPendingByCorrelation("does-not-exist")
	assert.Equal(t, -1, idx)
}

func TestExpired(t *testing.T) {
	s := New("s1", "u1")
	s.LastActivity = time.Now().Add(-2 * time.Hour)
	assert.True(t, s.Expired(time.Hour, time.Now()))
	assert.False(t, s.Expired(3*time.Hour, time.Now()))
}

func TestLastNTurns_ChronologicalAndSkipsSystem(t *testing.T) {
	s := New("s1", "u1")
	s.History = []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "1"},
		{Role: RoleAssistant, Content: "2"},
		{Role: RoleUser, Content: "3"},
	}
	turns := s.LastNTurns(2)
	require.Len(t, turns, 2)
	assert.Equal(t, "2", turns[0].Content)
	assert.Equal(t, "3", turns[1].Content)
}

func TestPendingTask_IsTimedOut(t *testing.T) {
	now := time.Now()
	task := PendingTask{Status: TaskStatusPending, Deadline: now.Add(-time.Second)}
	assert.True(t, task.IsTimedOut(now))

	task.Status = TaskStatusCompleted
	assert.False(t, task.IsTimedOut(now))
}
