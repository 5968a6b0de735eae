package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	s := New("", "user-1")
	require.NoError(t, store.Put(ctx, s))

	got, ok, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, s.UserID, got.UserID)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	_, ok, err := store.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore(20 * time.Millisecond)
	ctx := context.Background()

	s := New("", "user-1")
	require.NoError(t, store.Put(ctx, s))

	time.Sleep(40 * time.Millisecond)

	_, ok, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, ok, "session absent beyond TTL must be treated as nonexistent")
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	s := New("", "user-1")
	require.NoError(t, store.Put(ctx, s))
	require.NoError(t, store.Delete(ctx, s.ID))

	_, ok, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_ListByUser(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	a := New("", "user-1")
	b := New("", "user-1")
	c := New("", "user-2")
	require.NoError(t, store.Put(ctx, a))
	require.NoError(t, store.Put(ctx, b))
	require.NoError(t, store.Put(ctx, c))

	ids, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
}

func TestMemoryStore_AppendMessage_CreatesLazily(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	err := store.AppendMessage(ctx, "new-session", Message{Role: RoleUser, Content: "hi"})
	require.NoError(t, err)

	got, ok, err := store.Get(ctx, "new-session")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.History, 1)
	assert.Equal(t, "hi", got.History[0].Content)
}

func TestMemoryStore_AppendMessage_TruncatesAt50(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()
	sessionID := "trunc-session"

	for i := 0; i < 55; i++ {
		require.NoError(t, store.AppendMessage(ctx, sessionID, Message{Role: RoleUser, Content: "m"}))
	}

	got, ok, err := store.Get(ctx, sessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.History, MaxHistoryLength)
}

// TestMemoryStore_AppendMessage_ConcurrentWritersPreserveBoth exercises the
// append-pair concurrency hotspot described in the conversation engine: two
// concurrent AppendMessage calls on the same session must both survive, not
// clobber one another.
func TestMemoryStore_AppendMessage_ConcurrentWritersPreserveBoth(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()
	sessionID := "race-session"

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = store.AppendMessage(ctx, sessionID, Message{Role: RoleUser, Content: "turn"})
		}(i)
	}
	wg.Wait()

	got, ok, err := store.Get(ctx, sessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.History, 20)
}
