package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveDeliversOutcome(t *testing.T) {
	r := New(nil)
	done := r.Register("corr-1", "sess-1", time.Now().Add(time.Minute))

	ok := r.Resolve("corr-1", true, map[string]any{"ok": true}, "")
	assert.True(t, ok)

	select {
	case outcome := <-done:
		assert.True(t, outcome.Success)
		assert.Equal(t, "corr-1", outcome.CorrelationID)
	case <-time.After(time.Second):
		t.Fatal("outcome never delivered")
	}
}

func TestRegistry_ResolveUnknownCorrelationIsNoop(t *testing.T) {
	r := New(nil)
	assert.False(t, r.Resolve("does-not-exist", true, nil, ""))
}

func TestRegistry_ResolveTwiceOnlyDeliversOnce(t *testing.T) {
	r := New(nil)
	r.Register("corr-1", "sess-1", time.Now().Add(time.Minute))

	assert.True(t, r.Resolve("corr-1", true, nil, ""))
	assert.False(t, r.Resolve("corr-1", true, nil, ""))
}

func TestRegistry_CancelBySession(t *testing.T) {
	r := New(nil)
	done1 := r.Register("corr-1", "sess-1", time.Now().Add(time.Minute))
	done2 := r.Register("corr-2", "sess-2", time.Now().Add(time.Minute))

	r.CancelBySession("sess-1")

	_, ok := <-done1
	assert.False(t, ok, "channel should be closed without a delivered outcome")
	assert.Equal(t, 1, r.Len())

	r.Cancel("corr-2")
	_, ok = <-done2
	assert.False(t, ok)
}

func TestRegistry_SweeperTimesOutPastDeadline(t *testing.T) {
	r := New(nil)
	done := r.Register("corr-1", "sess-1", time.Now().Add(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.RunSweeper(ctx, 5*time.Millisecond)

	select {
	case outcome := <-done:
		assert.False(t, outcome.Success)
		require.Error(t, outcome.Err)
	case <-time.After(time.Second):
		t.Fatal("sweeper never timed out the pending entry")
	}
}
