package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_BasicSetGet(t *testing.T) {
	c := New[string, string](10, time.Minute)
	c.Set("a", "1", 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestLRUCache_MissingKey(t *testing.T) {
	c := New[string, string](10, time.Minute)
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestLRUCache_TTLExpiry(t *testing.T) {
	c := New[string, string](10, time.Minute)
	c.Set("a", "1", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRUCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New[string, int](2, time.Minute)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Set("c", 3, 0) // evicts "a"

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")

	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRUCache_GetRefreshesRecency(t *testing.T) {
	c := New[string, int](2, time.Minute)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Get("a") // "a" is now more recently used than "b"
	c.Set("c", 3, 0) // should evict "b", not "a"

	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestLRUCache_InvalidateWildcard(t *testing.T) {
	c := New[string, int](10, time.Minute)
	c.Set("route:abc", 1, 0)
	c.Set("route:def", 2, 0)
	c.Set("other:xyz", 3, 0)

	n := c.Invalidate("route:*")
	assert.Equal(t, 2, n)

	_, ok := c.Get("other:xyz")
	assert.True(t, ok)
}
