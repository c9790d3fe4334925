package cache

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/poiesic/docvault/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lenSizer(v string) int64 { return int64(len(v)) }

func newStringCache(items int, bytes int64) *LRU[string, string] {
	return New(
		WithMaxItems[string, string](items),
		WithMaxBytes[string, string](bytes),
		WithSizer[string, string](lenSizer),
	)
}

func TestGetPromotes(t *testing.T) {
	c := newStringCache(2, 0)
	c.Set("a", "1")
	c.Set("b", "2")

	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", "3")
	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	assert.Equal(t, []string{"c", "a"}, c.Keys())
}

func TestByteBound(t *testing.T) {
	c := newStringCache(0, 10)
	c.Set("a", "aaaa")
	c.Set("b", "bbbb")
	evicted := c.Set("c", "cccc")
	assert.Equal(t, 1, evicted)
	assert.Equal(t, []string{"c", "b"}, c.Keys())
	assert.Equal(t, int64(8), c.MemoryUsage().Current)
}

func TestOversizeItemEvictsEverything(t *testing.T) {
	c := newStringCache(10, 10)
	c.Set("a", "aa")
	c.Set("b", "bb")

	evicted := c.Set("huge", "this value is larger than the budget")
	assert.Equal(t, 3, evicted)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.MemoryUsage().Current)
}

func TestReplaceAdjustsAccounting(t *testing.T) {
	c := newStringCache(0, 100)
	c.Set("a", "1234")
	c.Set("a", "12")
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(2), c.MemoryUsage().Current)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "12", v)
}

func TestDeleteAndClear(t *testing.T) {
	c := newStringCache(0, 100)
	c.Set("a", "111")
	c.Set("b", "22")
	c.Set("c", "3")

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, int64(3), c.MemoryUsage().Current)

	assert.Equal(t, 1, c.BatchDelete("b", "missing"))
	assert.Equal(t, int64(1), c.MemoryUsage().Current)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, core.MemoryUsage{Current: 0, Max: 100}, c.MemoryUsage())
}

func TestEvictOldest(t *testing.T) {
	c := newStringCache(0, 0)
	for i := 0; i < 6; i++ {
		c.Set(fmt.Sprint(i), "x")
	}
	assert.Equal(t, 3, c.EvictOldest(3))
	assert.Equal(t, []string{"5", "4", "3"}, c.Keys())
	assert.Equal(t, 3, c.EvictOldest(10))
	assert.Equal(t, 0, c.Len())
}

func TestMemoryUsagePercentage(t *testing.T) {
	c := newStringCache(0, 200)
	c.Set("a", string(make([]byte, 50)))
	assert.InDelta(t, 25.0, c.MemoryUsage().Percentage, 0.001)

	unbounded := newStringCache(0, 0)
	unbounded.Set("a", "x")
	assert.Zero(t, unbounded.MemoryUsage().Percentage)
}

func TestDefaultJSONSizer(t *testing.T) {
	c := New[string, map[string]int](WithMaxBytes[string, map[string]int](1000))
	c.Set("k", map[string]int{"a": 1})
	assert.Equal(t, int64(len(`{"a":1}`)), c.MemoryUsage().Current)
}

// Bounds hold and accounting matches the stored values after any sequence
// of operations.
func TestBoundsUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := newStringCache(16, 256)

	for i := 0; i < 5000; i++ {
		key := fmt.Sprint(rng.Intn(40))
		switch rng.Intn(5) {
		case 0:
			c.Delete(key)
		case 1:
			c.Get(key)
		default:
			c.Set(key, string(make([]byte, rng.Intn(64))))
		}

		require.LessOrEqual(t, c.Len(), 16)
		usage := c.MemoryUsage()
		require.LessOrEqual(t, usage.Current, int64(256))

		var actual int64
		for _, k := range c.Keys() {
			v, _ := c.Get(k)
			actual += int64(len(v))
		}
		require.Equal(t, actual, usage.Current)
	}
}
