package cache

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_GetSet(t *testing.T) {
	c := NewLRU(1024, 256)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", []byte("alpha"))
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("alpha"), got)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(30, 10)
	c.Set("a", make([]byte, 10))
	c.Set("b", make([]byte, 10))
	c.Set("c", make([]byte, 10))

	// Touch "a" so "b" is the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", make([]byte, 10))

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("d")
	assert.True(t, ok)
	assert.LessOrEqual(t, c.Size(), int64(30))
}

func TestLRU_OversizeValueNotAdmitted(t *testing.T) {
	c := NewLRU(100, 10)
	c.Set("big", make([]byte, 11))

	_, ok := c.Get("big")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestLRU_UpdateExistingKey(t *testing.T) {
	c := NewLRU(100, 50)
	c.Set("k", []byte("one"))
	c.Set("k", []byte("three"))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("three"), got)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(5), c.Size())
}

func TestLRU_Invalidate(t *testing.T) {
	c := NewLRU(1024, 256)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("manifest/%d", i), []byte("m"))
	}
	c.Set("index/0", []byte("i"))

	c.Invalidate(func(key string) bool { return strings.HasPrefix(key, "manifest/") })

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("index/0")
	assert.True(t, ok)
}

func TestLRU_DefaultMaxEntry(t *testing.T) {
	c := NewLRU(80, 0) // maxEntry defaults to capacity/8 = 10
	c.Set("fits", make([]byte, 10))
	c.Set("toobig", make([]byte, 11))

	assert.Equal(t, 1, c.Len())
}
