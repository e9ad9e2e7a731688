package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPutRoundTrip(t *testing.T) {
	c, err := New(Config{UseCache: true, Strategy: "lru", Capacity: 2})
	require.NoError(t, err)

	_, hit := c.Get("a.jpg")
	assert.False(t, hit)

	c.Put("a.jpg", []byte("v1"))
	v, hit := c.Get("a.jpg")
	require.True(t, hit)
	assert.Equal(t, []byte("v1"), v)

	// put overwrites: a subsequent put followed by get returns the newer value.
	c.Put("a.jpg", []byte("v2"))
	v, hit = c.Get("a.jpg")
	require.True(t, hit)
	assert.Equal(t, []byte("v2"), v)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestLRUEviction(t *testing.T) {
	c, err := New(Config{UseCache: true, Capacity: 2})
	require.NoError(t, err)

	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	c.Put("c", []byte("3")) // evicts "a", the LRU tail

	_, hit := c.Get("a")
	assert.False(t, hit)

	_, hit = c.Get("b")
	assert.True(t, hit)

	_, hit = c.Get("c")
	assert.True(t, hit)
}

func TestDisabledCacheAlwaysMisses(t *testing.T) {
	c, err := New(Config{UseCache: false})
	require.NoError(t, err)

	c.Put("a", []byte("1"))
	_, hit := c.Get("a")
	assert.False(t, hit)

	stats := c.Stats()
	assert.Equal(t, uint64(0), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(Config{UseCache: true, Strategy: "bogus", Capacity: 1})
	assert.Error(t, err)

	_, err = New(Config{UseCache: true, Capacity: 0})
	assert.Error(t, err)
}
