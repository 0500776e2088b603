package embedding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalTextFormat(t *testing.T) {
	text := CanonicalText("Alice", "Person", []string{"likes tea", "works at Acme"})
	assert.Equal(t, "Name: Alice\nType: Person\nObservations:\n- likes tea\n- works at Acme\n", text)
}

func TestCacheKeyIsStableMD5(t *testing.T) {
	k1 := CacheKey("hello")
	k2 := CacheKey("hello")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)
	assert.NotEqual(t, k1, CacheKey("world"))
}

func TestCacheHitAndMiss(t *testing.T) {
	c, err := NewCache(10, time.Hour)
	require.NoError(t, err)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("key", Vector{1, 2, 3})
	v, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, Vector{1, 2, 3}, v)
}

func TestCacheEntryExpiresAfterTTL(t *testing.T) {
	c, err := NewCache(10, time.Minute)
	require.NoError(t, err)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Put("key", Vector{1})
	_, ok := c.Get("key")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("key")
	assert.False(t, ok, "entry should be expired")
}
