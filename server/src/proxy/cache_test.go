package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSegmentCacheHitAndMiss(t *testing.T) {
	cache := NewSegmentCache(1024, time.Minute)

	_, _, ok := cache.Get("a")
	require.False(t, ok)

	cache.Put("a", []byte("payload"), "video/mp2t")
	data, contentType, ok := cache.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("payload"), data)
	require.Equal(t, "video/mp2t", contentType)
}

func TestSegmentCacheTTLExpiry(t *testing.T) {
	cache := NewSegmentCache(1024, 10*time.Millisecond)

	cache.Put("a", []byte("payload"), "video/mp2t")
	time.Sleep(20 * time.Millisecond)

	_, _, ok := cache.Get("a")
	require.False(t, ok)
	require.Zero(t, cache.Len())
}

func TestSegmentCacheEvictsColdestWhenFull(t *testing.T) {
	cache := NewSegmentCache(10, time.Minute)

	cache.Put("a", []byte("aaaa"), "t")
	cache.Put("b", []byte("bbbb"), "t")

	// Touch a so b becomes the coldest entry.
	_, _, ok := cache.Get("a")
	require.True(t, ok)

	cache.Put("c", []byte("cccc"), "t")

	_, _, ok = cache.Get("b")
	require.False(t, ok)
	_, _, ok = cache.Get("a")
	require.True(t, ok)
	_, _, ok = cache.Get("c")
	require.True(t, ok)
	require.LessOrEqual(t, cache.Size(), int64(10))
}

func TestSegmentCacheRejectsOversized(t *testing.T) {
	cache := NewSegmentCache(4, time.Minute)

	cache.Put("big", []byte("too big for the budget"), "t")
	_, _, ok := cache.Get("big")
	require.False(t, ok)
	require.Zero(t, cache.Len())
}

func TestSegmentCacheReplaceUpdatesSize(t *testing.T) {
	cache := NewSegmentCache(100, time.Minute)

	cache.Put("a", []byte("aaaaaaaaaa"), "t")
	cache.Put("a", []byte("aa"), "t")

	require.Equal(t, int64(2), cache.Size())
	data, _, ok := cache.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("aa"), data)
}
