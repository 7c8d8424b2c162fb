package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toska/internal/metrics"
)

func TestIndexGetPut(t *testing.T) {
	ix := NewIndex(metrics.NewRegistry())

	t.Run("put and get existing key", func(t *testing.T) {
		ix.Put("key1", Entry{Value: "hello"})

		val, ok := ix.Get("key1")
		require.True(t, ok)
		assert.Equal(t, "hello", val)
	})

	t.Run("get non-existing key", func(t *testing.T) {
		_, ok := ix.Get("missing")
		assert.False(t, ok)
	})
}

func TestIndexDelete(t *testing.T) {
	ix := NewIndex(metrics.NewRegistry())

	ix.Put("key1", Entry{Value: "1"})
	assert.True(t, ix.Delete("key1"))
	assert.False(t, ix.Delete("key1"))

	_, ok := ix.Get("key1")
	assert.False(t, ok)
}

func TestIndexGet_ExpiredKeyIsDeleted(t *testing.T) {
	reg := metrics.NewRegistry()
	ix := NewIndex(reg)

	ix.Put("temp", Entry{Value: "v", ExpiresAt: time.Now().Add(-time.Millisecond).UnixMilli()})

	val, ok := ix.Get("temp")
	assert.False(t, ok)
	assert.Equal(t, "", val)
	assert.Equal(t, int64(0), ix.Len())
	assert.Equal(t, int64(1), reg.Get(metrics.StoreExpiredTotal))
}

func TestIndexMGet(t *testing.T) {
	ix := NewIndex(metrics.NewRegistry())
	ix.Put("a", Entry{Value: "1"})
	ix.Put("b", Entry{Value: "2"})

	out := ix.MGet([]string{"a", "b", "nope"})
	require.Len(t, out, 3)

	require.NotNil(t, out["a"])
	assert.Equal(t, "1", *out["a"])
	require.NotNil(t, out["b"])
	assert.Equal(t, "2", *out["b"])
	assert.Nil(t, out["nope"])
}

func TestIndexListKeys(t *testing.T) {
	ix := NewIndex(metrics.NewRegistry())
	for i := 0; i < 5; i++ {
		ix.Put(fmt.Sprintf("user:%d", i), Entry{Value: "u"})
	}
	ix.Put("order:1", Entry{Value: "o"})
	ix.Put("expired:1", Entry{Value: "x", ExpiresAt: time.Now().Add(-time.Second).UnixMilli()})

	t.Run("prefix match", func(t *testing.T) {
		keys := ix.ListKeys("user:", 100)
		assert.Len(t, keys, 5)
	})

	t.Run("empty prefix matches all live keys", func(t *testing.T) {
		keys := ix.ListKeys("", 100)
		assert.Len(t, keys, 6, "expired entry must not be listed")
	})

	t.Run("limit caps results", func(t *testing.T) {
		keys := ix.ListKeys("user:", 2)
		assert.Len(t, keys, 2)
	})

	t.Run("limit zero yields empty list", func(t *testing.T) {
		keys := ix.ListKeys("", 0)
		assert.NotNil(t, keys)
		assert.Empty(t, keys)
	})
}

func TestIndexRemoveExpired(t *testing.T) {
	ix := NewIndex(metrics.NewRegistry())

	ix.Put("k1", Entry{Value: "v1", ExpiresAt: time.Now().Add(-time.Second).UnixMilli()})
	ix.Put("k2", Entry{Value: "v2"})

	removed := ix.RemoveExpired()
	assert.Equal(t, 1, removed)

	_, ok := ix.Get("k1")
	assert.False(t, ok)
	_, ok = ix.Get("k2")
	assert.True(t, ok)
}

func TestIndexSnapshot_FiltersExpired(t *testing.T) {
	ix := NewIndex(metrics.NewRegistry())

	ix.Put("alive", Entry{Value: "ok", ExpiresAt: time.Now().Add(time.Second).UnixMilli()})
	ix.Put("expired", Entry{Value: "gone", ExpiresAt: time.Now().Add(-time.Second).UnixMilli()})

	snap := ix.Snapshot()
	_, okAlive := snap["alive"]
	_, okExpired := snap["expired"]

	assert.True(t, okAlive, "non-expired key should be included")
	assert.False(t, okExpired, "expired key should not be included")
}

func TestIndexConcurrentReadsDuringWrites(t *testing.T) {
	ix := NewIndex(metrics.NewRegistry())
	ix.Put("key", Entry{Value: "v0"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ix.Put("key", Entry{Value: fmt.Sprintf("v%d", n)})
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			// readers must always see a complete value
			if v, ok := ix.Get("key"); ok {
				assert.NotEmpty(t, v)
			}
		}()
	}
	wg.Wait()

	_, ok := ix.Get("key")
	assert.True(t, ok)
}
