package store

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"toska/internal/metrics"
)

// Index is the in-memory key space.
//
// Design principles:
// - Reads never take a lock: lookups go straight through a sync.Map.
// - All writes arrive serialized through the Store coordinator, so the
//   single-writer/many-reader contract of the map holds.
// - Expiry is lazy on lookup plus a periodic sweep; a read of an expired
//   entry removes it and reports a miss.
type Index struct {
	data    sync.Map // string -> Entry
	count   atomic.Int64
	metrics *metrics.Registry
}

// NewIndex creates an empty index.
func NewIndex(reg *metrics.Registry) *Index {
	return &Index{metrics: reg}
}

// Get returns the live value for key.
func (ix *Index) Get(key string) (string, bool) {
	ix.metrics.Inc(metrics.StoreGetsTotal)

	v, ok := ix.data.Load(key)
	if !ok {
		ix.metrics.Inc(metrics.StoreMissesTotal)
		return "", false
	}

	entry := v.(Entry)
	if entry.IsExpired(time.Now()) {
		ix.removeExpired(key, entry)
		ix.metrics.Inc(metrics.StoreMissesTotal)
		return "", false
	}
	return entry.Value, true
}

// MGet resolves each key to its value; unknown or expired keys map to nil.
func (ix *Index) MGet(keys []string) map[string]*string {
	out := make(map[string]*string, len(keys))
	for _, key := range keys {
		if value, ok := ix.Get(key); ok {
			v := value
			out[key] = &v
		} else {
			out[key] = nil
		}
	}
	return out
}

// Put installs or overwrites an entry. Coordinator-only.
func (ix *Index) Put(key string, entry Entry) {
	if _, loaded := ix.data.Swap(key, entry); !loaded {
		ix.count.Add(1)
	}
}

// Delete removes a key. Coordinator-only. Reports whether it was present.
func (ix *Index) Delete(key string) bool {
	if _, loaded := ix.data.LoadAndDelete(key); loaded {
		ix.count.Add(-1)
		return true
	}
	return false
}

// ListKeys returns up to limit keys matching prefix. The empty prefix
// matches everything; limit 0 yields the empty list. Expired entries met
// during iteration are removed on the spot. Order is unspecified.
func (ix *Index) ListKeys(prefix string, limit int) []string {
	keys := []string{}
	if limit == 0 {
		return keys
	}

	now := time.Now()
	ix.data.Range(func(k, v any) bool {
		key := k.(string)
		entry := v.(Entry)
		if entry.IsExpired(now) {
			ix.removeExpired(key, entry)
			return true
		}
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return true
		}
		keys = append(keys, key)
		return limit < 0 || len(keys) < limit
	})
	return keys
}

// Snapshot copies all live entries. Used by the snapshot writer.
func (ix *Index) Snapshot() map[string]Entry {
	now := time.Now()
	out := make(map[string]Entry)
	ix.data.Range(func(k, v any) bool {
		entry := v.(Entry)
		if !entry.IsExpired(now) {
			out[k.(string)] = entry
		}
		return true
	})
	return out
}

// RemoveExpired removes all entries dead at call time and returns the
// count. Used by the TTL sweeper.
func (ix *Index) RemoveExpired() int {
	now := time.Now()
	removed := 0
	ix.data.Range(func(k, v any) bool {
		entry := v.(Entry)
		if entry.IsExpired(now) {
			if ix.removeExpired(k.(string), entry) {
				removed++
			}
		}
		return true
	})
	return removed
}

// Reset discards every entry. Coordinator-only (snapshot replacement).
func (ix *Index) Reset() {
	ix.data.Clear()
	ix.count.Store(0)
}

// Len returns the current entry count, including not-yet-swept expired
// entries.
func (ix *Index) Len() int64 {
	return ix.count.Load()
}

// removeExpired deletes key only if it still holds the expired entry the
// caller observed, so a concurrent overwrite is never clobbered.
func (ix *Index) removeExpired(key string, seen Entry) bool {
	if ix.data.CompareAndDelete(key, seen) {
		ix.count.Add(-1)
		ix.metrics.Inc(metrics.StoreExpiredTotal)
		return true
	}
	return false
}
