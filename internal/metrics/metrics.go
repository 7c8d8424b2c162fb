package metrics

import (
	"sync"
	"sync/atomic"
)

// MetricKey is a strongly typed metric identifier.
type MetricKey string

// Metric keys (centralized)
const (
	// Store
	StoreKeysTotal    MetricKey = "store_keys_total"
	StoreSetsTotal    MetricKey = "store_sets_total"
	StoreDeletesTotal MetricKey = "store_deletes_total"
	StoreGetsTotal    MetricKey = "store_gets_total"
	StoreMissesTotal  MetricKey = "store_misses_total"
	StoreExpiredTotal MetricKey = "store_expired_total"

	// AOF
	AOFAppendsTotal      MetricKey = "aof_appends_total"
	AOFWriteErrorsTotal  MetricKey = "aof_write_errors_total"
	AOFReplayedTotal     MetricKey = "aof_replayed_total"
	AOFSkippedLinesTotal MetricKey = "aof_skipped_lines_total"
	AOFSyncErrorsTotal   MetricKey = "aof_sync_errors_total"

	// Snapshot / compaction
	SnapshotWritesTotal       MetricKey = "snapshot_writes_total"
	SnapshotWriteErrorsTotal  MetricKey = "snapshot_write_errors_total"
	SnapshotLoadFailuresTotal MetricKey = "snapshot_load_failures_total"
	CompactionRunsTotal       MetricKey = "compaction_runs_total"

	// Maintenance
	TTLSweepRunsTotal      MetricKey = "ttl_sweep_runs_total"
	TTLKeysRemovedTotal    MetricKey = "ttl_keys_removed_total"
	BucketsEvictedTotal    MetricKey = "ratelimit_buckets_evicted_total"

	// Replication (follower side)
	ReplicationPollsTotal        MetricKey = "replication_polls_total"
	ReplicationRecordsTotal      MetricKey = "replication_records_total"
	ReplicationBootstrapsTotal   MetricKey = "replication_bootstraps_total"
	ReplicationFailuresTotal     MetricKey = "replication_failures_total"
	ReplicationRebootstrapsTotal MetricKey = "replication_rebootstraps_total"

	// Access middleware
	AuthRejectedTotal      MetricKey = "auth_rejected_total"
	RateLimitRejectedTotal MetricKey = "rate_limit_rejected_total"
	ReadOnlyRejectedTotal  MetricKey = "read_only_rejected_total"
)

// Registry holds the node's counters. Each counter lives in its own
// atomic cell inside a sync.Map, so the steady-state path — bumping a
// counter that already exists — is one lookup plus one atomic add, with
// no lock shared across keys. The write lock of a mutex-guarded map
// would serialize the AOF append path against every unrelated request
// counter; cells avoid that entirely.
type Registry struct {
	cells sync.Map // MetricKey -> *atomic.Int64
}

// NewRegistry creates a metrics registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Inc increments a metric by 1.
func (r *Registry) Inc(key MetricKey) {
	r.Add(key, 1)
}

// Add increments a metric by delta, materializing the cell on first use.
func (r *Registry) Add(key MetricKey, delta int64) {
	cell, ok := r.cells.Load(key)
	if !ok {
		// first touch; LoadOrStore keeps concurrent initializers convergent
		cell, _ = r.cells.LoadOrStore(key, new(atomic.Int64))
	}
	cell.(*atomic.Int64).Add(delta)
}

// Get returns the current value of a single metric. A never-touched
// metric reads as zero.
func (r *Registry) Get(key MetricKey) int64 {
	if cell, ok := r.cells.Load(key); ok {
		return cell.(*atomic.Int64).Load()
	}
	return 0
}

// Snapshot returns a point-in-time copy of every counter, detached from
// the live cells so callers can't mutate the registry through it.
func (r *Registry) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	r.cells.Range(func(k, v any) bool {
		out[string(k.(MetricKey))] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}
