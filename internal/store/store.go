package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"toska/internal/aof"
	"toska/internal/codec"
	"toska/internal/logs"
	"toska/internal/metrics"
	"toska/internal/snapshot"
)

// Options configures a Store.
type Options struct {
	DataDir      string
	AOFFile      string
	SnapshotFile string

	SyncMode           aof.SyncMode
	SyncInterval       time.Duration
	SnapshotInterval   time.Duration
	CompactionInterval time.Duration
	CompactionAOFBytes int64

	NodeID  string
	Logger  *logs.Logger
	Metrics *metrics.Registry
}

// Store is the single-writer coordinator over the index, the AOF and the
// snapshot file. All mutations serialize through writeMu so that AOF byte
// order always matches the order of visible index transitions. Reads skip
// the coordinator entirely and hit the index.
type Store struct {
	opts Options

	index *Index
	log   *aof.Log

	aofPath      string
	snapshotPath string

	writeMu      sync.Mutex
	running      atomic.Bool
	compacting   atomic.Bool
	lastSnapshot atomic.Pointer[snapshot.Meta]
	startedAt    time.Time

	logger  *logs.Logger
	metrics *metrics.Registry
}

// Open boots a store from disk:
//  1. create the data directory
//  2. load the snapshot, if valid, into the index
//  3. replay the AOF over it; later records supersede snapshot state
//  4. keep the AOF open for append
//
// Timers are started separately via Start.
func Open(opts Options) (*Store, error) {
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		opts:         opts,
		index:        NewIndex(opts.Metrics),
		aofPath:      filepath.Join(opts.DataDir, opts.AOFFile),
		snapshotPath: filepath.Join(opts.DataDir, opts.SnapshotFile),
		startedAt:    time.Now(),
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}

	now := time.Now()

	data, err := snapshot.Load(s.snapshotPath, now, s.logger)
	if err != nil {
		s.metrics.Inc(metrics.SnapshotLoadFailuresTotal)
		s.logger.Warnf("snapshot load failed, continuing with aof only: %v", err)
	}
	for key, e := range data {
		s.index.Put(key, Entry{Value: e.Value, ExpiresAt: e.ExpiresAt})
	}
	if meta, ok := snapshot.ReadMeta(s.snapshotPath); ok {
		s.lastSnapshot.Store(&meta)
	}

	s.log, err = aof.Open(s.aofPath, opts.SyncMode, s.logger, s.metrics)
	if err != nil {
		return nil, err
	}

	records, err := s.log.Replay(now)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		s.applyRecord(rec)
	}

	s.running.Store(true)
	s.logger.Infof("store opened: %d keys, aof=%d bytes", s.index.Len(), s.log.Size())
	return s, nil
}

// applyRecord folds one durable record into the index. Caller holds the
// writer (or is the single-threaded boot path).
func (s *Store) applyRecord(rec codec.Record) {
	switch rec.Op {
	case codec.OpSet:
		s.index.Put(rec.Key, Entry{Value: rec.Value, ExpiresAt: rec.ExpiresAt})
	case codec.OpDel:
		s.index.Delete(rec.Key)
	}
}

// Put stores value under key. ttl may be nil (no expiry), a number of
// milliseconds, or a string holding one; see normalizeTTL for the edge
// cases. A non-positive TTL deletes the key instead of storing it.
func (s *Store) Put(key, value string, ttl any) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	if key == "" {
		return ErrInvalidKey
	}

	expiresAt, expired := normalizeTTL(ttl, time.Now())
	if expired {
		// already dead on arrival: durably record the delete, never the set
		return s.Delete(key)
	}

	rec, err := codec.NewSet(key, value, expiresAt)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.index.Put(key, Entry{Value: value, ExpiresAt: expiresAt})
	s.metrics.Inc(metrics.StoreSetsTotal)
	if err := s.log.Append(rec); err != nil {
		// in-memory state stands; the next mutation retries the file
		s.logger.Warnf("put %q: aof append failed: %v", key, err)
	}

	s.maybeCompactBySize()
	return nil
}

// Delete removes key and appends a del record. Deleting an absent key is
// still recorded so replay and replicas converge on the same final state.
func (s *Store) Delete(key string) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	if key == "" {
		return ErrInvalidKey
	}

	rec, err := codec.NewDel(key)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.index.Delete(key)
	s.metrics.Inc(metrics.StoreDeletesTotal)
	if err := s.log.Append(rec); err != nil {
		s.logger.Warnf("delete %q: aof append failed: %v", key, err)
	}
	return nil
}

// Get reads a key directly from the index.
func (s *Store) Get(key string) (string, error) {
	if !s.running.Load() {
		return "", ErrNotRunning
	}
	value, ok := s.index.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// MGet resolves many keys at once; unknown keys map to nil.
func (s *Store) MGet(keys []string) (map[string]*string, error) {
	if !s.running.Load() {
		return nil, ErrNotRunning
	}
	return s.index.MGet(keys), nil
}

// maxPrefixLen caps prefix filters; keys longer than this would never be
// written by a sane client and scanning for them is wasted work.
const maxPrefixLen = 512

// ListKeys lists up to limit keys with the given prefix. The prefix must
// be valid UTF-8 (keys are UTF-8 byte strings, so a malformed prefix can
// never match) and within maxPrefixLen.
func (s *Store) ListKeys(prefix string, limit int) ([]string, error) {
	if !s.running.Load() {
		return nil, ErrNotRunning
	}
	if !utf8.ValidString(prefix) || len(prefix) > maxPrefixLen {
		return nil, ErrInvalidPrefix
	}
	return s.index.ListKeys(prefix, limit), nil
}

// RemoveExpired sweeps dead entries out of the index.
func (s *Store) RemoveExpired() int {
	return s.index.RemoveExpired()
}

// Snapshot writes the full live state to the snapshot file and truncates
// the AOF. After it returns, recovery needs only the new snapshot.
func (s *Store) Snapshot() (*snapshot.Meta, error) {
	if !s.running.Load() {
		return nil, ErrNotRunning
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() (*snapshot.Meta, error) {
	data := make(map[string]snapshot.Entry, s.index.Len())
	for key, e := range s.index.Snapshot() {
		data[key] = snapshot.Entry{Value: e.Value, ExpiresAt: e.ExpiresAt}
	}

	file, err := snapshot.Write(s.snapshotPath, data)
	if err != nil {
		s.metrics.Inc(metrics.SnapshotWriteErrorsTotal)
		return nil, err
	}
	s.metrics.Inc(metrics.SnapshotWritesTotal)

	meta := snapshot.Meta{Checksum: file.Checksum, CreatedAt: file.CreatedAt, Version: file.Version}
	s.lastSnapshot.Store(&meta)

	if err := s.log.Truncate(); err != nil {
		s.logger.Warnf("snapshot: aof truncate failed: %v", err)
	}
	return &meta, nil
}

// Compact runs the snapshot-then-truncate sequence on demand.
func (s *Store) Compact() error {
	if _, err := s.Snapshot(); err != nil {
		return err
	}
	s.metrics.Inc(metrics.CompactionRunsTotal)
	return nil
}

// maybeCompactBySize triggers compaction when the log outgrows the
// configured threshold. Runs with writeMu held; the actual compaction is
// deferred to a fresh goroutine so the triggering mutation returns.
func (s *Store) maybeCompactBySize() {
	if s.opts.CompactionAOFBytes <= 0 {
		return
	}
	if s.log.Size() < s.opts.CompactionAOFBytes {
		return
	}
	if !s.compacting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.compacting.Store(false)
		if err := s.Compact(); err != nil {
			s.logger.Warnf("size-triggered compaction failed: %v", err)
		}
	}()
}

// ReplaceSnapshot swaps the entire local state for a leader snapshot
// payload (the decoded JSON document). Used by the follower during
// bootstrap. The payload must carry a data map; when a checksum is
// present it must verify.
func (s *Store) ReplaceSnapshot(payload any) error {
	if !s.running.Load() {
		return ErrNotRunning
	}

	doc, ok := payload.(map[string]any)
	if !ok {
		return ErrInvalidSnapshot
	}
	rawData, ok := doc["data"].(map[string]any)
	if !ok {
		return ErrInvalidSnapshot
	}
	if sum, ok := doc["checksum"].(string); ok && sum != "" {
		match, err := codec.Verify(rawData, sum)
		if err != nil || !match {
			return ErrInvalidChecksum
		}
	}

	nowMs := time.Now().UnixMilli()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.index.Reset()
	for key, v := range rawData {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		value, ok := m["value"].(string)
		if !ok {
			continue
		}
		entry := Entry{Value: value}
		if exp, ok := m["expires_at"].(float64); ok {
			entry.ExpiresAt = int64(exp)
		}
		if entry.ExpiresAt > 0 && entry.ExpiresAt <= nowMs {
			continue
		}
		s.index.Put(key, entry)
	}

	if _, err := s.snapshotLocked(); err != nil {
		return err
	}
	s.logger.Infof("replaced local state from leader snapshot: %d keys", s.index.Len())
	return nil
}

// ApplyReplication folds a batch of leader records into local state in
// order, appending each to the local AOF. Records with a checksum that
// does not verify are skipped silently; records without one are accepted.
func (s *Store) ApplyReplication(records []codec.Record) error {
	if !s.running.Load() {
		return ErrNotRunning
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	nowMs := time.Now().UnixMilli()
	for _, rec := range records {
		if rec.Op != codec.OpSet && rec.Op != codec.OpDel {
			return ErrInvalidReplicationRecord
		}
		if !rec.VerifyChecksum() {
			s.metrics.Inc(metrics.AOFSkippedLinesTotal)
			continue
		}
		if rec.Op == codec.OpSet && rec.ExpiresAt > 0 && rec.ExpiresAt <= nowMs {
			continue
		}
		s.applyRecord(rec)
		s.metrics.Inc(metrics.ReplicationRecordsTotal)
		if err := s.log.Append(rec); err != nil {
			s.logger.Warnf("replication apply: aof append failed: %v", err)
		}
	}
	return nil
}

// Stats reports counters, file sizes and the durability settings.
func (s *Store) Stats() map[string]any {
	stats := map[string]any{
		"node_id":                s.opts.NodeID,
		"keys":                   s.index.Len(),
		"aof_size_bytes":         s.log.Size(),
		"snapshot_size_bytes":    snapshot.Size(s.snapshotPath),
		"sync_mode":              string(s.opts.SyncMode),
		"sync_interval_ms":       s.opts.SyncInterval.Milliseconds(),
		"snapshot_interval_ms":   s.opts.SnapshotInterval.Milliseconds(),
		"compaction_interval_ms": s.opts.CompactionInterval.Milliseconds(),
		"compaction_aof_bytes":   s.opts.CompactionAOFBytes,
		"uptime_ms":              time.Since(s.startedAt).Milliseconds(),
	}
	if meta := s.lastSnapshot.Load(); meta != nil {
		stats["last_snapshot_at"] = meta.CreatedAt
		stats["last_snapshot_checksum"] = meta.Checksum
	}
	return stats
}

// ReplicationInfo is the leader-side metadata advertised to followers.
type ReplicationInfo struct {
	SnapshotPath      string `json:"snapshot_path"`
	SnapshotChecksum  string `json:"snapshot_checksum"`
	SnapshotCreatedAt int64  `json:"snapshot_created_at"`
	SnapshotVersion   int    `json:"snapshot_version"`
	AOFPath           string `json:"aof_path"`
	AOFSize           int64  `json:"aof_size"`
	AOFVersion        int    `json:"aof_version"`
}

// Info returns the current replication metadata.
func (s *Store) Info() ReplicationInfo {
	info := ReplicationInfo{
		SnapshotPath: s.snapshotPath,
		AOFPath:      s.aofPath,
		AOFSize:      s.log.Size(),
		AOFVersion:   codec.SchemaVersion,
	}
	if meta := s.lastSnapshot.Load(); meta != nil {
		info.SnapshotChecksum = meta.Checksum
		info.SnapshotCreatedAt = meta.CreatedAt
		info.SnapshotVersion = meta.Version
	}
	return info
}

// AOFPath returns the path the leader endpoints stream from.
func (s *Store) AOFPath() string { return s.aofPath }

// SnapshotPath returns the snapshot file path.
func (s *Store) SnapshotPath() string { return s.snapshotPath }

// Running reports whether the store accepts operations.
func (s *Store) Running() bool { return s.running.Load() }

// Close stops accepting operations and flushes the AOF. No snapshot is
// written at shutdown; recovery replays the log instead.
func (s *Store) Close() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	return s.log.Close()
}

// normalizeTTL turns a request-supplied TTL into an absolute expiry.
//
// Rules:
// - nil / absent: immortal (0, false)
// - number <= 0: treat the key as already expired
// - number > 0: now + ttl milliseconds
// - string: parsed as an integer; unparseable strings behave as absent
func normalizeTTL(ttl any, now time.Time) (expiresAt int64, expired bool) {
	var ms int64
	switch v := ttl.(type) {
	case nil:
		return 0, false
	case int:
		ms = int64(v)
	case int64:
		ms = v
	case float64:
		ms = int64(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		ms = n
	default:
		return 0, false
	}

	if ms <= 0 {
		return 0, true
	}
	return now.UnixMilli() + ms, false
}
