package replication

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"toska/internal/codec"
	"toska/internal/config"
	"toska/internal/logs"
	"toska/internal/metrics"
)

// State names the follower's position in its replication lifecycle.
type State string

const (
	StateBootstrapping State = "BOOTSTRAPPING"
	StateTailing       State = "TAILING"
	StateError         State = "ERROR"
)

const (
	offsetFileName = "replica.offset"
	pollMaxBytes   = 65536
)

// Applier is what the follower needs from the local store.
type Applier interface {
	ReplaceSnapshot(payload any) error
	ApplyReplication(records []codec.Record) error
}

// Status is the externally visible follower state, served at
// /replication/status.
type Status struct {
	State          State  `json:"state"`
	LeaderURL      string `json:"leader_url"`
	Offset         int64  `json:"offset"`
	LastSnapshotAt int64  `json:"last_snapshot_at,omitempty"`
	LastPollAt     int64  `json:"last_poll_at,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

// Follower tails a leader's AOF by byte offset.
//
// Lifecycle: bootstrap from the leader snapshot, persist offset 0, then
// poll the AOF range endpoint every tick, applying whole JSON lines and
// persisting the advanced offset after each successful poll. A leader
// whose advertised AOF size drops below our offset has compacted; the
// follower re-bootstraps from a fresh snapshot.
type Follower struct {
	cache      *config.Cache
	applier    Applier
	client     *http.Client
	interval   time.Duration
	offsetPath string

	mu           sync.Mutex
	offset       int64
	bootstrapped bool
	status       Status

	logger  *logs.Logger
	metrics *metrics.Registry
}

// NewFollower wires a follower against the local store. The leader URL is
// re-read from the hot-path config cache on every tick.
func NewFollower(
	cache *config.Cache,
	applier Applier,
	dataDir string,
	pollInterval time.Duration,
	httpTimeout time.Duration,
	logger *logs.Logger,
	reg *metrics.Registry,
) *Follower {
	f := &Follower{
		cache:      cache,
		applier:    applier,
		client:     &http.Client{Timeout: httpTimeout},
		interval:   pollInterval,
		offsetPath: filepath.Join(dataDir, offsetFileName),
		logger:     logger,
		metrics:    reg,
	}

	if off, ok := f.loadOffset(); ok {
		// a persisted offset means a previous run already bootstrapped
		f.offset = off
		f.bootstrapped = true
		f.status.State = StateTailing
	} else {
		f.status.State = StateBootstrapping
	}
	f.status.Offset = f.offset
	return f
}

// Start runs the poll loop until ctx is cancelled. Blocks; run it in its
// own goroutine.
func (f *Follower) Start(ctx context.Context) {
	f.logger.Infof("follower started, leader=%s", f.cache.ReplicaURL())

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	// first tick immediately so a fresh follower converges fast
	f.tick(ctx)
	for {
		select {
		case <-ticker.C:
			f.tick(ctx)
		case <-ctx.Done():
			f.logger.Debug("follower stopped")
			return
		}
	}
}

// Status returns a copy of the follower's visible state.
func (f *Follower) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := f.status
	st.LeaderURL = f.cache.ReplicaURL()
	st.Offset = f.offset
	return st
}

func (f *Follower) tick(ctx context.Context) {
	leader := f.cache.ReplicaURL()
	if leader == "" {
		return
	}

	f.mu.Lock()
	needBootstrap := !f.bootstrapped
	f.mu.Unlock()

	if needBootstrap {
		f.bootstrap(ctx, leader)
		return
	}
	f.poll(ctx, leader)
}

// bootstrap fetches the leader snapshot and swaps local state for it.
// On success tailing resumes from offset 0.
func (f *Follower) bootstrap(ctx context.Context, leader string) {
	f.metrics.Inc(metrics.ReplicationBootstrapsTotal)

	var payload map[string]any
	err := withRetries(ctx, bootstrapAttempts, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, leader+"/replication/snapshot", nil)
		if err != nil {
			return err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("leader snapshot: unexpected status %s", resp.Status)
		}
		payload = nil
		return json.NewDecoder(resp.Body).Decode(&payload)
	})
	if err != nil {
		f.fail(fmt.Errorf("bootstrap: %w", err))
		return
	}

	if err := f.applier.ReplaceSnapshot(payload); err != nil {
		f.fail(fmt.Errorf("bootstrap apply: %w", err))
		return
	}

	f.mu.Lock()
	f.offset = 0
	f.bootstrapped = true
	f.status.State = StateTailing
	f.status.LastSnapshotAt = time.Now().UnixMilli()
	f.status.LastError = ""
	f.mu.Unlock()

	if err := f.persistOffset(0); err != nil {
		f.logger.Warnf("bootstrap: offset persist failed: %v", err)
	}
	f.logger.Info("bootstrap complete, tailing from offset 0")
}

// poll requests the next AOF chunk and applies it.
func (f *Follower) poll(ctx context.Context, leader string) {
	f.metrics.Inc(metrics.ReplicationPollsTotal)

	f.mu.Lock()
	offset := f.offset
	f.mu.Unlock()

	url := fmt.Sprintf("%s/replication/aof?since=%d&max_bytes=%d", leader, offset, pollMaxBytes)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		f.fail(fmt.Errorf("poll: %w", err))
		return
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.fail(fmt.Errorf("poll: %w", err))
		return
	}
	defer resp.Body.Close()

	leaderSize, _ := strconv.ParseInt(resp.Header.Get("x-toska-aof-size"), 10, 64)

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			f.fail(fmt.Errorf("poll read: %w", err))
			return
		}

		capped := int64(len(body)) >= pollMaxBytes
		if capped {
			// a capped chunk can end inside a record; leave the partial
			// line for the next poll
			if nl := bytes.LastIndexByte(body, '\n'); nl >= 0 {
				body = body[:nl+1]
			}
		}

		records := decodeRecords(body, f.logger)
		if len(records) > 0 {
			if err := f.applier.ApplyReplication(records); err != nil {
				f.fail(fmt.Errorf("poll apply: %w", err))
				return
			}
		}

		next := offset + int64(len(body))
		if leaderSize > next && !capped {
			// short final chunk: trust the advertised size so the offset
			// lands exactly on the leader's tail
			next = leaderSize
		}
		f.advance(next)

	case http.StatusNoContent:
		if leaderSize < offset {
			// the leader compacted underneath us; our offset points past
			// the truncated log, so tailing would stall forever
			f.logger.Warnf("leader aof truncated (size=%d < offset=%d), re-bootstrapping", leaderSize, offset)
			f.metrics.Inc(metrics.ReplicationRebootstrapsTotal)
			f.mu.Lock()
			f.bootstrapped = false
			f.status.State = StateBootstrapping
			f.mu.Unlock()
			return
		}
		next := offset
		if leaderSize > next {
			next = leaderSize
		}
		f.advance(next)

	default:
		f.fail(fmt.Errorf("poll: unexpected status %s", resp.Status))
	}
}

// advance records a successful poll and persists the new offset.
func (f *Follower) advance(next int64) {
	f.mu.Lock()
	f.offset = next
	f.status.State = StateTailing
	f.status.LastPollAt = time.Now().UnixMilli()
	f.status.LastError = ""
	f.mu.Unlock()

	if err := f.persistOffset(next); err != nil {
		f.logger.Warnf("offset persist failed: %v", err)
	}
}

// fail records the error; the offset is not advanced and the current step
// is retried on the next tick.
func (f *Follower) fail(err error) {
	f.metrics.Inc(metrics.ReplicationFailuresTotal)
	f.logger.Warnf("replication: %v", err)

	f.mu.Lock()
	f.status.State = StateError
	f.status.LastError = err.Error()
	f.status.LastPollAt = time.Now().UnixMilli()
	f.mu.Unlock()
}

func (f *Follower) loadOffset() (int64, bool) {
	raw, err := os.ReadFile(f.offsetPath)
	if err != nil {
		return 0, false
	}
	off, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || off < 0 {
		return 0, false
	}
	return off, true
}

func (f *Follower) persistOffset(off int64) error {
	return os.WriteFile(f.offsetPath, []byte(strconv.FormatInt(off, 10)), 0o644)
}

// decodeRecords splits an AOF chunk into records, one JSON document per
// line. Lines that fail to decode are skipped. poll trims a chunk that was
// capped at max_bytes back to its last newline before calling this.
func decodeRecords(body []byte, logger *logs.Logger) []codec.Record {
	var records []codec.Record

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec codec.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Warnf("replication: skipping undecodable record: %v", err)
			continue
		}
		records = append(records, rec)
	}
	return records
}
