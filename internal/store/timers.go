package store

import (
	"context"
	"time"

	"toska/internal/aof"
)

// Start launches the store's background timers: interval fsync, periodic
// snapshot and periodic compaction. They run until ctx is cancelled. The
// TTL sweeper is a separate component (internal/ttl) wired in by the
// caller.
func (s *Store) Start(ctx context.Context) {
	if s.opts.SyncMode == aof.SyncInterval && s.opts.SyncInterval > 0 {
		go s.runTicker(ctx, s.opts.SyncInterval, func() {
			if err := s.log.Sync(); err != nil {
				s.logger.Warnf("interval fsync failed: %v", err)
			}
		})
	}

	if s.opts.SnapshotInterval > 0 {
		go s.runTicker(ctx, s.opts.SnapshotInterval, func() {
			if _, err := s.Snapshot(); err != nil {
				s.logger.Warnf("periodic snapshot failed: %v", err)
			}
		})
	}

	if s.opts.CompactionInterval > 0 {
		go s.runTicker(ctx, s.opts.CompactionInterval, func() {
			if err := s.Compact(); err != nil {
				s.logger.Warnf("periodic compaction failed: %v", err)
			}
		})
	}
}

func (s *Store) runTicker(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.running.Load() {
				return
			}
			fn()
		case <-ctx.Done():
			return
		}
	}
}
