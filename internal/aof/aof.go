package aof

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"toska/internal/codec"
	"toska/internal/logs"
	"toska/internal/metrics"
)

// SyncMode controls when appended records reach stable storage.
type SyncMode string

const (
	SyncAlways   SyncMode = "always"   // fsync after every append
	SyncInterval SyncMode = "interval" // fsync on a timer
	SyncNone     SyncMode = "none"     // leave it to the OS
)

// Log is the append-only mutation log.
//
// Behavior:
// - Append writes one JSON line per record; order on disk is append order.
// - Replay decodes the file line by line, skipping lines that fail to
//   decode or whose checksum does not verify. Corruption is never fatal.
// - Truncate drops the file to zero length; called only after a snapshot
//   has been committed.
type Log struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	mode    SyncMode
	logger  *logs.Logger
	metrics *metrics.Registry
}

// Open creates the log at path, opening the file for append.
func Open(path string, mode SyncMode, logger *logs.Logger, reg *metrics.Registry) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open aof: %w", err)
	}
	return &Log{
		path:    path,
		file:    f,
		mode:    mode,
		logger:  logger,
		metrics: reg,
	}, nil
}

// Append writes one record as a JSON line. In SyncAlways mode the write is
// fsynced before returning. A write failure is logged and returned; the
// caller keeps its in-memory state and the next mutation retries.
func (l *Log) Append(rec codec.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode aof record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(data); err != nil {
		l.metrics.Inc(metrics.AOFWriteErrorsTotal)
		l.logger.Errorf("aof append failed: %v", err)
		return fmt.Errorf("aof append: %w", err)
	}
	l.metrics.Inc(metrics.AOFAppendsTotal)

	if l.mode == SyncAlways {
		if err := l.file.Sync(); err != nil {
			l.metrics.Inc(metrics.AOFSyncErrorsTotal)
			l.logger.Warnf("aof fsync failed: %v", err)
		}
	}
	return nil
}

// Sync flushes buffered writes to disk. Used by the interval-mode timer.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Sync(); err != nil {
		l.metrics.Inc(metrics.AOFSyncErrorsTotal)
		return fmt.Errorf("aof sync: %w", err)
	}
	return nil
}

// Replay reads every record from the log file in append order. Records
// whose checksum fails verification and lines that do not decode are
// logged and skipped. Set records whose expiry is already past at `now`
// are dropped here so the caller applies only live state.
//
// A missing file is an empty replay.
func (l *Log) Replay(now time.Time) ([]codec.Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open aof for replay: %w", err)
	}
	defer f.Close()

	nowMs := now.UnixMilli()
	var applied []codec.Record

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec codec.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			l.metrics.Inc(metrics.AOFSkippedLinesTotal)
			l.logger.Warnf("aof replay: skipping undecodable line %d: %v", lineNo, err)
			continue
		}
		if !rec.VerifyChecksum() {
			l.metrics.Inc(metrics.AOFSkippedLinesTotal)
			l.logger.Warnf("aof replay: skipping line %d with bad checksum (key=%s)", lineNo, rec.Key)
			continue
		}
		if rec.Op == codec.OpSet && rec.ExpiresAt > 0 && rec.ExpiresAt <= nowMs {
			// already expired; applying it would be immediately undone
			continue
		}
		applied = append(applied, rec)
		l.metrics.Inc(metrics.AOFReplayedTotal)
	}
	if err := scanner.Err(); err != nil {
		l.logger.Warnf("aof replay: stopped early: %v", err)
	}
	return applied, nil
}

// Truncate resets the log to zero length and reopens it for append.
// Only called immediately after a successful snapshot commit.
func (l *Log) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		l.logger.Warnf("aof truncate: close failed: %v", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("aof truncate: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("aof truncate: %w", err)
	}

	l.file, err = os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("aof truncate: reopen: %w", err)
	}
	return nil
}

// Size returns the current byte length of the log file.
func (l *Log) Size() int64 {
	info, err := os.Stat(l.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Close flushes and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Sync(); err != nil {
		l.logger.Warnf("aof close: fsync failed: %v", err)
	}
	return l.file.Close()
}
