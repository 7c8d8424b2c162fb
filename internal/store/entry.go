package store

import "time"

// Entry represents a single value held in the index.
//
// ExpiresAt is an absolute wall-clock deadline in milliseconds since the
// Unix epoch. Zero means the entry never expires.
type Entry struct {
	Value     string
	ExpiresAt int64
}

// IsExpired checks whether the entry is expired at the given time.
func (e Entry) IsExpired(now time.Time) bool {
	return e.ExpiresAt > 0 && e.ExpiresAt <= now.UnixMilli()
}
