package store

import "errors"

var (
	ErrNotFound                 = errors.New("not_found")
	ErrNotRunning               = errors.New("not_running")
	ErrInvalidKey               = errors.New("invalid_key")
	ErrInvalidPayload           = errors.New("invalid_payload")
	ErrInvalidKeys              = errors.New("invalid_keys")
	ErrInvalidPrefix            = errors.New("invalid_prefix")
	ErrInvalidSnapshot          = errors.New("invalid_snapshot")
	ErrInvalidChecksum          = errors.New("invalid_checksum")
	ErrInvalidReplicationRecord = errors.New("invalid_replication_record")
)
