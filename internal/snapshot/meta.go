package snapshot

import (
	"encoding/json"
	"os"
)

// Meta is the snapshot header advertised to followers.
type Meta struct {
	Checksum  string
	CreatedAt int64
	Version   int
}

// ReadMeta extracts header fields from an existing snapshot file without
// validating the data. Returns false when the file is absent or
// undecodable.
func ReadMeta(path string) (Meta, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, false
	}

	var doc struct {
		Version   int    `json:"version"`
		CreatedAt int64  `json:"created_at"`
		Checksum  string `json:"checksum"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Meta{}, false
	}
	return Meta{Checksum: doc.Checksum, CreatedAt: doc.CreatedAt, Version: doc.Version}, true
}
