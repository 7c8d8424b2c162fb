package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"toska/internal/aof"
)

const (
	headerSnapshotChecksum = "x-toska-snapshot-checksum"
	headerSnapshotVersion  = "x-toska-snapshot-version"
	headerAOFVersion       = "x-toska-aof-version"
	headerAOFSize          = "x-toska-aof-size"
	headerAOFOffset        = "x-toska-aof-offset"

	defaultRangeBytes = 1 << 20
	maxRangeBytes     = 8 << 20
)

/* ---------------- GET /replication/info ---------------- */

func (h *Handler) ReplicationInfo(w http.ResponseWriter, r *http.Request) {
	if !h.storeUp(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.store.Info())
}

/* ---------------- GET /replication/snapshot ---------------- */

// ReplicationSnapshot writes a fresh snapshot and streams the file
// verbatim, so a bootstrapping follower starts from the log's truncation
// point and can tail from offset 0.
func (h *Handler) ReplicationSnapshot(w http.ResponseWriter, r *http.Request) {
	if !h.storeUp(w) {
		return
	}

	meta, err := h.store.Snapshot()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot failed")
		return
	}

	f, err := os.Open(h.store.SnapshotPath())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot unreadable")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(headerSnapshotChecksum, meta.Checksum)
	w.Header().Set(headerSnapshotVersion, strconv.Itoa(meta.Version))
	w.Header().Set(headerAOFVersion, strconv.Itoa(h.store.Info().AOFVersion))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		h.logger.Warnf("snapshot stream aborted: %v", err)
	}
}

/* ---------------- GET /replication/aof ---------------- */

func (h *Handler) ReplicationAOF(w http.ResponseWriter, r *http.Request) {
	if !h.storeUp(w) {
		return
	}

	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		since = n
	}

	maxBytes := int64(defaultRangeBytes)
	if raw := r.URL.Query().Get("max_bytes"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			maxBytes = n
		}
	}
	if maxBytes > maxRangeBytes {
		maxBytes = maxRangeBytes
	}

	rng, err := aof.ReadRange(h.store.AOFPath(), since, maxBytes)
	if err != nil {
		if errors.Is(err, aof.ErrInvalidOffset) {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "aof unreadable")
		return
	}

	w.Header().Set(headerAOFSize, strconv.FormatInt(rng.Size, 10))

	if len(rng.Data) == 0 {
		// caller is caught up (or ahead, after a compaction)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set(headerAOFOffset, strconv.FormatInt(rng.Offset, 10))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rng.Data)
}

/* ---------------- GET /replication/status ---------------- */

func (h *Handler) ReplicationStatus(w http.ResponseWriter, r *http.Request) {
	if h.follower == nil {
		writeError(w, http.StatusNotFound, "not a follower")
		return
	}
	writeJSON(w, http.StatusOK, h.follower.Status())
}
