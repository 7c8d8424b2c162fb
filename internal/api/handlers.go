package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"toska/internal/health"
	"toska/internal/logs"
	"toska/internal/metrics"
	"toska/internal/replication"
	"toska/internal/store"
)

const defaultListLimit = 100

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	metrics  *metrics.Registry
	logger   *logs.Logger
	analyzer *health.Analyzer
	follower *replication.Follower // nil on a leader
}

// NewHandler creates a new API handler. follower may be nil.
func NewHandler(
	st *store.Store,
	reg *metrics.Registry,
	logger *logs.Logger,
	follower *replication.Follower,
) *Handler {
	return &Handler{
		store:    st,
		metrics:  reg,
		logger:   logger,
		analyzer: health.NewAnalyzer(reg, logger),
		follower: follower,
	}
}

func (h *Handler) storeUp(w http.ResponseWriter) bool {
	if h.store == nil || !h.store.Running() {
		writeError(w, http.StatusServiceUnavailable, "store not running")
		return false
	}
	return true
}

/* ---------------- GET /kv/{key} ---------------- */

func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	if !h.storeUp(w) {
		return
	}
	key := r.PathValue("key")

	value, err := h.store.Get(key)
	if err != nil {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

/* ---------------- PUT /kv/{key} ---------------- */

type putRequest struct {
	Value *string `json:"value"`
	TTLms any     `json:"ttl_ms"`
}

func (h *Handler) PutKey(w http.ResponseWriter, r *http.Request) {
	if !h.storeUp(w) {
		return
	}
	key := r.PathValue("key")

	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value must be a string")
		return
	}

	if err := h.store.Put(key, *req.Value, req.TTLms); err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key})
}

/* ---------------- DELETE /kv/{key} ---------------- */

func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	if !h.storeUp(w) {
		return
	}
	key := r.PathValue("key")

	if err := h.store.Delete(key); err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key})
}

/* ---------------- POST /kv/mget ---------------- */

func (h *Handler) MGet(w http.ResponseWriter, r *http.Request) {
	if !h.storeUp(w) {
		return
	}

	var req struct {
		Keys []string `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Keys == nil {
		writeError(w, http.StatusBadRequest, "keys must be a list of strings")
		return
	}

	values, err := h.store.MGet(req.Keys)
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"values": values})
}

/* ---------------- GET /kv/keys ---------------- */

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	if !h.storeUp(w) {
		return
	}

	prefix := r.URL.Query().Get("prefix")

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	keys, err := h.store.ListKeys(prefix, limit)
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

/* ---------------- GET /stats ---------------- */

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if !h.storeUp(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.store.Stats())
}

/* ---------------- GET /metrics ---------------- */

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

/* ---------------- GET /health ---------------- */

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.analyzer.Analyze())
}

/* ---------------- GET /admin/logs ---------------- */

func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	n := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			n = v
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": h.logger.GetLast(n)})
}

// storeError maps store errors onto transport status codes.
func (h *Handler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, "store not running")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "key not found")
	case errors.Is(err, store.ErrInvalidKey),
		errors.Is(err, store.ErrInvalidPayload),
		errors.Is(err, store.ErrInvalidKeys),
		errors.Is(err, store.ErrInvalidPrefix):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
