package api

import (
	"net/http"

	"toska/internal/config"
	"toska/internal/logs"
	"toska/internal/metrics"
	"toska/internal/ratelimit"
)

// RegisterRoutes wires all endpoints and wraps them in the middleware
// chain: recovery outermost, then request logging, then the access gate.
func RegisterRoutes(
	mux *http.ServeMux,
	h *Handler,
	cache *config.Cache,
	limiter *ratelimit.Limiter,
	logger *logs.Logger,
	reg *metrics.Registry,
) http.Handler {
	// KV APIs; the literal segments win over the {key} wildcard
	mux.HandleFunc("GET /kv/keys", h.ListKeys)
	mux.HandleFunc("POST /kv/mget", h.MGet)
	mux.HandleFunc("GET /kv/{key}", h.GetKey)
	mux.HandleFunc("PUT /kv/{key}", h.PutKey)
	mux.HandleFunc("DELETE /kv/{key}", h.DeleteKey)

	// Replication APIs (leader side + follower status)
	mux.HandleFunc("GET /replication/info", h.ReplicationInfo)
	mux.HandleFunc("GET /replication/snapshot", h.ReplicationSnapshot)
	mux.HandleFunc("GET /replication/aof", h.ReplicationAOF)
	mux.HandleFunc("GET /replication/status", h.ReplicationStatus)

	// Observability APIs
	mux.HandleFunc("GET /stats", h.GetStats)
	mux.HandleFunc("GET /metrics", h.GetMetrics)
	mux.HandleFunc("GET /health", h.GetHealth)
	mux.HandleFunc("GET /admin/logs", h.GetLogs)

	return Chain(
		mux,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		AccessMiddleware(cache, limiter, reg),
	)
}
