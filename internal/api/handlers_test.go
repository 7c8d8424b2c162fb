package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toska/internal/aof"
	"toska/internal/config"
	"toska/internal/logs"
	"toska/internal/metrics"
	"toska/internal/ratelimit"
	"toska/internal/store"
)

type testNode struct {
	store   *store.Store
	handler http.Handler
	cache   *config.Cache
}

func newTestNode(t *testing.T, cfg *config.Config) *testNode {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}

	logger := logs.NewLogger(200, logs.DEBUG)
	reg := metrics.NewRegistry()

	st, err := store.Open(store.Options{
		DataDir:            t.TempDir(),
		AOFFile:            "toska.aof",
		SnapshotFile:       "toska_snapshot.json",
		SyncMode:           aof.SyncAlways,
		SyncInterval:       time.Second,
		SnapshotInterval:   time.Hour,
		CompactionInterval: time.Hour,
		CompactionAOFBytes: 10 << 20,
		NodeID:             "api-test-node",
		Logger:             logger,
		Metrics:            reg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cache := config.NewCache(cfg)
	h := NewHandler(st, reg, logger, nil)
	mux := http.NewServeMux()
	handler := RegisterRoutes(mux, h, cache, ratelimit.NewLimiter(), logger, reg)

	return &testNode{store: st, handler: handler, cache: cache}
}

func (n *testNode) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	n.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestKVLifecycle(t *testing.T) {
	node := newTestNode(t, nil)

	rec := node.do(http.MethodPut, "/kv/alpha", `{"value":"1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "alpha", body["key"])

	rec = node.do(http.MethodGet, "/kv/alpha", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "alpha", body["key"])
	assert.Equal(t, "1", body["value"])

	rec = node.do(http.MethodDelete, "/kv/alpha", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = node.do(http.MethodGet, "/kv/alpha", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec), "error")
}

func TestPutValidation(t *testing.T) {
	node := newTestNode(t, nil)

	t.Run("missing value", func(t *testing.T) {
		rec := node.do(http.MethodPut, "/kv/k", `{"ttl_ms":100}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("value not a string", func(t *testing.T) {
		rec := node.do(http.MethodPut, "/kv/k", `{"value":42}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("broken json", func(t *testing.T) {
		rec := node.do(http.MethodPut, "/kv/k", `{"value":`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPutWithTTL(t *testing.T) {
	node := newTestNode(t, nil)

	rec := node.do(http.MethodPut, "/kv/temp", `{"value":"v","ttl_ms":10}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	time.Sleep(20 * time.Millisecond)

	rec = node.do(http.MethodGet, "/kv/temp", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutWithStringTTL(t *testing.T) {
	node := newTestNode(t, nil)

	rec := node.do(http.MethodPut, "/kv/s", `{"value":"v","ttl_ms":"60000"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = node.do(http.MethodGet, "/kv/s", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMGet(t *testing.T) {
	node := newTestNode(t, nil)
	node.do(http.MethodPut, "/kv/a", `{"value":"1"}`, nil)
	node.do(http.MethodPut, "/kv/b", `{"value":"2"}`, nil)

	rec := node.do(http.MethodPost, "/kv/mget", `{"keys":["a","b","missing"]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	values := decodeBody(t, rec)["values"].(map[string]any)
	assert.Equal(t, "1", values["a"])
	assert.Equal(t, "2", values["b"])
	assert.Nil(t, values["missing"])

	t.Run("keys must be a list", func(t *testing.T) {
		rec := node.do(http.MethodPost, "/kv/mget", `{"keys":"a"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListKeys(t *testing.T) {
	node := newTestNode(t, nil)
	for _, k := range []string{"user:1", "user:2", "order:1"} {
		node.do(http.MethodPut, "/kv/"+k, `{"value":"v"}`, nil)
	}

	rec := node.do(http.MethodGet, "/kv/keys?prefix=user:", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	keys := decodeBody(t, rec)["keys"].([]any)
	assert.Len(t, keys, 2)

	rec = node.do(http.MethodGet, "/kv/keys?limit=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["keys"].([]any), 1)

	rec = node.do(http.MethodGet, "/kv/keys?limit=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	t.Run("malformed utf-8 prefix rejected", func(t *testing.T) {
		rec := node.do(http.MethodGet, "/kv/keys?prefix=%ff", "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"invalid_prefix"}`, rec.Body.String())
	})
}

func TestStats(t *testing.T) {
	node := newTestNode(t, nil)
	node.do(http.MethodPut, "/kv/k", `{"value":"v"}`, nil)

	rec := node.do(http.MethodGet, "/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decodeBody(t, rec)
	assert.Equal(t, float64(1), stats["keys"])
	assert.Equal(t, "api-test-node", stats["node_id"])
	assert.Contains(t, stats, "aof_size_bytes")
}

func TestMetricsAndHealthEndpoints(t *testing.T) {
	node := newTestNode(t, nil)

	rec := node.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = node.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", decodeBody(t, rec)["overall_status"])

	rec = node.do(http.MethodGet, "/admin/logs?n=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec), "entries")
}

func TestReplicationEndpoints(t *testing.T) {
	node := newTestNode(t, nil)
	node.do(http.MethodPut, "/kv/a", `{"value":"1"}`, nil)
	node.do(http.MethodPut, "/kv/b", `{"value":"2"}`, nil)

	t.Run("info", func(t *testing.T) {
		rec := node.do(http.MethodGet, "/replication/info", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		info := decodeBody(t, rec)
		assert.Contains(t, info, "aof_size")
		assert.Contains(t, info, "snapshot_path")
	})

	t.Run("aof range", func(t *testing.T) {
		rec := node.do(http.MethodGet, "/replication/aof?since=0", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		size, err := strconv.ParseInt(rec.Header().Get("x-toska-aof-size"), 10, 64)
		require.NoError(t, err)
		assert.Equal(t, size, int64(rec.Body.Len()))
		assert.Equal(t, "0", rec.Header().Get("x-toska-aof-offset"))

		// caught up
		rec = node.do(http.MethodGet, "/replication/aof?since="+strconv.FormatInt(size, 10), "", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, strconv.FormatInt(size, 10), rec.Header().Get("x-toska-aof-size"))
	})

	t.Run("aof invalid offset", func(t *testing.T) {
		rec := node.do(http.MethodGet, "/replication/aof?since=-1", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = node.do(http.MethodGet, "/replication/aof?since=abc", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("snapshot stream truncates the log", func(t *testing.T) {
		rec := node.do(http.MethodGet, "/replication/snapshot", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("x-toska-snapshot-checksum"))
		assert.Equal(t, "1", rec.Header().Get("x-toska-snapshot-version"))

		var doc map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		data := doc["data"].(map[string]any)
		assert.Len(t, data, 2)

		rec = node.do(http.MethodGet, "/replication/aof?since=0", "", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code, "aof is empty right after a snapshot")
	})

	t.Run("status on a leader is 404", func(t *testing.T) {
		rec := node.do(http.MethodGet, "/replication/status", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
