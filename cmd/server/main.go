package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"toska/internal/aof"
	"toska/internal/api"
	"toska/internal/config"
	"toska/internal/logs"
	"toska/internal/metrics"
	"toska/internal/ratelimit"
	"toska/internal/replication"
	"toska/internal/store"
	"toska/internal/ttl"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Logger
	logger := logs.NewLogger(1000, logs.ParseLevel(cfg.LogLevel))

	// Metrics
	metricsRegistry := metrics.NewRegistry()

	// Hot-path config cache
	cache := config.NewCache(cfg)

	nodeID := uuid.NewString()

	// Store
	st, err := store.Open(store.Options{
		DataDir:            cfg.DataDir,
		AOFFile:            cfg.AOFFile,
		SnapshotFile:       cfg.SnapshotFile,
		SyncMode:           aof.SyncMode(cfg.SyncMode),
		SyncInterval:       time.Duration(cfg.SyncIntervalMs) * time.Millisecond,
		SnapshotInterval:   time.Duration(cfg.SnapshotIntervalMs) * time.Millisecond,
		CompactionInterval: time.Duration(cfg.CompactionIntervalMs) * time.Millisecond,
		CompactionAOFBytes: cfg.CompactionAOFBytes,
		NodeID:             nodeID,
		Logger:             logger,
		Metrics:            metricsRegistry,
	})
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	st.Start(ctx)

	// Rate limiter
	limiter := ratelimit.NewLimiter()

	// Periodic maintenance: TTL sweep + idle rate-limit bucket eviction
	ttlCleaner := ttl.NewCleaner(
		time.Duration(cfg.TTLCheckIntervalMs)*time.Millisecond,
		logger,
		metricsRegistry,
		ttl.Task{Name: "index-expiry", Metric: metrics.TTLKeysRemovedTotal, Run: st.RemoveExpired},
		ttl.Task{Name: "ratelimit-buckets", Metric: metrics.BucketsEvictedTotal, Run: func() int {
			return limiter.Evict(10 * time.Minute)
		}},
	)
	go ttlCleaner.Start(ctx)

	// Follower mode
	var follower *replication.Follower
	if cache.ReplicaURL() != "" {
		follower = replication.NewFollower(
			cache,
			st,
			cfg.DataDir,
			time.Duration(cfg.ReplicaPollIntervalMs)*time.Millisecond,
			time.Duration(cfg.ReplicaHTTPTimeoutMs)*time.Millisecond,
			logger,
			metricsRegistry,
		)
		go follower.Start(ctx)
	}

	// API
	handler := api.NewHandler(st, metricsRegistry, logger, follower)
	mux := http.NewServeMux()
	httpHandler := api.RegisterRoutes(mux, handler, cache, limiter, logger, metricsRegistry)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpHandler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Infof("server started on %s (node %s)", cfg.ListenAddr, nodeID)
	log.Printf("toska listening on %s", cfg.ListenAddr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
