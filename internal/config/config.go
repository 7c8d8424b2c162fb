package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the full node configuration. Values come from (in order of
// precedence, lowest first): built-in defaults, an optional YAML file,
// TOSKA_* environment variables.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	DataDir      string `yaml:"data_dir"`
	AOFFile      string `yaml:"aof_file"`
	SnapshotFile string `yaml:"snapshot_file"`

	SyncMode           string `yaml:"sync_mode"` // always | interval | none
	SyncIntervalMs     int64  `yaml:"sync_interval_ms"`
	SnapshotIntervalMs int64  `yaml:"snapshot_interval_ms"`
	TTLCheckIntervalMs int64  `yaml:"ttl_check_interval_ms"`

	CompactionIntervalMs int64 `yaml:"compaction_interval_ms"`
	CompactionAOFBytes   int64 `yaml:"compaction_aof_bytes"`

	ReplicaURL            string `yaml:"replica_url"`
	ReplicaPollIntervalMs int64  `yaml:"replica_poll_interval_ms"`
	ReplicaHTTPTimeoutMs  int64  `yaml:"replica_http_timeout_ms"`

	AuthToken       string `yaml:"auth_token"`
	RateLimitPerSec int64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int64  `yaml:"rate_limit_burst"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "INFO",

		DataDir:      "./data",
		AOFFile:      "toska.aof",
		SnapshotFile: "toska_snapshot.json",

		SyncMode:           "interval",
		SyncIntervalMs:     1000,
		SnapshotIntervalMs: 300_000,
		TTLCheckIntervalMs: 1000,

		CompactionIntervalMs: 300_000,
		CompactionAOFBytes:   10 << 20,

		ReplicaPollIntervalMs: 1000,
		ReplicaHTTPTimeoutMs:  5000,
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if non-empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString("TOSKA_LISTEN_ADDR", &c.ListenAddr)
	envString("TOSKA_LOG_LEVEL", &c.LogLevel)
	envString("TOSKA_DATA_DIR", &c.DataDir)
	envString("TOSKA_AOF_FILE", &c.AOFFile)
	envString("TOSKA_SNAPSHOT_FILE", &c.SnapshotFile)
	envString("TOSKA_SYNC_MODE", &c.SyncMode)
	envInt("TOSKA_SYNC_INTERVAL_MS", &c.SyncIntervalMs)
	envInt("TOSKA_SNAPSHOT_INTERVAL_MS", &c.SnapshotIntervalMs)
	envInt("TOSKA_TTL_CHECK_INTERVAL_MS", &c.TTLCheckIntervalMs)
	envInt("TOSKA_COMPACTION_INTERVAL_MS", &c.CompactionIntervalMs)
	envInt("TOSKA_COMPACTION_AOF_BYTES", &c.CompactionAOFBytes)
	envString("TOSKA_REPLICA_URL", &c.ReplicaURL)
	envInt("TOSKA_REPLICA_POLL_INTERVAL_MS", &c.ReplicaPollIntervalMs)
	envInt("TOSKA_REPLICA_HTTP_TIMEOUT_MS", &c.ReplicaHTTPTimeoutMs)
	envString("TOSKA_AUTH_TOKEN", &c.AuthToken)
	envInt("TOSKA_RATE_LIMIT_PER_SEC", &c.RateLimitPerSec)
	envInt("TOSKA_RATE_LIMIT_BURST", &c.RateLimitBurst)
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int64) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return
	}
	*dst = n
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.AOFFile == "" || c.SnapshotFile == "" {
		return fmt.Errorf("aof_file and snapshot_file cannot be empty")
	}
	switch c.SyncMode {
	case "always", "interval", "none":
	default:
		return fmt.Errorf("sync_mode must be one of always, interval, none")
	}
	if c.SyncIntervalMs <= 0 {
		return fmt.Errorf("sync_interval_ms must be positive")
	}
	if c.SnapshotIntervalMs <= 0 {
		return fmt.Errorf("snapshot_interval_ms must be positive")
	}
	if c.TTLCheckIntervalMs <= 0 {
		return fmt.Errorf("ttl_check_interval_ms must be positive")
	}
	if c.CompactionIntervalMs <= 0 {
		return fmt.Errorf("compaction_interval_ms must be positive")
	}
	if c.CompactionAOFBytes <= 0 {
		return fmt.Errorf("compaction_aof_bytes must be positive")
	}
	if c.ReplicaPollIntervalMs <= 0 {
		return fmt.Errorf("replica_poll_interval_ms must be positive")
	}
	if c.ReplicaHTTPTimeoutMs <= 0 {
		return fmt.Errorf("replica_http_timeout_ms must be positive")
	}
	return nil
}

// FollowerMode reports whether this node should run as a read-only
// follower of a remote leader.
func (c *Config) FollowerMode() bool {
	return strings.TrimSpace(c.ReplicaURL) != ""
}
