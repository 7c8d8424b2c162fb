package config

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// HotValues is the small subset of configuration consulted on every
// request. It is published as an immutable snapshot so readers never
// contend with a writer.
type HotValues struct {
	AuthToken       string
	RateLimitPerSec int64
	RateLimitBurst  int64
	ReplicaURL      string
}

// Cache serves hot-path config reads. Writers swap a fresh snapshot in;
// readers do a single atomic pointer load. Environment variables override
// the cached value on every read so an operator can flip a token or the
// follower URL without touching stored config.
type Cache struct {
	current atomic.Pointer[HotValues]
}

// NewCache seeds the cache from a full Config.
func NewCache(cfg *Config) *Cache {
	c := &Cache{}
	c.Update(HotValues{
		AuthToken:       cfg.AuthToken,
		RateLimitPerSec: cfg.RateLimitPerSec,
		RateLimitBurst:  cfg.RateLimitBurst,
		ReplicaURL:      cfg.ReplicaURL,
	})
	return c
}

// Update publishes a new snapshot. Slow path, writer-only.
func (c *Cache) Update(v HotValues) {
	c.current.Store(&v)
}

// AuthToken returns the effective auth token. Empty means auth disabled.
func (c *Cache) AuthToken() string {
	if v, ok := os.LookupEnv("TOSKA_AUTH_TOKEN"); ok {
		return v
	}
	return c.current.Load().AuthToken
}

// RateLimit returns the effective (per_sec, burst) pair.
func (c *Cache) RateLimit() (int64, int64) {
	v := c.current.Load()
	perSec, burst := v.RateLimitPerSec, v.RateLimitBurst
	if env, ok := envInt64("TOSKA_RATE_LIMIT_PER_SEC"); ok {
		perSec = env
	}
	if env, ok := envInt64("TOSKA_RATE_LIMIT_BURST"); ok {
		burst = env
	}
	return perSec, burst
}

// ReplicaURL returns the effective leader URL, trailing slash trimmed.
// Non-empty means follower mode.
func (c *Cache) ReplicaURL() string {
	if v, ok := os.LookupEnv("TOSKA_REPLICA_URL"); ok {
		return strings.TrimRight(strings.TrimSpace(v), "/")
	}
	return strings.TrimRight(strings.TrimSpace(c.current.Load().ReplicaURL), "/")
}

func envInt64(name string) (int64, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
