package ttl

import (
	"context"
	"time"

	"toska/internal/logs"
	"toska/internal/metrics"
)

// Task is one maintenance pass run on the cleaner's cadence. Run returns
// how many entries it removed; Metric, when set, accumulates that count.
type Task struct {
	Name   string
	Metric metrics.MetricKey
	Run    func() int
}

// Cleaner drives the node's periodic in-memory maintenance on a single
// ticker: the index TTL sweep and rate-limit bucket eviction both hang
// off it. Sweeps are best effort; lazy expiration on lookup covers
// whatever a cycle misses.
type Cleaner struct {
	tasks    []Task
	interval time.Duration
	logger   *logs.Logger
	metrics  *metrics.Registry
}

// NewCleaner creates a cleaner running the given tasks each interval.
func NewCleaner(
	interval time.Duration,
	logger *logs.Logger,
	reg *metrics.Registry,
	tasks ...Task,
) *Cleaner {
	return &Cleaner{
		tasks:    tasks,
		interval: interval,
		logger:   logger,
		metrics:  reg,
	}
}

// Start runs the maintenance loop until the context is cancelled.
// It blocks and should typically be run in a separate goroutine.
func (c *Cleaner) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runOnce()
		case <-ctx.Done():
			c.logger.Debug("maintenance cleaner stopped")
			return
		}
	}
}

// runOnce performs a single cycle over every task.
func (c *Cleaner) runOnce() {
	c.metrics.Inc(metrics.TTLSweepRunsTotal)

	for _, task := range c.tasks {
		removed := task.Run()
		if removed <= 0 {
			continue
		}
		if task.Metric != "" {
			c.metrics.Add(task.Metric, int64(removed))
		}
		c.logger.Debugf("%s: removed %d entries", task.Name, removed)
	}
}
