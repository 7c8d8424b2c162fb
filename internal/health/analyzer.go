package health

import (
	"strings"

	"toska/internal/logs"
	"toska/internal/metrics"
)

// Analyzer converts metrics + recent logs into a health report.
type Analyzer struct {
	metrics *metrics.Registry
	logger  *logs.Logger
	rules   []Rule
}

// NewAnalyzer creates a new analyzer with the standard rule set.
func NewAnalyzer(reg *metrics.Registry, logger *logs.Logger) *Analyzer {
	return &Analyzer{
		metrics: reg,
		logger:  logger,
		rules: []Rule{
			AOFWriteErrorRule,
			SnapshotFailureRule,
			AOFCorruptionRule,
			ReplicationFailureRule,
			RateLimitPressureRule,
		},
	}
}

// Analyze evaluates metrics and logs and returns a health report.
func (a *Analyzer) Analyze() Report {
	snapshot := a.metrics.Snapshot()

	var (
		signals         = []string{}
		recommendations = []string{}
		status          = StatusOK
	)

	for _, rule := range a.rules {
		result := rule(snapshot)
		if !result.Triggered {
			continue
		}

		signals = append(signals, result.Signal)
		recommendations = append(recommendations, result.Recommendation)

		// Escalate status
		if result.Severity == StatusCritical {
			status = StatusCritical
		} else if result.Severity == StatusDegraded && status == StatusOK {
			status = StatusDegraded
		}
	}

	// Log-based signal: recovered panics escalate straight to critical.
	panics := 0
	for _, entry := range a.logger.GetLast(100) {
		if entry.Level == logs.ERROR && strings.Contains(entry.Message, "panic") {
			panics++
		}
	}
	if panics > 0 {
		signals = append(signals, "Recovered panics in recent logs")
		recommendations = append(recommendations, "Inspect /admin/logs for the panic messages")
		status = StatusCritical
	}

	return Report{
		OverallStatus:   status,
		Summary:         summarize(status, len(signals)),
		Signals:         signals,
		Recommendations: recommendations,
	}
}

func summarize(status Status, signals int) string {
	switch status {
	case StatusCritical:
		return "node requires attention"
	case StatusDegraded:
		return "node is degraded"
	default:
		if signals == 0 {
			return "all subsystems nominal"
		}
		return "node is healthy"
	}
}
