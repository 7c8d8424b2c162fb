package health

import "toska/internal/metrics"

// RuleResult represents the outcome of a single rule.
type RuleResult struct {
	Triggered      bool
	Signal         string
	Recommendation string
	Severity       Status
}

// Rule evaluates a metrics snapshot.
type Rule func(snapshot map[string]int64) RuleResult

// ---------- RULES ----------

// AOF write errors mean mutations may not be durable.
func AOFWriteErrorRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.AOFWriteErrorsTotal)] > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "AOF write errors detected",
			Recommendation: "Check disk space and data directory permissions",
			Severity:       StatusCritical,
		}
	}
	return RuleResult{}
}

// A skipped snapshot means recovery depends entirely on the AOF.
func SnapshotFailureRule(snapshot map[string]int64) RuleResult {
	failures := snapshot[string(metrics.SnapshotLoadFailuresTotal)] +
		snapshot[string(metrics.SnapshotWriteErrorsTotal)]
	if failures > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Snapshot read or write failures detected",
			Recommendation: "Verify the snapshot file is intact and the disk is writable",
			Severity:       StatusDegraded,
		}
	}
	return RuleResult{}
}

// Skipped AOF lines indicate corruption somewhere in the log.
func AOFCorruptionRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.AOFSkippedLinesTotal)] > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Corrupt or unverifiable AOF records were skipped",
			Recommendation: "Trigger a compaction to rewrite the log from live state",
			Severity:       StatusDegraded,
		}
	}
	return RuleResult{}
}

// Poll failures on a follower mean the replica is falling behind.
func ReplicationFailureRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.ReplicationFailuresTotal)] > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Replication poll failures detected",
			Recommendation: "Check leader reachability and replica_http_timeout_ms",
			Severity:       StatusDegraded,
		}
	}
	return RuleResult{}
}

// Sustained rate limiting suggests a misconfigured limit or an abusive
// client.
func RateLimitPressureRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.RateLimitRejectedTotal)] > 100 {
		return RuleResult{
			Triggered:      true,
			Signal:         "High volume of rate-limited requests",
			Recommendation: "Review rate_limit_per_sec/rate_limit_burst or identify the offending client",
			Severity:       StatusDegraded,
		}
	}
	return RuleResult{}
}
