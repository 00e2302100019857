package replay

import (
	"fmt"
	"time"
)

// Report summarizes a finished replay
type Report struct {
	Transactions int
	Sessions     int
	Elapsed      time.Duration
	Multiplier   float64
	Stats        *StatsSummary
}

// Reuse returns the average number of transactions per session
func (r *Report) Reuse() float64 {
	if r.Sessions == 0 {
		return 0
	}
	return float64(r.Transactions) / float64(r.Sessions)
}

// ElapsedMs returns the wall-clock duration in whole milliseconds
func (r *Report) ElapsedMs() int64 {
	return r.Elapsed.Milliseconds()
}

// Throughput returns transactions per millisecond
func (r *Report) Throughput() float64 {
	ms := r.ElapsedMs()
	if ms == 0 {
		return 0
	}
	return float64(r.Transactions) / float64(ms)
}

// String returns the one-line run summary
func (r *Report) String() string {
	return fmt.Sprintf("%d transactions in %d sessions (reuse %.2f) in %dms (%.3f / millisecond).",
		r.Transactions, r.Sessions, r.Reuse(), r.ElapsedMs(), r.Throughput())
}

// Map returns the report as a JSON-ready map, including derived values
func (r *Report) Map() map[string]any {
	m := map[string]any{
		"transactions":    r.Transactions,
		"sessions":        r.Sessions,
		"reuse":           r.Reuse(),
		"elapsed_ms":      r.ElapsedMs(),
		"throughput":      r.Throughput(),
		"rate_multiplier": r.Multiplier,
	}
	if r.Stats != nil {
		m["stats"] = map[string]any{
			"completed_sessions":   r.Stats.CompletedSessions,
			"succeeded":            r.Stats.SuccessCount,
			"connect_errors":       r.Stats.ConnectErrorCount,
			"transaction_errors":   r.Stats.TransactionErrorCount,
			"verification_errors":  r.Stats.VerificationErrorCount,
			"skipped":              r.Stats.SkippedCount,
			"avg_duration_ms":      r.Stats.AvgDurationMs,
			"min_duration_ms":      r.Stats.MinDurationMs,
			"max_duration_ms":      r.Stats.MaxDurationMs,
			"p50_duration_ms":      r.Stats.P50DurationMs,
			"p95_duration_ms":      r.Stats.P95DurationMs,
			"p99_duration_ms":      r.Stats.P99DurationMs,
			"success_rate_percent": r.Stats.SuccessRate,
		}
	}
	return m
}
