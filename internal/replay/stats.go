package replay

import (
	"sort"
	"sync"
)

// SessionResult is the outcome of one replayed session as recorded in Stats
type SessionResult struct {
	DurationMs         int64
	Skipped            bool // HTTP/2 without a proxy; neither success nor failure
	ConnectFailed      bool
	Transactions       int // Transactions sent
	TransactionErrors  int
	VerificationErrors int
}

// Stats holds runtime statistics for a replay. It is safe for concurrent use
// by the workers.
type Stats struct {
	mu sync.Mutex

	CompletedSessions      int
	SuccessCount           int
	SkippedCount           int
	ConnectErrorCount      int // Sessions aborted at connect
	TransactionErrorCount  int // Transactions that failed on the wire
	VerificationErrorCount int // Responses that violated a field rule or status
	TransactionsSent       int
	Durations              []int64 // For percentile calculation
	TotalDurationMs        int64
	MinDurationMs          int64
	MaxDurationMs          int64
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{
		Durations:     make([]int64, 0, 1000),
		MinDurationMs: -1,
		MaxDurationMs: -1,
	}
}

// AddResult records a finished session
func (s *Stats) AddResult(r SessionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CompletedSessions++
	if r.Skipped {
		s.SkippedCount++
		return
	}

	s.TransactionsSent += r.Transactions
	s.TransactionErrorCount += r.TransactionErrors
	s.VerificationErrorCount += r.VerificationErrors
	switch {
	case r.ConnectFailed:
		s.ConnectErrorCount++
	case r.TransactionErrors == 0 && r.VerificationErrors == 0:
		s.SuccessCount++
	}

	s.TotalDurationMs += r.DurationMs
	s.Durations = append(s.Durations, r.DurationMs)
	if s.MinDurationMs == -1 || r.DurationMs < s.MinDurationMs {
		s.MinDurationMs = r.DurationMs
	}
	if s.MaxDurationMs == -1 || r.DurationMs > s.MaxDurationMs {
		s.MaxDurationMs = r.DurationMs
	}
}

// timedSessions is the number of sessions with a recorded duration
func (s *Stats) timedSessions() int {
	return len(s.Durations)
}

// avgDurationMs returns the average session duration in milliseconds
func (s *Stats) avgDurationMs() float64 {
	if s.timedSessions() == 0 {
		return 0
	}
	return float64(s.TotalDurationMs) / float64(s.timedSessions())
}

// percentile calculates the percentile value (p between 0 and 100) with
// linear interpolation between the closest ranks
func (s *Stats) percentile(p float64) int64 {
	if len(s.Durations) == 0 {
		return 0
	}

	sorted := make([]int64, len(s.Durations))
	copy(sorted, s.Durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := index - float64(lower)
	return int64(float64(sorted[lower])*(1-weight) + float64(sorted[upper])*weight)
}

// Percentile returns the session duration at percentile p
func (s *Stats) Percentile(p float64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.percentile(p)
}

// StatsSummary is a point-in-time copy of Stats with derived values
type StatsSummary struct {
	CompletedSessions      int
	SuccessCount           int
	SkippedCount           int
	ConnectErrorCount      int
	TransactionErrorCount  int
	VerificationErrorCount int
	TransactionsSent       int
	AvgDurationMs          float64
	MinDurationMs          int64
	MaxDurationMs          int64
	P50DurationMs          int64
	P95DurationMs          int64
	P99DurationMs          int64
	SuccessRate            float64 // Percent of non-skipped sessions
}

// Summary returns a consistent snapshot of the statistics
func (s *Stats) Summary() *StatsSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := &StatsSummary{
		CompletedSessions:      s.CompletedSessions,
		SuccessCount:           s.SuccessCount,
		SkippedCount:           s.SkippedCount,
		ConnectErrorCount:      s.ConnectErrorCount,
		TransactionErrorCount:  s.TransactionErrorCount,
		VerificationErrorCount: s.VerificationErrorCount,
		TransactionsSent:       s.TransactionsSent,
		AvgDurationMs:          s.avgDurationMs(),
		P50DurationMs:          s.percentile(50),
		P95DurationMs:          s.percentile(95),
		P99DurationMs:          s.percentile(99),
	}
	if s.MinDurationMs != -1 {
		sum.MinDurationMs = s.MinDurationMs
	}
	if s.MaxDurationMs != -1 {
		sum.MaxDurationMs = s.MaxDurationMs
	}
	if n := s.CompletedSessions - s.SkippedCount; n > 0 {
		sum.SuccessRate = float64(s.SuccessCount) / float64(n) * 100
	}
	return sum
}
