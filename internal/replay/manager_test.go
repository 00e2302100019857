package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestManager creates a new Manager with in-memory SQLite database for testing
func createTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(":memory:")
	require.NoError(t, err, "Failed to create test manager")
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestManager_RunLifecycle(t *testing.T) {
	m := createTestManager(t)

	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run := &Run{
		Directory:    "/data/replays",
		HTTPTargets:  []string{"10.0.0.1:80", "10.0.0.2:80"},
		HTTPSTargets: []string{"10.0.0.1:443"},
		Mode:         "proxy",
		Rate:         100,
		Repeat:       2,
		StartedAt:    started,
	}
	require.NoError(t, m.CreateRun(run))
	require.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)

	stats := NewStats()
	stats.AddResult(SessionResult{DurationMs: 10, Transactions: 2})
	stats.AddResult(SessionResult{DurationMs: 30, Transactions: 1, VerificationErrors: 1})
	report := &Report{Transactions: 3, Sessions: 2, Elapsed: 1500 * time.Millisecond, Stats: stats.Summary()}
	run.Finish(report, RunStatusCompleted, started.Add(2*time.Second))
	require.NoError(t, m.UpdateRun(run))

	got, err := m.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.HTTPTargets, got.HTTPTargets)
	assert.Equal(t, run.HTTPSTargets, got.HTTPSTargets)
	assert.Equal(t, RunStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Sessions)
	assert.Equal(t, 3, got.Transactions)
	assert.Equal(t, int64(1500), got.ElapsedMs)
	assert.Equal(t, 1, got.SessionsSucceeded)
	assert.Equal(t, 1, got.VerificationErrors)
	assert.Equal(t, int64(10), got.MinDurationMs)
	assert.Equal(t, int64(30), got.MaxDurationMs)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.StartedAt.Equal(started))
}

func TestManager_ListRunsMostRecentFirst(t *testing.T) {
	m := createTestManager(t)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.CreateRun(&Run{
			Directory: "d",
			Mode:      "proxy",
			Repeat:    1,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := m.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))
}

func TestManager_MetricsAndDelete(t *testing.T) {
	m := createTestManager(t)

	run := &Run{Directory: "d", Mode: "no-proxy", Repeat: 1, StartedAt: time.Now()}
	require.NoError(t, m.CreateRun(run))

	metrics := []*SessionMetric{
		{RunID: run.ID, Seq: 1, Path: "b.yaml", Protocol: "https", Target: "s:443", StartedAt: time.Now(), DurationMs: 5},
		{RunID: run.ID, Seq: 0, Path: "a.yaml", Protocol: "http", Target: "h:80", StartedAt: time.Now(), DurationMs: 7, Skipped: true},
	}
	require.NoError(t, m.SaveMetricsBatch(metrics))
	assert.NotZero(t, metrics[0].ID)

	got, err := m.GetMetrics(run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a.yaml", got[0].Path)
	assert.True(t, got[0].Skipped)
	assert.Equal(t, "b.yaml", got[1].Path)

	require.NoError(t, m.DeleteRun(run.ID))
	got, err = m.GetMetrics(run.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
	_, err = m.GetRun(run.ID)
	assert.Error(t, err)
}

func TestStats_Summary(t *testing.T) {
	s := NewStats()
	for _, d := range []int64{10, 20, 30, 40, 50} {
		s.AddResult(SessionResult{DurationMs: d, Transactions: 1})
	}
	s.AddResult(SessionResult{Skipped: true})
	s.AddResult(SessionResult{ConnectFailed: true, DurationMs: 100})
	s.AddResult(SessionResult{DurationMs: 60, Transactions: 2, TransactionErrors: 1})

	sum := s.Summary()
	assert.Equal(t, 8, sum.CompletedSessions)
	assert.Equal(t, 5, sum.SuccessCount)
	assert.Equal(t, 1, sum.SkippedCount)
	assert.Equal(t, 1, sum.ConnectErrorCount)
	assert.Equal(t, 1, sum.TransactionErrorCount)
	assert.Equal(t, 7, sum.TransactionsSent)
	assert.Equal(t, int64(10), sum.MinDurationMs)
	assert.Equal(t, int64(100), sum.MaxDurationMs)
	assert.InDelta(t, 310.0/7.0, sum.AvgDurationMs, 1e-9)
	assert.InDelta(t, 5.0/7.0*100, sum.SuccessRate, 1e-9)
	assert.Equal(t, int64(40), s.Percentile(50))
}

func TestStats_EmptySummary(t *testing.T) {
	sum := NewStats().Summary()
	assert.Equal(t, int64(0), sum.MinDurationMs)
	assert.Equal(t, int64(0), sum.P99DurationMs)
	assert.Equal(t, float64(0), sum.SuccessRate)
}

func TestRecorder_PersistsAndCounts(t *testing.T) {
	m := createTestManager(t)
	run := &Run{Directory: "d", Mode: "proxy", Repeat: 1, StartedAt: time.Now()}
	require.NoError(t, m.CreateRun(run))

	stats := NewStats()
	rec := NewRecorder(stats, m, run.ID, nil)
	for i := 0; i < 250; i++ {
		rec.Record(&SessionMetric{Seq: i, Path: "a.yaml", Protocol: "http", Target: "h:80", StartedAt: time.Now(), DurationMs: 1, Transactions: 1})
	}
	rec.Close()
	rec.Close() // idempotent

	assert.Equal(t, 250, stats.Summary().CompletedSessions)
	got, err := m.GetMetrics(run.ID)
	require.NoError(t, err)
	assert.Len(t, got, 250)
	assert.Equal(t, run.ID, got[0].RunID)
}

func TestRecorder_StatsOnly(t *testing.T) {
	stats := NewStats()
	rec := NewRecorder(stats, nil, "", nil)
	rec.Record(&SessionMetric{DurationMs: 3, Transactions: 1})
	rec.Close()

	assert.Same(t, stats, rec.Stats())
	assert.Equal(t, 1, stats.Summary().SuccessCount)
}
