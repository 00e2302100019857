package replay

import (
	"log/slog"
	"sync"
)

const metricsBufferSize = 100

// Recorder collects session outcomes from the workers. Outcomes are folded
// into Stats and, when a Manager is set, persisted in batches.
type Recorder struct {
	stats      *Stats
	manager    *Manager
	runID      string
	logger     *slog.Logger
	results    chan *SessionMetric
	done       chan struct{}
	closeOnce  sync.Once
	metricsBuf []*SessionMetric
	bufferSize int
}

// NewRecorder starts a recorder. manager may be nil to keep statistics only.
func NewRecorder(stats *Stats, manager *Manager, runID string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		stats:      stats,
		manager:    manager,
		runID:      runID,
		logger:     logger,
		results:    make(chan *SessionMetric, metricsBufferSize*2),
		done:       make(chan struct{}),
		metricsBuf: make([]*SessionMetric, 0, metricsBufferSize),
		bufferSize: metricsBufferSize,
	}
	go r.collect()
	return r
}

// Stats returns the statistics being accumulated
func (r *Recorder) Stats() *Stats {
	return r.stats
}

// Record queues one session outcome. It must not be called after Close.
func (r *Recorder) Record(m *SessionMetric) {
	m.RunID = r.runID
	r.results <- m
}

// Close stops accepting outcomes and waits until every queued outcome has
// been counted and flushed
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.results)
	})
	<-r.done
}

func (r *Recorder) collect() {
	defer close(r.done)

	for m := range r.results {
		r.stats.AddResult(m.Result())
		if r.manager == nil {
			continue
		}
		r.metricsBuf = append(r.metricsBuf, m)
		if len(r.metricsBuf) >= r.bufferSize {
			r.flush()
		}
	}
	r.flush()
}

// flush writes buffered metrics to the database
func (r *Recorder) flush() {
	if len(r.metricsBuf) == 0 || r.manager == nil {
		return
	}
	if err := r.manager.SaveMetricsBatch(r.metricsBuf); err != nil {
		// Persistence failures never stop a replay
		r.logger.Warn("failed to save session metrics", "error", err, "count", len(r.metricsBuf))
	}
	r.metricsBuf = r.metricsBuf[:0]
}
