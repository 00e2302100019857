package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studiowebux/replay-client/internal/types"
)

// DefaultSleepLimit bounds a single pacing sleep
const DefaultSleepLimit = 500 * time.Millisecond

// Clock is the time source used for pacing
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock returns the wall clock
func RealClock() Clock {
	return realClock{}
}

// RateMultiplier converts normalized session start times into scheduling
// offsets that hit rate transactions per second over a batch of txns
// transactions spanning span microseconds. A zero rate disables pacing and
// returns 0, as does an empty batch or a zero span.
func RateMultiplier(txns, rate int, span uint64) float64 {
	if rate <= 0 || txns == 0 || span == 0 {
		return 0
	}
	return (float64(txns) * 1_000_000) / (float64(rate) * float64(span))
}

// cursor is a round-robin index into a target list
type cursor struct {
	targets []string
	next    int
}

// take returns the current target and advances, wrapping at the end
func (c *cursor) take() string {
	if len(c.targets) == 0 {
		return ""
	}
	t := c.targets[c.next]
	if c.next++; c.next >= len(c.targets) {
		c.next = 0
	}
	return t
}

// Targets are the resolved endpoint lists, as host:port
type Targets struct {
	HTTP  []string
	HTTPS []string
}

// SchedulerConfig holds the pacing controls
type SchedulerConfig struct {
	Rate       int           // Target transactions per second, 0 replays as fast as possible
	Repeat     int           // Number of passes over the batch, at least 1
	SleepLimit time.Duration // Longest single pacing sleep
}

// Scheduler paces a prepared batch onto a worker pool
type Scheduler struct {
	cfg     SchedulerConfig
	targets Targets
	pool    *Pool
	clock   Clock
	logger  *slog.Logger
}

// SchedulerOption configures a Scheduler
type SchedulerOption func(*Scheduler)

// WithClock replaces the wall clock
func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the scheduler logger
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a scheduler dispatching onto pool
func NewScheduler(cfg SchedulerConfig, targets Targets, pool *Pool, opts ...SchedulerOption) *Scheduler {
	if cfg.Repeat < 1 {
		cfg.Repeat = 1
	}
	if cfg.SleepLimit <= 0 {
		cfg.SleepLimit = DefaultSleepLimit
	}
	s := &Scheduler{
		cfg:     cfg,
		targets: targets,
		pool:    pool,
		clock:   RealClock(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run dispatches every session of batch, Repeat times, then shuts the pool
// down, waits for the workers and reports the totals.
//
// Each repetition records its own baseline; a session is due at
// baseline + multiplier*start. When it is not yet due the scheduler sleeps
// min(SleepLimit, due-now) once and dispatches regardless, so a backlog is
// worked off immediately instead of accumulating sleep debt.
//
// Plain sessions cycle the HTTP targets and TLS or HTTP/2 sessions cycle the
// HTTPS targets, each list with its own cursor.
func (s *Scheduler) Run(ctx context.Context, batch *Batch) (*Report, error) {
	multiplier := RateMultiplier(batch.Transactions, s.cfg.Rate, batch.Span)
	s.logger.Info("replay scheduled",
		"rate_multiplier", multiplier,
		"transactions", batch.Transactions,
		"span_us", batch.Span,
		"first_time_us", batch.Offset,
		"repeat", s.cfg.Repeat)

	plain := &cursor{targets: s.targets.HTTP}
	secure := &cursor{targets: s.targets.HTTPS}

	report := &Report{Multiplier: multiplier}
	start := s.clock.Now()

	var dispatchErr error
dispatch:
	for rep := 0; rep < s.cfg.Repeat; rep++ {
		baseline := s.clock.Now()
		s.logger.Info("replay pass started",
			"pass", rep+1,
			"active_workers", s.pool.Active(),
			"completed_sessions", s.pool.Completed())
		for _, ssn := range batch.Sessions {
			offset := time.Duration(multiplier*float64(ssn.Start)) * time.Microsecond
			due := baseline.Add(offset)
			if now := s.clock.Now(); due.After(now) {
				s.clock.Sleep(min(s.cfg.SleepLimit, due.Sub(now)))
			}

			w, err := s.pool.Acquire(ctx)
			if err != nil {
				dispatchErr = fmt.Errorf("failed to get worker thread: %w", err)
				break dispatch
			}
			a := Assignment{Session: ssn, Seq: report.Sessions}
			if ssn.Variant.Protocol == types.ProtocolPlain {
				a.Target = plain.take()
			} else {
				a.TargetHTTPS = secure.take()
			}
			w.Assign(a)
			report.Sessions++
			report.Transactions += len(ssn.Transactions)
		}
	}

	s.pool.Shutdown()
	s.pool.Wait()

	report.Elapsed = s.clock.Now().Sub(start)
	return report, dispatchErr
}
