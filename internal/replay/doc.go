/*
Package replay turns a directory of recorded traffic into paced sessions on a
fixed worker pool.

# Overview

A replay run has two phases separated by a one-time freeze:
  - Loading: replay files are parsed concurrently into a Registry of sessions
  - Replaying: a Scheduler paces the frozen sessions onto a Pool of workers

# Loading

Each file is driven through a SessionBuilder (builder.go), which implements
parser.Handler. Builders for different files run in parallel and share the
Registry (registry.go):
  - the load lock is held for each transaction from open to close
  - a separate, shorter lock guards the session list
  - sessions without transactions are never registered

Only a transaction that passed validation holds the load lock, and only the
builder that acquired it releases it.

After loading, Registry.Prepare sorts sessions by start time (stable),
normalizes them so the earliest starts at 0 and computes the batch totals.
Registry.Freeze then makes the interning table read-only.

# Scheduling

The scheduler (scheduler.go) runs each repetition against its own wall-clock
baseline. A session is due at

	baseline + multiplier * start
	multiplier = transactions * 1e6 / (rate * span)

A session that is not yet due costs one sleep of at most SleepLimit; the
scheduler then dispatches it whether or not it is due. HTTP and HTTPS targets
are round-robined by two independent cursors, both advanced on every dispatch.

# Worker Pool

The Pool (pool.go) keeps one single-slot channel per worker and a channel of
idle workers. Acquire blocks until a worker is idle. Shutdown closes the stop
channel; workers finish the session they hold and exit, and Wait joins them.

# Results

Workers report through a Recorder (recorder.go), which folds outcomes into
Stats (stats.go) and, with a Manager (manager.go), persists them to sqlite in
batches. The Report (report.go) carries the run totals:

	N transactions in M sessions (reuse R) in Dms (T / millisecond).

# Database Schema

replay_runs: one row per run with its targets, pacing controls and totals.
replay_session_metrics: one row per dispatched session (run_id, seq, target,
duration, transaction and verification error counts).
*/
package replay
