package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/studiowebux/replay-client/internal/config"
	"github.com/studiowebux/replay-client/internal/errata"
	"github.com/studiowebux/replay-client/internal/executor"
	"github.com/studiowebux/replay-client/internal/intern"
	"github.com/studiowebux/replay-client/internal/replay"
)

// RunOptions contains options for a replay run
type RunOptions struct {
	Directory    string
	HTTPTargets  string // Comma separated host:port list
	HTTPSTargets string // Comma separated host:port list
	Config       *config.RunConfig
	DatabasePath string // History database, used with Config.History

	Stdout   io.Writer
	Logger   *slog.Logger
	Resolver Resolver     // Defaults to net.DefaultResolver
	Clock    replay.Clock // Defaults to the wall clock
	Runner   executor.RunnerFactory
}

// NewLogger creates the text logger on w at the given --verbose level
func NewLogger(w io.Writer, verbosity string) (*slog.Logger, error) {
	level, err := errata.ParseLevel(verbosity)
	if err != nil {
		return nil, err
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == errata.LevelDiag {
					a.Value = slog.StringValue("DIAG")
				}
			}
			return a
		},
	})
	return slog.New(handler), nil
}

// Run loads the replay directory, replays it against the targets and prints
// the report. The returned error is set for setup failures (arguments,
// resolution, loading) and for a dispatch failure.
func Run(ctx context.Context, opts RunOptions) (*replay.Report, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("missing run configuration")
	}
	if opts.Directory == "" {
		return nil, fmt.Errorf("missing replay directory")
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpTargets, err := ResolveTargets(ctx, opts.HTTPTargets, opts.Resolver)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve http targets: %w", err)
	}
	httpsTargets, err := ResolveTargets(ctx, opts.HTTPSTargets, opts.Resolver)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve https targets: %w", err)
	}

	// Load
	names := intern.NewTable()
	reg := replay.NewRegistry(names)
	builderOpts := &replay.BuilderOptions{
		UseProxyRequestDirectives: cfg.NoProxy,
		Strict:                    cfg.Strict,
		KeyFormat:                 cfg.KeyFormat,
		Keys:                      replay.NewKeySet(cfg.Keys),
	}

	logger.Info(fmt.Sprintf(`Loading directory "%s".`, opts.Directory))
	notes, err := replay.LoadDirectory(ctx, opts.Directory, reg, builderOpts, cfg.LoadParallelism)
	notes.Log(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load replay directory: %w", err)
	}

	batch := reg.Prepare()
	reg.Freeze()
	logger.Info(fmt.Sprintf("Parsed %d transactions.", batch.Transactions),
		"sessions", len(batch.Sessions), "max_content_length", batch.MaxContentLength)
	executor.SetMaxContentLength(batch.MaxContentLength)

	// History
	var manager *replay.Manager
	var run *replay.Run
	if cfg.History {
		manager, run, err = startHistory(opts, cfg, httpTargets, httpsTargets)
		if err != nil {
			return nil, err
		}
		defer manager.Close()
	}
	runID := ""
	if run != nil {
		runID = run.ID
	}

	// Replay
	stats := replay.NewStats()
	recorder := replay.NewRecorder(stats, manager, runID, logger)
	execOpts := &executor.Options{
		UseProxyRequestDirectives: cfg.NoProxy,
		Timeout:                   cfg.Timeout,
		ConnectRetries:            cfg.ConnectRetries,
		InsecureSkipVerify:        cfg.Insecure,
		Names:                     names,
		NewRunner:                 opts.Runner,
	}

	pool, err := replay.NewPool(ctx, cfg.Threads, func(ctx context.Context, a replay.Assignment) {
		res := executor.RunSession(ctx, a.Session, a.Target, a.TargetHTTPS, execOpts)
		res.Errata.Log(logger)
		recorder.Record(sessionMetric(a, res))
	})
	if err != nil {
		recorder.Close()
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	schedOpts := []replay.SchedulerOption{replay.WithLogger(logger)}
	if opts.Clock != nil {
		schedOpts = append(schedOpts, replay.WithClock(opts.Clock))
	}
	scheduler := replay.NewScheduler(replay.SchedulerConfig{
		Rate:       cfg.Rate,
		Repeat:     cfg.Repeat,
		SleepLimit: cfg.SleepLimit,
	}, replay.Targets{HTTP: httpTargets, HTTPS: httpsTargets}, pool, schedOpts...)

	report, runErr := scheduler.Run(ctx, batch)
	recorder.Close()
	report.Stats = stats.Summary()
	logger.Info(report.String())

	if manager != nil {
		status := replay.RunStatusCompleted
		if runErr != nil {
			status = replay.RunStatusFailed
		}
		run.Finish(report, status, time.Now())
		if err := manager.UpdateRun(run); err != nil {
			logger.Warn("failed to save run history", "error", err)
		}
	}

	if runErr != nil {
		return report, runErr
	}
	if err := RenderReport(opts.Stdout, report, cfg.Output, cfg.Query); err != nil {
		return report, fmt.Errorf("failed to render report: %w", err)
	}
	return report, nil
}

func startHistory(opts RunOptions, cfg *config.RunConfig, httpTargets, httpsTargets []string) (*replay.Manager, *replay.Run, error) {
	dbPath := opts.DatabasePath
	if dbPath == "" {
		dbPath = config.DatabasePath
	}
	if dbPath == "" {
		return nil, nil, errors.New("history enabled but no database path configured")
	}

	manager, err := replay.NewManager(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history database: %w", err)
	}
	run := &replay.Run{
		Directory:    opts.Directory,
		HTTPTargets:  httpTargets,
		HTTPSTargets: httpsTargets,
		Mode:         cfg.Mode(),
		Rate:         cfg.Rate,
		Repeat:       cfg.Repeat,
		StartedAt:    time.Now(),
	}
	if err := manager.CreateRun(run); err != nil {
		manager.Close()
		return nil, nil, fmt.Errorf("failed to create run record: %w", err)
	}
	return manager, run, nil
}

// sessionMetric converts a session result into its recorded form
func sessionMetric(a replay.Assignment, res executor.Result) *replay.SessionMetric {
	m := &replay.SessionMetric{
		Seq:                a.Seq,
		Path:               a.Session.Path,
		Line:               a.Session.Line,
		Protocol:           res.Protocol.String(),
		Target:             res.Target,
		StartedAt:          res.Started,
		DurationMs:         res.Duration.Milliseconds(),
		Transactions:       res.Sent,
		TransactionErrors:  res.Failed,
		VerificationErrors: res.VerificationFailed,
		Skipped:            res.Skipped,
		ConnectFailed:      res.ConnectErr != nil,
	}
	if res.ConnectErr != nil {
		m.ErrorMessage = res.ConnectErr.Error()
	} else if err := res.Errata.Err(); err != nil {
		m.ErrorMessage = err.Error()
	}
	return m
}
