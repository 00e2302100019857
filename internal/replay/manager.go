package replay

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/studiowebux/replay-client/internal/migrations"
)

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is a persisted replay run
type Run struct {
	ID           string
	Directory    string
	HTTPTargets  []string
	HTTPSTargets []string
	Mode         string // "proxy" or "no-proxy"
	Rate         int
	Repeat       int
	StartedAt    time.Time
	CompletedAt  *time.Time
	Status       string

	Sessions           int
	Transactions       int
	ElapsedMs          int64
	Throughput         float64
	SessionsSucceeded  int
	SessionsSkipped    int
	ConnectErrors      int
	TransactionErrors  int
	VerificationErrors int
	AvgDurationMs      float64
	MinDurationMs      int64
	MaxDurationMs      int64
	P50DurationMs      int64
	P95DurationMs      int64
	P99DurationMs      int64
}

// Finish copies the report totals into the run
func (r *Run) Finish(report *Report, status string, at time.Time) {
	r.CompletedAt = &at
	r.Status = status
	if report == nil {
		return
	}
	r.Sessions = report.Sessions
	r.Transactions = report.Transactions
	r.ElapsedMs = report.ElapsedMs()
	r.Throughput = report.Throughput()
	if s := report.Stats; s != nil {
		r.SessionsSucceeded = s.SuccessCount
		r.SessionsSkipped = s.SkippedCount
		r.ConnectErrors = s.ConnectErrorCount
		r.TransactionErrors = s.TransactionErrorCount
		r.VerificationErrors = s.VerificationErrorCount
		r.AvgDurationMs = s.AvgDurationMs
		r.MinDurationMs = s.MinDurationMs
		r.MaxDurationMs = s.MaxDurationMs
		r.P50DurationMs = s.P50DurationMs
		r.P95DurationMs = s.P95DurationMs
		r.P99DurationMs = s.P99DurationMs
	}
}

// SessionMetric is the persisted outcome of one replayed session
type SessionMetric struct {
	ID                 int64
	RunID              string
	Seq                int
	Path               string
	Line               int
	Protocol           string
	Target             string
	StartedAt          time.Time
	DurationMs         int64
	Transactions       int
	TransactionErrors  int
	VerificationErrors int
	Skipped            bool
	ConnectFailed      bool
	ErrorMessage       string
}

// Result converts the metric into a Stats entry
func (m *SessionMetric) Result() SessionResult {
	return SessionResult{
		DurationMs:         m.DurationMs,
		Skipped:            m.Skipped,
		ConnectFailed:      m.ConnectFailed,
		Transactions:       m.Transactions,
		TransactionErrors:  m.TransactionErrors,
		VerificationErrors: m.VerificationErrors,
	}
}

// Manager handles replay run persistence
type Manager struct {
	db *sql.DB
}

// NewManager opens the history database at dbPath (":memory:" for tests)
func NewManager(dbPath string) (*Manager, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	m := &Manager{db: db}

	// Run database migrations (includes schema initialization)
	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return m, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

// CreateRun inserts a run record and assigns its ID
func (m *Manager) CreateRun(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	_, err := m.db.Exec(`
		INSERT INTO replay_runs
		(id, directory, http_targets, https_targets, mode, rate, repeat_count, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Directory, strings.Join(run.HTTPTargets, ","), strings.Join(run.HTTPSTargets, ","),
		run.Mode, run.Rate, run.Repeat, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRun writes the final totals of a run
func (m *Manager) UpdateRun(run *Run) error {
	_, err := m.db.Exec(`
		UPDATE replay_runs
		SET completed_at = ?, status = ?, sessions = ?, transactions = ?, elapsed_ms = ?, throughput = ?,
		    sessions_succeeded = ?, sessions_skipped = ?, connect_errors = ?, transaction_errors = ?,
		    verification_errors = ?, avg_duration_ms = ?, min_duration_ms = ?, max_duration_ms = ?,
		    p50_duration_ms = ?, p95_duration_ms = ?, p99_duration_ms = ?
		WHERE id = ?
	`, run.CompletedAt, run.Status, run.Sessions, run.Transactions, run.ElapsedMs, run.Throughput,
		run.SessionsSucceeded, run.SessionsSkipped, run.ConnectErrors, run.TransactionErrors,
		run.VerificationErrors, run.AvgDurationMs, run.MinDurationMs, run.MaxDurationMs,
		run.P50DurationMs, run.P95DurationMs, run.P99DurationMs, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

const runColumns = `
	id, directory, http_targets, https_targets, mode, rate, repeat_count, started_at, completed_at, status,
	COALESCE(sessions, 0), COALESCE(transactions, 0), COALESCE(elapsed_ms, 0), COALESCE(throughput, 0),
	COALESCE(sessions_succeeded, 0), COALESCE(sessions_skipped, 0), COALESCE(connect_errors, 0),
	COALESCE(transaction_errors, 0), COALESCE(verification_errors, 0),
	COALESCE(avg_duration_ms, 0), COALESCE(min_duration_ms, 0), COALESCE(max_duration_ms, 0),
	COALESCE(p50_duration_ms, 0), COALESCE(p95_duration_ms, 0), COALESCE(p99_duration_ms, 0)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var httpTargets, httpsTargets string
	var completedAt sql.NullTime

	err := row.Scan(&run.ID, &run.Directory, &httpTargets, &httpsTargets, &run.Mode, &run.Rate, &run.Repeat,
		&run.StartedAt, &completedAt, &run.Status,
		&run.Sessions, &run.Transactions, &run.ElapsedMs, &run.Throughput,
		&run.SessionsSucceeded, &run.SessionsSkipped, &run.ConnectErrors,
		&run.TransactionErrors, &run.VerificationErrors,
		&run.AvgDurationMs, &run.MinDurationMs, &run.MaxDurationMs,
		&run.P50DurationMs, &run.P95DurationMs, &run.P99DurationMs)
	if err != nil {
		return nil, err
	}

	run.HTTPTargets = splitList(httpTargets)
	run.HTTPSTargets = splitList(httpsTargets)
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(id string) (*Run, error) {
	run, err := scanRun(m.db.QueryRow(`SELECT `+runColumns+` FROM replay_runs WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (m *Manager) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM replay_runs ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun deletes a run and all its session metrics
func (m *Manager) DeleteRun(id string) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM replay_session_metrics WHERE run_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete metrics: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM replay_runs WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return tx.Commit()
}

// SaveMetricsBatch saves multiple session metrics in a single transaction
func (m *Manager) SaveMetricsBatch(metrics []*SessionMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO replay_session_metrics
		(run_id, seq, path, line, protocol, target, started_at, duration_ms, transactions,
		 transaction_errors, verification_errors, skipped, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, metric := range metrics {
		result, err := stmt.Exec(metric.RunID, metric.Seq, metric.Path, metric.Line, metric.Protocol,
			metric.Target, metric.StartedAt, metric.DurationMs, metric.Transactions,
			metric.TransactionErrors, metric.VerificationErrors, metric.Skipped, metric.ErrorMessage)
		if err != nil {
			return fmt.Errorf("failed to insert metric: %w", err)
		}
		if id, err := result.LastInsertId(); err == nil {
			metric.ID = id
		}
	}

	return tx.Commit()
}

// GetMetrics retrieves all session metrics for a run in dispatch order
func (m *Manager) GetMetrics(runID string) ([]*SessionMetric, error) {
	rows, err := m.db.Query(`
		SELECT id, run_id, seq, path, line, protocol, target, started_at, duration_ms, transactions,
		       transaction_errors, verification_errors, skipped, COALESCE(error_message, '')
		FROM replay_session_metrics
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*SessionMetric
	for rows.Next() {
		metric := &SessionMetric{}
		err := rows.Scan(&metric.ID, &metric.RunID, &metric.Seq, &metric.Path, &metric.Line,
			&metric.Protocol, &metric.Target, &metric.StartedAt, &metric.DurationMs, &metric.Transactions,
			&metric.TransactionErrors, &metric.VerificationErrors, &metric.Skipped, &metric.ErrorMessage)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, metric)
	}
	return metrics, rows.Err()
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
