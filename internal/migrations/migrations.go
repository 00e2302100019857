package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add replay run lookup indices",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_replay_runs_directory ON replay_runs(directory);
			CREATE INDEX IF NOT EXISTS idx_replay_runs_status ON replay_runs(status);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_replay_runs_directory;
			DROP INDEX IF EXISTS idx_replay_runs_status;
		`,
	},
	{
		Version: 2,
		Name:    "Add composite index for per-run session metric ordering",
		Up: `
			-- Session metrics are read back per run in dispatch order
			CREATE INDEX IF NOT EXISTS idx_replay_metrics_run_seq ON replay_session_metrics(run_id, seq);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_replay_metrics_run_seq;
		`,
	},
}

// InitSchema creates all tables required by the replay history
// This must be called before running migrations to ensure all tables exist
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS replay_runs (
		id TEXT PRIMARY KEY,
		directory TEXT NOT NULL,
		http_targets TEXT NOT NULL,
		https_targets TEXT NOT NULL,
		mode TEXT NOT NULL,
		rate INTEGER NOT NULL DEFAULT 0,
		repeat_count INTEGER NOT NULL DEFAULT 1,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL,
		sessions INTEGER DEFAULT 0,
		transactions INTEGER DEFAULT 0,
		elapsed_ms INTEGER DEFAULT 0,
		throughput REAL DEFAULT 0,
		sessions_succeeded INTEGER DEFAULT 0,
		sessions_skipped INTEGER DEFAULT 0,
		connect_errors INTEGER DEFAULT 0,
		transaction_errors INTEGER DEFAULT 0,
		verification_errors INTEGER DEFAULT 0,
		avg_duration_ms REAL DEFAULT 0,
		min_duration_ms INTEGER DEFAULT 0,
		max_duration_ms INTEGER DEFAULT 0,
		p50_duration_ms INTEGER DEFAULT 0,
		p95_duration_ms INTEGER DEFAULT 0,
		p99_duration_ms INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_replay_runs_started_at ON replay_runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS replay_session_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		path TEXT NOT NULL,
		line INTEGER NOT NULL DEFAULT 0,
		protocol TEXT NOT NULL,
		target TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		transactions INTEGER DEFAULT 0,
		transaction_errors INTEGER DEFAULT 0,
		verification_errors INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		error_message TEXT,
		FOREIGN KEY (run_id) REFERENCES replay_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_replay_metrics_run_id ON replay_session_metrics(run_id);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	// Initialize schema first to ensure all tables exist
	if err := InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		if _, err := db.Exec(migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}

		_, err = db.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version,
			migration.Name,
		)
		if err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}
