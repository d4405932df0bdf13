package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 1

// InitializeDatabase creates and initializes the SQLite database with the required schema.
// This function is idempotent and safe to call multiple times. Most callers should use
// Initialize instead; this entry point exists for tools and tests that manage their own
// connection lifecycle.
func InitializeDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection with a simple ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema with migrations
	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// initializeSchemaWithMigrations ensures the database schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	// Get current schema version
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// If database is empty (version 0), create fresh schema
	if currentVersion == 0 {
		return createSchema(db)
	}

	// If database is up-to-date, no migration needed
	if currentVersion == CurrentSchemaVersion {
		return nil
	}

	// Run migrations from current version to target version
	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies database migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}

		// Update schema version after successful migration
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

// runMigration applies a specific version migration.
func runMigration(_ *sql.DB, version int) error {
	switch version {
	case 1:
		// Version 1 is the initial schema, created by createSchema.
		return nil
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// createSchema creates all required tables and indices.
func createSchema(db *sql.DB) error {
	// Enable WAL mode and foreign keys
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	// Create tables
	tables := []string{
		// Schema version tracking
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Engine runs (one row per invocation)
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			user_request TEXT NOT NULL,
			mode TEXT DEFAULT 'run' CHECK (mode IN ('run','plan','task')),
			status TEXT DEFAULT 'running' CHECK (status IN ('running','completed','failed')),
			total_steps INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			completed_at DATETIME,
			error TEXT
		)`,

		// Execution plans produced by the planner
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			user_request TEXT NOT NULL,
			raw TEXT,
			is_fallback INTEGER NOT NULL DEFAULT 0,
			total_steps INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Plan steps in document order
		`CREATE TABLE IF NOT EXISTS plan_steps (
			plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
			step_index INTEGER NOT NULL,
			agent TEXT NOT NULL,
			task TEXT NOT NULL,
			depends_on TEXT,
			PRIMARY KEY (plan_id, step_index)
		)`,

		// Coder task executions
		`CREATE TABLE IF NOT EXISTS generations (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			step_index INTEGER DEFAULT 0,
			agent_key TEXT NOT NULL,
			task TEXT NOT NULL,
			status TEXT DEFAULT 'pending' CHECK (status IN ('pending','running','completed','failed')),
			attempts INTEGER DEFAULT 0,
			files_written INTEGER DEFAULT 0,
			bytes_written BIGINT DEFAULT 0,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			completed_at DATETIME
		)`,

		// Files written to the project by a generation
		`CREATE TABLE IF NOT EXISTS generation_files (
			generation_id TEXT NOT NULL REFERENCES generations(id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			bytes BIGINT DEFAULT 0,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (generation_id, path)
		)`,

		// Failed attempts within a generation
		`CREATE TABLE IF NOT EXISTS generation_errors (
			generation_id TEXT NOT NULL REFERENCES generations(id) ON DELETE CASCADE,
			attempt INTEGER NOT NULL,
			message TEXT NOT NULL,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (generation_id, attempt)
		)`,

		// LLM conversation sessions
		`CREATE TABLE IF NOT EXISTS llm_sessions (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			agent_key TEXT NOT NULL,
			title TEXT NOT NULL,
			model TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Messages within LLM sessions
		`CREATE TABLE IF NOT EXISTS llm_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES llm_sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('system','user','assistant')),
			content TEXT NOT NULL,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	}

	// Create indices
	indices := []string{
		// Run isolation indices (critical for performance)
		"CREATE INDEX IF NOT EXISTS idx_plans_run ON plans(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_generations_run ON generations(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_llm_sessions_run ON llm_sessions(run_id)",

		// Functional indices
		"CREATE INDEX IF NOT EXISTS idx_generations_status ON generations(status)",
		"CREATE INDEX IF NOT EXISTS idx_generations_agent ON generations(agent_key)",
		"CREATE INDEX IF NOT EXISTS idx_llm_messages_session ON llm_messages(session_id, seq)",
	}

	// Execute table creation
	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	// Execute index creation
	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	// Set schema version
	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}

// setSchemaVersion records the current schema version.
func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO schema_version (version) VALUES (?)
	`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	// First ensure the schema_version table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil // No version set yet
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
