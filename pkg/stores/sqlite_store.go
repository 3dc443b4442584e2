package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath selects a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	if s.cfg.Path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// RecordEnvironment inserts or replaces an environment record together with
// its warnings in one transaction. Existing warnings of the environment are
// replaced.
func (s *SQLiteStore) RecordEnvironment(ctx context.Context, env *Environment, warnings []Warning) error {
	if env.ID == "" {
		return fmt.Errorf("environment id is required")
	}
	if env.RecordedAt.IsZero() {
		env.RecordedAt = time.Now()
	}

	settings, err := json.Marshal(orEmpty(env.Settings))
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = s.RollbackTx(tx) }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO environments (
			id, job_name, mode, family, source_path, settings,
			retention_min_seconds, retention_max_seconds, status, error,
			duration_ms, created_at, prepared_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			job_name = excluded.job_name,
			mode = excluded.mode,
			family = excluded.family,
			source_path = excluded.source_path,
			settings = excluded.settings,
			retention_min_seconds = excluded.retention_min_seconds,
			retention_max_seconds = excluded.retention_max_seconds,
			status = excluded.status,
			error = excluded.error,
			duration_ms = excluded.duration_ms,
			prepared_at = excluded.prepared_at,
			recorded_at = excluded.recorded_at
	`,
		env.ID,
		env.JobName,
		env.Mode,
		env.Family,
		env.SourcePath,
		string(settings),
		env.RetentionMinSeconds,
		env.RetentionMaxSeconds,
		env.Status,
		env.Error,
		env.DurationMs,
		env.CreatedAt,
		env.PreparedAt,
		env.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record environment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM environment_warnings WHERE environment_id = ?`, env.ID); err != nil {
		return fmt.Errorf("failed to clear warnings: %w", err)
	}
	for i := range warnings {
		warnings[i].EnvironmentID = env.ID
		if err := insertWarning(ctx, tx, &warnings[i]); err != nil {
			return err
		}
	}

	if err := s.CommitTx(tx); err != nil {
		return fmt.Errorf("failed to commit environment: %w", err)
	}
	return nil
}

const environmentColumns = `
	id, job_name, mode, family, source_path, settings,
	retention_min_seconds, retention_max_seconds, status, error,
	duration_ms, created_at, prepared_at, recorded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvironment(row rowScanner) (*Environment, error) {
	env := &Environment{}
	var settings string
	err := row.Scan(
		&env.ID,
		&env.JobName,
		&env.Mode,
		&env.Family,
		&env.SourcePath,
		&settings,
		&env.RetentionMinSeconds,
		&env.RetentionMaxSeconds,
		&env.Status,
		&env.Error,
		&env.DurationMs,
		&env.CreatedAt,
		&env.PreparedAt,
		&env.RecordedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(settings), &env.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings of %s: %w", env.ID, err)
	}
	if len(env.Settings) == 0 {
		env.Settings = nil
	}
	return env, nil
}

// GetEnvironment retrieves an environment by ID
func (s *SQLiteStore) GetEnvironment(ctx context.Context, id string) (*Environment, error) {
	query := `SELECT` + environmentColumns + ` FROM environments WHERE id = ?`

	env, err := scanEnvironment(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("environment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}
	return env, nil
}

// ListEnvironments lists environments matching filter, most recent first.
func (s *SQLiteStore) ListEnvironments(ctx context.Context, filter EnvironmentFilter) ([]*Environment, error) {
	var (
		where []string
		args  []any
	)
	if filter.JobName != "" {
		where = append(where, "job_name = ?")
		args = append(args, filter.JobName)
	}
	if filter.Family != "" {
		where = append(where, "family = ?")
		args = append(args, filter.Family)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT` + environmentColumns + ` FROM environments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, id LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	envs := []*Environment{}
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		envs = append(envs, env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating environments: %w", err)
	}

	return envs, nil
}

// DeleteEnvironment deletes an environment and its warnings.
func (s *SQLiteStore) DeleteEnvironment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM environments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete environment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("environment %s: %w", id, ErrNotFound)
	}

	return nil
}

// AddWarning appends a warning to an existing environment.
func (s *SQLiteStore) AddWarning(ctx context.Context, warning *Warning) error {
	return insertWarning(ctx, s.db, warning)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertWarning(ctx context.Context, db execer, warning *Warning) error {
	if warning.CreatedAt.IsZero() {
		warning.CreatedAt = time.Now()
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO environment_warnings (environment_id, kind, config_key, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		warning.EnvironmentID,
		warning.Kind,
		warning.Key,
		warning.Message,
		warning.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add warning: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get warning id: %w", err)
	}
	warning.ID = id
	return nil
}

// ListWarnings lists the warnings of an environment in insertion order.
func (s *SQLiteStore) ListWarnings(ctx context.Context, environmentID string) ([]*Warning, error) {
	query := `
		SELECT id, environment_id, kind, config_key, message, created_at
		FROM environment_warnings
		WHERE environment_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list warnings: %w", err)
	}
	defer rows.Close()

	warnings := []*Warning{}
	for rows.Next() {
		w := &Warning{}
		if err := rows.Scan(&w.ID, &w.EnvironmentID, &w.Kind, &w.Key, &w.Message, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan warning: %w", err)
		}
		warnings = append(warnings, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating warnings: %w", err)
	}

	return warnings, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
