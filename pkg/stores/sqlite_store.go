package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/bindkit/bindkit/pkg/discovery"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists discovery run history in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

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

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
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

// SaveRun persists a discovery result and its plugin reports in one
// transaction.
//
// Implements discovery.RunStore.
func (s *SQLiteStore) SaveRun(ctx context.Context, result *discovery.Result) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if result == nil {
		return fmt.Errorf("result is required")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	completedAt := result.StartedAt.Add(result.Duration)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, environment, module_count, descriptor_count,
			cache_hits, cache_misses, has_errors,
			started_at, completed_at, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.RunID,
		result.Environment,
		result.ModuleCount,
		len(result.Descriptors),
		result.CacheHits,
		result.CacheMisses,
		result.HasErrors,
		result.StartedAt,
		completedAt,
		result.Duration.Milliseconds(),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if result.Plugins != nil {
		for _, report := range result.Plugins.Reports {
			messages, err := json.Marshal(report.Messages)
			if err != nil {
				return fmt.Errorf("failed to encode plugin messages: %w", err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO plugin_reports (
					run_id, name, priority, success, descriptor_count,
					error, messages, execution_time_ms
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`,
				result.RunID,
				report.Name,
				report.Priority,
				report.Success,
				len(report.Descriptors),
				report.Error,
				string(messages),
				report.ExecutionTime.Milliseconds(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert plugin report for %s: %w", report.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT id, environment, module_count, descriptor_count,
			   cache_hits, cache_misses, has_errors,
			   started_at, completed_at, duration_ms, created_at
		FROM runs
		WHERE id = ?
	`

	run := &RunRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Environment,
		&run.ModuleCount,
		&run.DescriptorCount,
		&run.CacheHits,
		&run.CacheMisses,
		&run.HasErrors,
		&run.StartedAt,
		&run.CompletedAt,
		&run.DurationMs,
		&run.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs newest first with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	query := `
		SELECT id, environment, module_count, descriptor_count,
			   cache_hits, cache_misses, has_errors,
			   started_at, completed_at, duration_ms, created_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run := &RunRecord{}
		err := rows.Scan(
			&run.ID,
			&run.Environment,
			&run.ModuleCount,
			&run.DescriptorCount,
			&run.CacheHits,
			&run.CacheMisses,
			&run.HasErrors,
			&run.StartedAt,
			&run.CompletedAt,
			&run.DurationMs,
			&run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// GetPluginReports retrieves a run's plugin reports in execution order.
func (s *SQLiteStore) GetPluginReports(ctx context.Context, runID string) ([]*PluginReportRecord, error) {
	query := `
		SELECT id, run_id, name, priority, success, descriptor_count,
			   error, messages, execution_time_ms
		FROM plugin_reports
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get plugin reports: %w", err)
	}
	defer rows.Close()

	reports := []*PluginReportRecord{}
	for rows.Next() {
		report := &PluginReportRecord{}
		var messages string
		err := rows.Scan(
			&report.ID,
			&report.RunID,
			&report.Name,
			&report.Priority,
			&report.Success,
			&report.DescriptorCount,
			&report.Error,
			&messages,
			&report.ExecutionTimeMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plugin report: %w", err)
		}
		if messages != "" {
			if err := json.Unmarshal([]byte(messages), &report.Messages); err != nil {
				return nil, fmt.Errorf("failed to decode plugin messages: %w", err)
			}
		}
		reports = append(reports, report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plugin reports: %w", err)
	}

	return reports, nil
}

// DeleteRun deletes a run and, via cascade, its plugin reports.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// PruneRuns deletes all but the newest keep runs and returns the number of
// runs removed.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must be non-negative")
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
