package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/preflight/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Run Operations
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	ID            string  `db:"id"`
	Domain        string  `db:"domain"`
	CertStrategy  string  `db:"cert_strategy"`
	UseLatest     bool    `db:"use_latest"`
	PullSuccesses int     `db:"pull_successes"`
	PullFailures  int     `db:"pull_failures"`
	Phase         string  `db:"phase"`
	Healthy       int     `db:"healthy"`
	Total         int     `db:"total"`
	ErrorMessage  string  `db:"error_message"`
	StartedAt     string  `db:"started_at"`
	FinishedAt    *string `db:"finished_at"`
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.RunRecord) error {
	query := `
		INSERT INTO runs (
			id, domain, cert_strategy, use_latest,
			pull_successes, pull_failures, phase, healthy, total,
			error_message, started_at, finished_at
		) VALUES (
			:id, :domain, :cert_strategy, :use_latest,
			:pull_successes, :pull_failures, :phase, :healthy, :total,
			:error_message, :started_at, :finished_at
		)`

	_, err := s.db.NamedExecContext(ctx, query, runToRow(run))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.id") {
			return NewStoreError("CreateRun", run.ID, "run with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRun", run.ID, err.Error(), err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *domain.RunRecord) error {
	query := `
		UPDATE runs SET
			cert_strategy = :cert_strategy,
			pull_successes = :pull_successes,
			pull_failures = :pull_failures,
			phase = :phase,
			healthy = :healthy,
			total = :total,
			error_message = :error_message,
			finished_at = :finished_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, query, runToRow(run))
	if err != nil {
		return NewStoreError("FinishRun", run.ID, err.Error(), err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return NewStoreError("FinishRun", run.ID, "run not found", ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	query := `SELECT * FROM runs WHERE id = ?`

	var row runRow
	err := s.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", id, err.Error(), err)
	}

	return rowToRun(&row), nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.RunRecord, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListRuns", "", err.Error(), err)
	}

	runs := make([]domain.RunRecord, 0, len(rows))
	for i := range rows {
		runs = append(runs, *rowToRun(&rows[i]))
	}
	return runs, nil
}

func (s *SQLiteStore) ListRunsByDomain(ctx context.Context, domainName string, opts ListOptions) ([]domain.RunRecord, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM runs WHERE domain = ? ORDER BY started_at DESC LIMIT ? OFFSET ?`

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, domainName, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListRunsByDomain", "", err.Error(), err)
	}

	runs := make([]domain.RunRecord, 0, len(rows))
	for i := range rows {
		runs = append(runs, *rowToRun(&rows[i]))
	}
	return runs, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

func runToRow(run *domain.RunRecord) map[string]any {
	var finishedAt *string
	if run.FinishedAt != nil {
		s := run.FinishedAt.Format(time.RFC3339)
		finishedAt = &s
	}

	return map[string]any{
		"id":             run.ID,
		"domain":         run.Domain,
		"cert_strategy":  string(run.CertStrategy),
		"use_latest":     run.UseLatest,
		"pull_successes": run.PullSuccesses,
		"pull_failures":  run.PullFailures,
		"phase":          string(run.Phase),
		"healthy":        run.Healthy,
		"total":          run.Total,
		"error_message":  run.ErrorMessage,
		"started_at":     run.StartedAt.Format(time.RFC3339),
		"finished_at":    finishedAt,
	}
}

func rowToRun(row *runRow) *domain.RunRecord {
	startedAt, _ := time.Parse(time.RFC3339, row.StartedAt)

	var finishedAt *time.Time
	if row.FinishedAt != nil && *row.FinishedAt != "" {
		t, _ := time.Parse(time.RFC3339, *row.FinishedAt)
		finishedAt = &t
	}

	return &domain.RunRecord{
		ID:            row.ID,
		Domain:        row.Domain,
		CertStrategy:  domain.CertStrategy(row.CertStrategy),
		UseLatest:     row.UseLatest,
		PullSuccesses: row.PullSuccesses,
		PullFailures:  row.PullFailures,
		Phase:         domain.ActivationPhase(row.Phase),
		Healthy:       row.Healthy,
		Total:         row.Total,
		ErrorMessage:  row.ErrorMessage,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
	}
}
