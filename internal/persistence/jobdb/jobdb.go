// Package jobdb implements the job queue on a relational database,
// either embedded sqlite or postgres, selected by the config driver.
package jobdb

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/weft-run/weft/internal/models"
	"github.com/weft-run/weft/internal/persistence"
)

// timeFormat is RFC3339 with a fixed-width fraction so the TEXT columns
// order chronologically under ORDER BY.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnknownDriver is returned by Open for a driver other than sqlite
// or postgres.
var ErrUnknownDriver = errors.New("unknown queue driver")

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Compile-time interface assertion.
var _ persistence.Store = (*Store)(nil)

// Store is the sqlx-backed job queue.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Config selects the database.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	// DSN is the sqlite file path or the postgres connection string.
	DSN string
}

// Open connects, applies pragmas for sqlite, and runs the embedded
// schema migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var driverName, dialect string
	switch cfg.Driver {
	case DriverSQLite:
		driverName, dialect = "sqlite", "sqlite3"
	case DriverPostgres:
		driverName, dialect = "pgx", "postgres"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// sqlite serializes writes; one connection avoids lock churn.
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("execute %s: %w", pragma, err)
			}
		}
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db, driver: cfg.Driver}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const jobColumns = `job_id, task_name, action_name, input, queued, status, source_type, source_id, worker_id, picked, start_datetime, end_datetime, output, success`

func (s *Store) Enqueue(ctx context.Context, req models.JobRequest, sourceType models.SourceType, sourceID string) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	input, err := marshalJSON(req.Input)
	if err != nil {
		return "", err
	}

	query := s.db.Rebind(`INSERT INTO job (job_id, task_name, action_name, input, queued, status, source_type, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		id, nullString(req.Task), nullString(req.Action), input,
		formatTime(time.Now()), models.StatusQueued, sourceType, nullString(sourceID))
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

func (s *Store) Claim(ctx context.Context, workerID string) (*models.Job, error) {
	// One statement so two workers can never claim the same row. On
	// postgres SKIP LOCKED lets concurrent claimers pass each other.
	sub := `SELECT job_id FROM job WHERE status = ? AND worker_id IS NULL ORDER BY queued LIMIT 1`
	if s.driver == DriverPostgres {
		sub += ` FOR UPDATE SKIP LOCKED`
	}
	query := s.db.Rebind(`UPDATE job SET worker_id = ?, picked = ?, status = ?
		WHERE job_id = (` + sub + `) RETURNING ` + jobColumns)

	var row jobRow
	err := s.db.QueryRowxContext(ctx, query,
		workerID, formatTime(time.Now()), models.StatusRunning, models.StatusQueued,
	).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return row.toJob()
}

func (s *Store) UpdateStart(ctx context.Context, jobID, workerID string, start models.StartRequest) error {
	input, err := marshalJSON(start.Input)
	if err != nil {
		return err
	}
	query := s.db.Rebind(`UPDATE job SET start_datetime = ?, input = COALESCE(?, input)
		WHERE job_id = ? AND worker_id = ? AND status = ?`)
	if _, err := s.db.ExecContext(ctx, query,
		nullTime(start.StartDatetime), input, jobID, workerID, models.StatusRunning); err != nil {
		return fmt.Errorf("update job start: %w", err)
	}
	return nil
}

func (s *Store) UpdateResult(ctx context.Context, jobID string, result models.JobResult) error {
	output, err := marshalJSON(result.Output)
	if err != nil {
		return err
	}
	status := models.StatusFailed
	if result.Success {
		status = models.StatusCompleted
	}
	query := s.db.Rebind(`UPDATE job SET status = ?, end_datetime = ?, output = ?, success = ? WHERE job_id = ?`)
	if _, err := s.db.ExecContext(ctx, query,
		status, nullTime(result.EndDatetime), output, result.Success, jobID); err != nil {
		return fmt.Errorf("update job result: %w", err)
	}
	return nil
}

func (s *Store) UpdateStepStart(ctx context.Context, jobID, stepName string, start models.StartRequest) error {
	input, err := marshalJSON(start.Input)
	if err != nil {
		return err
	}
	query := s.db.Rebind(`INSERT INTO job_step (job_id, step_name, start_datetime, input) VALUES (?, ?, ?, ?)
		ON CONFLICT (job_id, step_name) DO UPDATE SET
			start_datetime = excluded.start_datetime,
			input = excluded.input`)
	if _, err := s.db.ExecContext(ctx, query,
		jobID, stepName, nullTime(start.StartDatetime), input); err != nil {
		return fmt.Errorf("update step start: %w", err)
	}
	return nil
}

func (s *Store) UpdateStepResult(ctx context.Context, jobID, stepName string, result models.JobResult) error {
	input, err := marshalJSON(result.Input)
	if err != nil {
		return err
	}
	output, err := marshalJSON(result.Output)
	if err != nil {
		return err
	}
	query := s.db.Rebind(`INSERT INTO job_step (job_id, step_name, start_datetime, end_datetime, input, output, success)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, step_name) DO UPDATE SET
			start_datetime = COALESCE(excluded.start_datetime, job_step.start_datetime),
			end_datetime = excluded.end_datetime,
			input = COALESCE(excluded.input, job_step.input),
			output = excluded.output,
			success = excluded.success`)
	if _, err := s.db.ExecContext(ctx, query,
		jobID, stepName, nullTime(result.StartDatetime), nullTime(result.EndDatetime),
		input, output, result.Success); err != nil {
		return fmt.Errorf("update step result: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM job WHERE job_id = ?`)
	var row jobRow
	err := s.db.GetContext(ctx, &row, query, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", persistence.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return row.toJob()
}

func (s *Store) ListJobs(ctx context.Context, limit, offset int) ([]*models.Job, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM job`); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM job ORDER BY queued DESC LIMIT ? OFFSET ?`)
	return s.listJobs(ctx, total, query, limit, offset)
}

func (s *Store) ListJobsByStatus(ctx context.Context, status models.Status, limit, offset int) ([]*models.Job, int, error) {
	var total int
	countQuery := s.db.Rebind(`SELECT COUNT(*) FROM job WHERE status = ?`)
	if err := s.db.GetContext(ctx, &total, countQuery, status); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM job WHERE status = ? ORDER BY queued DESC LIMIT ? OFFSET ?`)
	return s.listJobs(ctx, total, query, status, limit, offset)
}

func (s *Store) listJobs(ctx context.Context, total int, query string, args ...any) ([]*models.Job, int, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]*models.Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toJob()
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, nil
}

func (s *Store) GetSteps(ctx context.Context, jobID string) ([]*models.Step, error) {
	query := s.db.Rebind(`SELECT job_id, step_name, start_datetime, end_datetime, input, output, success
		FROM job_step WHERE job_id = ? ORDER BY start_datetime, step_name`)
	var rows []stepRow
	if err := s.db.SelectContext(ctx, &rows, query, jobID); err != nil {
		return nil, fmt.Errorf("get steps: %w", err)
	}
	steps := make([]*models.Step, 0, len(rows))
	for _, row := range rows {
		steps = append(steps, row.toStep())
	}
	return steps, nil
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal value: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}
