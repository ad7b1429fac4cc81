package cronjob

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chasingclaw/internal/domain"
)

// SQLiteStore implements domain.CronStore on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creating
// its directory if needed, and runs the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create cron db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cron db: %w", err)
	}
	// Single writer; the service already serializes mutations.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cron db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cron_jobs (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			enabled       INTEGER NOT NULL,
			schedule      TEXT NOT NULL,
			payload       TEXT NOT NULL,
			state         TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS cron_runs (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id     TEXT NOT NULL,
			started_at TEXT NOT NULL,
			duration   TEXT NOT NULL,
			forced     INTEGER NOT NULL DEFAULT 0,
			success    INTEGER NOT NULL,
			error      TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_cron_runs_job ON cron_runs(job_id, seq);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, job domain.CronJob) error {
	sched, err := json.Marshal(job.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	state, err := json.Marshal(job.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cron_jobs (id, name, enabled, schedule, payload, state, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			schedule = excluded.schedule,
			payload = excluded.payload,
			state = excluded.state,
			updated_at_ms = excluded.updated_at_ms`,
		job.ID, job.Name, job.Enabled, string(sched), string(payload), string(state),
		job.CreatedAtMs, job.UpdatedAtMs,
	)
	return domain.WrapOp("SQLiteStore.Save", err)
}

const jobColumns = "id, name, enabled, schedule, payload, state, created_at_ms, updated_at_ms"

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.CronJob, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM cron_jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("SQLiteStore.Get", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]domain.CronJob, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM cron_jobs ORDER BY created_at_ms, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.CronJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM cron_jobs WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewDomainError("SQLiteStore.Delete", domain.ErrJobNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM cron_runs WHERE job_id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run domain.CronRun) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO cron_runs (job_id, started_at, duration, forced, success, error) VALUES (?, ?, ?, ?, ?, ?)",
		run.JobID, run.StartedAt.UTC().Format(time.RFC3339Nano), run.Duration, run.Forced, run.Success, run.Error,
	)
	if err != nil {
		return domain.WrapOp("SQLiteStore.SaveRun", err)
	}
	// Keep the newest maxRunsPerJob rows per job.
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM cron_runs WHERE job_id = ? AND seq NOT IN (
			SELECT seq FROM cron_runs WHERE job_id = ? ORDER BY seq DESC LIMIT ?
		)`, run.JobID, run.JobID, maxRunsPerJob)
	return domain.WrapOp("SQLiteStore.SaveRun", err)
}

// ListRuns returns up to limit runs for jobID, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context, jobID string, limit int) ([]domain.CronRun, error) {
	if limit <= 0 {
		limit = maxRunsPerJob
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT job_id, started_at, duration, forced, success, error FROM cron_runs WHERE job_id = ? ORDER BY seq DESC LIMIT ?",
		jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []domain.CronRun{}
	for rows.Next() {
		var (
			r       domain.CronRun
			started string
		)
		if err := rows.Scan(&r.JobID, &started, &r.Duration, &r.Forced, &r.Success, &r.Error); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.CronJob, error) {
	var (
		job                     domain.CronJob
		sched, payload, stateJS string
	)
	if err := row.Scan(&job.ID, &job.Name, &job.Enabled, &sched, &payload, &stateJS,
		&job.CreatedAtMs, &job.UpdatedAtMs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sched), &job.Schedule); err != nil {
		return nil, fmt.Errorf("unmarshal schedule for %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload for %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(stateJS), &job.State); err != nil {
		return nil, fmt.Errorf("unmarshal state for %s: %w", job.ID, err)
	}
	return &job, nil
}
