package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the reference Store backing for multi-worker
// deployments: every Job is stored as a JSONB document keyed by id, so the
// schema doesn't need to track the Job/Output model's shape migration by
// migration. Per-row `SELECT ... FOR UPDATE` within a transaction serialises
// UpdateJob the same way MemoryStore's per-id mutex does, just across
// worker processes instead of within one.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

const defaultPostgresTimeout = 10 * time.Second

const createJobsTable = `
CREATE TABLE IF NOT EXISTS render_jobs (
	id         TEXT PRIMARY KEY,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPostgresStore opens a connection pool against dsn and ensures the
// backing table exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres job store dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres job store config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres job store pool: %w", err)
	}

	s := &PostgresStore{pool: pool, timeout: defaultPostgresTimeout}
	ctx, cancel := s.operationContext()
	defer cancel()
	if _, err := pool.Exec(ctx, createJobsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating render_jobs table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) operationContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *PostgresStore) CreateJob(j *Job) error {
	if j.ID == "" {
		return fmt.Errorf("job has no id")
	}
	document, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshalling job: %w", err)
	}

	ctx, cancel := s.operationContext()
	defer cancel()
	_, err = s.pool.Exec(ctx, `
INSERT INTO render_jobs (id, document) VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING`, j.ID, document)
	return err
}

func (s *PostgresStore) GetJob(id string) (*Job, bool) {
	ctx, cancel := s.operationContext()
	defer cancel()

	row := s.pool.QueryRow(ctx, `SELECT document FROM render_jobs WHERE id = $1`, id)
	var document []byte
	if err := row.Scan(&document); err != nil {
		return nil, false
	}

	var j Job
	if err := json.Unmarshal(document, &j); err != nil {
		return nil, false
	}
	return &j, true
}

func (s *PostgresStore) ListJobs() []*Job {
	ctx, cancel := s.operationContext()
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT document FROM render_jobs ORDER BY updated_at DESC`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			continue
		}
		var j Job
		if err := json.Unmarshal(document, &j); err != nil {
			continue
		}
		jobs = append(jobs, &j)
	}
	return jobs
}

// UpdateJob reads the row FOR UPDATE inside a transaction, runs mutate, and
// writes the result back before committing — the Postgres equivalent of
// MemoryStore's per-id mutex, serialising concurrent Runners across
// worker processes.
func (s *PostgresStore) UpdateJob(id string, mutate func(j *Job) error) error {
	ctx, cancel := s.operationContext()
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT document FROM render_jobs WHERE id = $1 FOR UPDATE`, id)
	var document []byte
	if err := row.Scan(&document); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("job %s not found", id)
		}
		return err
	}

	var j Job
	if err := json.Unmarshal(document, &j); err != nil {
		return fmt.Errorf("unmarshalling job: %w", err)
	}
	if err := mutate(&j); err != nil {
		return err
	}

	updated, err := json.Marshal(&j)
	if err != nil {
		return fmt.Errorf("marshalling job: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE render_jobs SET document = $1, updated_at = now() WHERE id = $2`, updated, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) DeleteJob(id string) error {
	ctx, cancel := s.operationContext()
	defer cancel()
	_, err := s.pool.Exec(ctx, `DELETE FROM render_jobs WHERE id = $1`, id)
	return err
}
