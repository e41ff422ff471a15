// Package postgres provides the Postgres-backed jobs.Store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/note-autopublisher/internal/jobs"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxAttempts     int
}

// pool is satisfied by *pgxpool.Pool and pgxmock pools.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements jobs.Store on Postgres. Every state transition is a single
// conditional UPDATE, so concurrent workers never double-claim a job.
type Store struct {
	pool        pool
	maxAttempts int
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, cfg.MaxAttempts)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, maxAttempts int) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if maxAttempts < 1 {
		maxAttempts = jobs.DefaultMaxAttempts
	}
	return &Store{pool: p, maxAttempts: maxAttempts}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, user_id, article_id, note_account_id, cta_id, status, scheduled_for, attempts,
	started_at, finished_at, error_message, result_url, payload, created_at, updated_at`

func scanJob(row pgx.Row) (jobs.Job, error) {
	var (
		job     jobs.Job
		status  string
		payload []byte
	)
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.ArticleID,
		&job.AccountID,
		&job.CTAID,
		&status,
		&job.ScheduledFor,
		&job.Attempts,
		&job.StartedAt,
		&job.FinishedAt,
		&job.ErrorMessage,
		&job.ResultURL,
		&payload,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return jobs.Job{}, err
	}
	job.Status = jobs.Status(status)
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return jobs.Job{}, fmt.Errorf("decode payload for job %s: %w", job.ID, err)
		}
	}
	return job, nil
}

const insertJobSQL = `
INSERT INTO automation_jobs (
	id, user_id, article_id, note_account_id, cta_id, status, scheduled_for, attempts, payload, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, 'queued', $6, 0, $7, $8, $8)
RETURNING ` + jobColumns

// Enqueue inserts every input in one transaction and returns the rows newest-first.
func (s *Store) Enqueue(ctx context.Context, inputs []jobs.JobInput, now time.Time) ([]jobs.Job, error) {
	out := make([]jobs.Job, 0, len(inputs))
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, in := range inputs {
			if in.ID == "" {
				return fmt.Errorf("job id is required")
			}
			payload, err := encodePayload(in.Payload())
			if err != nil {
				return err
			}
			job, err := scanJob(tx.QueryRow(ctx, insertJobSQL,
				in.ID,
				in.UserID,
				in.ArticleID,
				in.AccountID,
				in.CTAID,
				in.ScheduledFor,
				payload,
				now,
			))
			if err != nil {
				return fmt.Errorf("insert job for article %s: %w", in.ArticleID, err)
			}
			out = append(out, job)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

func encodePayload(payload map[string]any) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}

const fetchNextSQL = `
SELECT ` + jobColumns + `
FROM automation_jobs
WHERE status = 'queued' AND (scheduled_for IS NULL OR scheduled_for <= $1)
ORDER BY scheduled_for ASC NULLS FIRST, created_at ASC, id ASC
LIMIT 1`

// FetchNextEligible returns the oldest eligible queued job, or nil.
func (s *Store) FetchNextEligible(ctx context.Context, now time.Time) (*jobs.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, fetchNextSQL, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch next job: %w", err)
	}
	return &job, nil
}

const claimSQL = `
UPDATE automation_jobs
SET status = 'processing', started_at = $2, attempts = attempts + 1, updated_at = $2
WHERE id = $1 AND status = 'queued'
RETURNING ` + jobColumns

// Claim moves the job to processing only if it is still queued. Losing the race returns nil, nil.
func (s *Store) Claim(ctx context.Context, job jobs.Job, now time.Time) (*jobs.Job, error) {
	claimed, err := scanJob(s.pool.QueryRow(ctx, claimSQL, job.ID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	return &claimed, nil
}

const completeJobSQL = `
UPDATE automation_jobs
SET status = 'completed', finished_at = $2, error_message = NULL, result_url = $3, updated_at = $2
WHERE id = $1 AND status = 'processing'`

const publishArticleSQL = `
UPDATE articles
SET status = 'published', published_at = $2, note_article_url = COALESCE(NULLIF($3, ''), note_article_url), updated_at = $2
WHERE id = $1`

// Complete marks the job completed and its article published in one transaction.
func (s *Store) Complete(ctx context.Context, job jobs.Job, resultURL string, now time.Time) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, completeJobSQL, job.ID, now, jobs.StringPtr(resultURL))
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return jobs.ErrInvalidTransition
		}
		if _, err := tx.Exec(ctx, publishArticleSQL, job.ArticleID, now, resultURL); err != nil {
			return fmt.Errorf("update article %s: %w", job.ArticleID, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	return nil
}

const failSQL = `
UPDATE automation_jobs
SET status = CASE WHEN attempts < $3 THEN 'queued' ELSE 'failed' END,
	error_message = $2,
	started_at = CASE WHEN attempts < $3 THEN NULL ELSE started_at END,
	finished_at = CASE WHEN attempts < $3 THEN NULL ELSE $4::timestamptz END,
	updated_at = $4
WHERE id = $1 AND status = 'processing'
RETURNING status`

// FailAndMaybeRequeue requeues the job while attempts remain, otherwise marks it failed.
func (s *Store) FailAndMaybeRequeue(ctx context.Context, job jobs.Job, reason string, now time.Time) (bool, error) {
	var status string
	err := s.pool.QueryRow(ctx, failSQL, job.ID, reason, s.maxAttempts, now).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("fail job %s: %w", job.ID, jobs.ErrInvalidTransition)
	}
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	return jobs.Status(status) == jobs.StatusQueued, nil
}

const markFailedSQL = `
UPDATE automation_jobs
SET status = 'failed', error_message = $2, finished_at = $3, updated_at = $3
WHERE id = $1 AND status IN ('queued', 'processing')`

// MarkFailed records a terminal failure regardless of attempts.
func (s *Store) MarkFailed(ctx context.Context, job jobs.Job, reason string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, markFailedSQL, job.ID, reason, now)
	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark job %s failed: %w", job.ID, jobs.ErrInvalidTransition)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (jobs.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM automation_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.Job{}, fmt.Errorf("job %s: %w", id, jobs.ErrNotFound)
	}
	if err != nil {
		return jobs.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

const listJobsSQL = `
SELECT j.id, j.status, j.scheduled_for, j.started_at, j.finished_at, j.created_at,
	j.error_message, j.result_url, COALESCE(NULLIF(a.title, ''), 'Untitled'), a.note_article_url
FROM automation_jobs j
LEFT JOIN articles a ON a.id = j.article_id
WHERE j.user_id = $1
ORDER BY j.created_at DESC, j.id DESC
LIMIT $2`

// ListJobs returns the newest jobs for userID joined with their article.
func (s *Store) ListJobs(ctx context.Context, userID string, limit int) ([]jobs.JobView, error) {
	if limit <= 0 {
		limit = jobs.ListLimit
	}
	rows, err := s.pool.Query(ctx, listJobsSQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	views := make([]jobs.JobView, 0)
	for rows.Next() {
		var (
			view   jobs.JobView
			status string
		)
		err := rows.Scan(
			&view.ID,
			&status,
			&view.ScheduledFor,
			&view.StartedAt,
			&view.FinishedAt,
			&view.CreatedAt,
			&view.ErrorMessage,
			&view.ResultURL,
			&view.ArticleTitle,
			&view.ArticlePublicURL,
		)
		if err != nil {
			return nil, fmt.Errorf("scan job view: %w", err)
		}
		view.Status = jobs.Status(status)
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return views, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
