package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/WeddingAI/internal/models"
)

// JobRepository persists batch generation jobs. Counter updates and the
// terminal transition are conditional single-statement updates; callers never
// read-modify-write a job row.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, user_id, COALESCE(album_id, ''), mode, config, total_images, credits_reserved, credits_used,
completed_images, failed_images, status, created_at, updated_at, completed_at`

func (r *JobRepository) Create(ctx context.Context, job *models.GenerationJob) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	const query = `
INSERT INTO generation_jobs (id, user_id, album_id, mode, config, total_images, credits_reserved, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, job.ID, job.UserID, nullableString(job.AlbumID), job.Mode, cfg, job.TotalImages, job.CreditsReserved, job.Status); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.GenerationJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// MarkProcessing moves a PENDING job to PROCESSING and refreshes its
// activity time. It returns false once the job is terminal.
func (r *JobRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	const query = `
UPDATE generation_jobs SET status = 'PROCESSING', updated_at = NOW(6)
WHERE id = ? AND status IN ('PENDING', 'PROCESSING')`
	return r.execAffected(ctx, "mark job processing", query, id)
}

// IncrementCompleted records one successful task and consumes one reserved
// credit. It returns false when the job is no longer PROCESSING or its
// counters are already full.
func (r *JobRepository) IncrementCompleted(ctx context.Context, id string) (bool, error) {
	const query = `
UPDATE generation_jobs
SET completed_images = completed_images + 1, credits_used = credits_used + 1
WHERE id = ? AND status = 'PROCESSING'
  AND completed_images + failed_images < total_images
  AND credits_used < credits_reserved`
	return r.execAffected(ctx, "increment completed", query, id)
}

func (r *JobRepository) IncrementFailed(ctx context.Context, id string) (bool, error) {
	const query = `
UPDATE generation_jobs
SET failed_images = failed_images + 1
WHERE id = ? AND status = 'PROCESSING'
  AND completed_images + failed_images < total_images`
	return r.execAffected(ctx, "increment failed", query, id)
}

// Finalize performs the terminal transition. Without force it only fires once
// every task has reported; with force it also closes jobs that still have
// outstanding tasks, counting them as failed. Exactly one caller observes
// true for a given job.
func (r *JobRepository) Finalize(ctx context.Context, id string, force bool) (bool, error) {
	const transition = `
UPDATE generation_jobs
SET status = CASE
        WHEN completed_images = 0 THEN 'FAILED'
        WHEN completed_images >= total_images THEN 'COMPLETED'
        ELSE 'PARTIAL'
    END,
    failed_images = total_images - completed_images,
    completed_at = NOW(6)
WHERE id = ? AND `
	query := transition + `status = 'PROCESSING' AND completed_images + failed_images >= total_images`
	if force {
		query = transition + `status IN ('PENDING', 'PROCESSING')`
	}
	return r.execAffected(ctx, "finalize job", query, id)
}

// ListStale returns non-terminal jobs not touched since before.
func (r *JobRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]models.GenerationJob, error) {
	const query = `SELECT ` + jobColumns + ` FROM generation_jobs
WHERE status IN ('PENDING', 'PROCESSING') AND updated_at < ?
ORDER BY updated_at ASC LIMIT ?`
	return r.list(ctx, "list stale jobs", query, before, limit)
}

// ListUnreleased returns terminal jobs with an unconsumed reservation and no
// release row in the credit log.
func (r *JobRepository) ListUnreleased(ctx context.Context, limit int) ([]models.GenerationJob, error) {
	const query = `SELECT ` + jobColumns + ` FROM generation_jobs j
WHERE j.status IN ('COMPLETED', 'FAILED', 'PARTIAL')
  AND j.credits_reserved > j.credits_used
  AND NOT EXISTS (
    SELECT 1 FROM credit_transactions t
    WHERE t.user_id = j.user_id AND t.reference_type = 'JOB' AND t.reference_id = j.id AND t.type = 'REFUND'
  )
ORDER BY j.completed_at ASC LIMIT ?`
	return r.list(ctx, "list unreleased jobs", query, limit)
}

func (r *JobRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.GenerationJob, error) {
	const query = `SELECT ` + jobColumns + ` FROM generation_jobs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	return r.list(ctx, "list user jobs", query, userID, limit)
}

func (r *JobRepository) execAffected(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return affected > 0, nil
}

func (r *JobRepository) list(ctx context.Context, op, query string, args ...any) ([]models.GenerationJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var jobs []models.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(s scanner) (*models.GenerationJob, error) {
	var (
		job         models.GenerationJob
		cfg         []byte
		completedAt sql.NullTime
	)
	if err := s.Scan(&job.ID, &job.UserID, &job.AlbumID, &job.Mode, &cfg, &job.TotalImages, &job.CreditsReserved, &job.CreditsUsed,
		&job.CompletedImages, &job.FailedImages, &job.Status, &job.CreatedAt, &job.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &job.Config); err != nil {
			return nil, fmt.Errorf("decode job config: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}
