package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/magpielabs/magpie/models"
)

// CreateJob inserts a pending job and returns it with its assigned id.
func (s *Store) CreateJob(ctx context.Context, userID *int64, urls []string) (*models.Job, error) {
	job := &models.Job{
		UserID: userID,
		URLs:   urls,
		Status: models.JobPending,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO scrape_jobs (user_id, urls) VALUES ($1, $2)
		 RETURNING id, created_at`,
		userID, urls,
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create job: %w", err)
	}
	return job, nil
}

// MarkJobProcessing moves a pending job to processing. It is idempotent and
// monotonic: already-processing jobs are untouched and terminal jobs are
// never re-entered.
func (s *Store) MarkJobProcessing(ctx context.Context, jobID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET status = 'processing'
		 WHERE id = $1 AND status = 'pending'`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("store: mark job %d processing: %w", jobID, err)
	}
	return nil
}

// MarkJobTerminal writes the final status and completed_at. The guard on the
// current status makes the terminal write happen at most once.
func (s *Store) MarkJobTerminal(ctx context.Context, jobID int64, status models.JobStatus, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("store: %q is not a terminal status", status)
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET status = $2, completed_at = $3
		 WHERE id = $1 AND status IN ('pending','processing')`,
		jobID, status, at,
	)
	if err != nil {
		return fmt.Errorf("store: mark job %d %s: %w", jobID, status, err)
	}
	return nil
}

// GetJob returns a job row or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, jobID int64) (*models.Job, error) {
	var job models.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, urls, status, created_at, completed_at
		 FROM scrape_jobs WHERE id = $1`,
		jobID,
	).Scan(&job.ID, &job.UserID, &job.URLs, &job.Status, &job.CreatedAt, &job.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job %d: %w", jobID, err)
	}
	return &job, nil
}

// GetJobDetail returns a job together with its media count, or ErrNotFound.
func (s *Store) GetJobDetail(ctx context.Context, jobID int64) (*models.JobDetail, error) {
	var d models.JobDetail
	var urls []string
	err := s.pool.QueryRow(ctx,
		`SELECT j.id, j.status, j.urls, j.created_at, j.completed_at,
		        (SELECT count(*) FROM media m WHERE m.job_id = j.id) AS media_found
		 FROM scrape_jobs j WHERE j.id = $1`,
		jobID,
	).Scan(&d.JobID, &d.Status, &urls, &d.CreatedAt, &d.CompletedAt, &d.MediaFound)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job detail %d: %w", jobID, err)
	}
	d.URLs = urls
	d.TotalURLs = len(urls)
	return &d, nil
}

// ListJobs returns one page of job summaries, newest first, plus the total
// row count for pagination.
func (s *Store) ListJobs(ctx context.Context, page, limit int) ([]models.JobSummary, int64, error) {
	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scrape_jobs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count jobs: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT j.id, j.status, cardinality(j.urls) AS total_urls,
		        (SELECT count(*) FROM media m WHERE m.job_id = j.id) AS media_found,
		        j.created_at, j.completed_at
		 FROM scrape_jobs j
		 ORDER BY j.created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, (page-1)*limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()

	summaries := make([]models.JobSummary, 0, limit)
	for rows.Next() {
		var js models.JobSummary
		if err := rows.Scan(&js.JobID, &js.Status, &js.TotalURLs, &js.MediaFound,
			&js.CreatedAt, &js.CompletedAt); err != nil {
			return nil, 0, fmt.Errorf("store: scan job summary: %w", err)
		}
		summaries = append(summaries, js)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: list jobs: %w", err)
	}
	return summaries, total, nil
}
