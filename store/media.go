package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/magpielabs/magpie/models"
)

// MediaFilter narrows media queries. Zero values mean "no filter".
type MediaFilter struct {
	Type   string // "image" or "video"
	Search string // case-insensitive match on title and source_url
}

// whereClause renders the filter as "WHERE ..." plus its ordered args.
// Returns "" when nothing is filtered. Split out for testability.
func (f MediaFilter) whereClause() (string, []any) {
	var conds []string
	var args []any
	if f.Type != "" {
		args = append(args, f.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR source_url ILIKE $%d)", n, n))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// InsertMediaBatch persists extracted items for (jobID, sourceURL) in one
// batch round trip. Duplicate (job_id, media_url) pairs are skipped by the
// unique constraint, which is what makes worker retries idempotent.
// Returns the number of rows actually inserted.
func (s *Store) InsertMediaBatch(ctx context.Context, jobID int64, sourceURL string, items []models.MediaItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(
			`INSERT INTO media (job_id, source_url, media_url, type, title)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''))
			 ON CONFLICT (job_id, media_url) DO NOTHING`,
			jobID, sourceURL, item.URL, item.Type, item.Title,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range items {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("store: insert media for job %d: %w", jobID, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// ListMedia returns one page of media, newest first, plus the filtered total.
func (s *Store) ListMedia(ctx context.Context, f MediaFilter, page, limit int) ([]models.Media, int64, error) {
	where, args := f.whereClause()

	var total int64
	if err := s.pool.QueryRow(ctx,
		"SELECT count(*) FROM media "+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count media: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, job_id, source_url, media_url, type, COALESCE(title, ''), created_at
		 FROM media %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2,
	)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list media: %w", err)
	}
	defer rows.Close()

	media := make([]models.Media, 0, limit)
	for rows.Next() {
		var m models.Media
		if err := rows.Scan(&m.ID, &m.JobID, &m.SourceURL, &m.MediaURL,
			&m.Type, &m.Title, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("store: scan media: %w", err)
		}
		media = append(media, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: list media: %w", err)
	}
	return media, total, nil
}

// GetMedia returns one media row with its job summary, or ErrNotFound.
func (s *Store) GetMedia(ctx context.Context, id int64) (*models.MediaDetail, error) {
	var d models.MediaDetail
	err := s.pool.QueryRow(ctx,
		`SELECT m.id, m.job_id, m.source_url, m.media_url, m.type,
		        COALESCE(m.title, ''), m.created_at,
		        j.id, j.status, j.created_at
		 FROM media m
		 JOIN scrape_jobs j ON j.id = m.job_id
		 WHERE m.id = $1`,
		id,
	).Scan(&d.ID, &d.JobID, &d.SourceURL, &d.MediaURL, &d.Type, &d.Title,
		&d.CreatedAt, &d.Job.ID, &d.Job.Status, &d.Job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get media %d: %w", id, err)
	}
	return &d, nil
}

// MediaStats aggregates counts for the stats endpoint.
func (s *Store) MediaStats(ctx context.Context) (*models.MediaStats, error) {
	var st models.MediaStats
	err := s.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE type = 'image'),
		        count(*) FILTER (WHERE type = 'video'),
		        count(*) FILTER (WHERE created_at >= now() - interval '24 hours')
		 FROM media`,
	).Scan(&st.Total, &st.Images, &st.Videos, &st.Last24h)
	if err != nil {
		return nil, fmt.Errorf("store: media stats: %w", err)
	}
	return &st, nil
}

// CountMediaForJob returns the number of media rows a job has produced.
func (s *Store) CountMediaForJob(ctx context.Context, jobID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM media WHERE job_id = $1`, jobID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count media for job %d: %w", jobID, err)
	}
	return n, nil
}
