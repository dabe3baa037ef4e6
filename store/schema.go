package store

import (
	"context"
	"fmt"
)

// schema is applied idempotently at startup. Migrations proper are owned by
// deployment tooling; this keeps a fresh database usable out of the box.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS scrape_jobs (
		id           BIGSERIAL PRIMARY KEY,
		user_id      BIGINT REFERENCES users(id),
		urls         TEXT[] NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending'
		             CHECK (status IN ('pending','processing','completed','failed')),
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS media (
		id         BIGSERIAL PRIMARY KEY,
		job_id     BIGINT NOT NULL REFERENCES scrape_jobs(id) ON DELETE CASCADE,
		source_url TEXT NOT NULL,
		media_url  TEXT NOT NULL,
		type       TEXT NOT NULL CHECK (type IN ('image','video')),
		title      TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (job_id, media_url)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_media_type ON media (type)`,
	`CREATE INDEX IF NOT EXISTS idx_media_created_at ON media (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_media_job_id ON media (job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_media_source_url ON media (source_url)`,
	`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_status ON scrape_jobs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_created_at ON scrape_jobs (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_user_id ON scrape_jobs (user_id)`,
}

// EnsureSchema creates tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}
