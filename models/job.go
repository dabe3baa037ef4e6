package models

import "time"

// JobStatus is the lifecycle state of a scrape job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is one user submission: an ordered, de-duplicated batch of page URLs.
//
// Lifecycle: created pending → processing on first worker touch → completed
// or failed once every URL has an outcome. CompletedAt is set exactly when
// the status is terminal.
type Job struct {
	ID          int64      `json:"id"`
	UserID      *int64     `json:"user_id,omitempty"`
	URLs        []string   `json:"urls"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MediaType classifies an extracted asset.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Media is one extracted asset, scoped to the job that found it.
// (job_id, media_url) is unique; duplicate inserts are silently skipped.
// Rows are never mutated and are deleted with their job.
type Media struct {
	ID        int64     `json:"id"`
	JobID     int64     `json:"job_id"`
	SourceURL string    `json:"source_url"`
	MediaURL  string    `json:"media_url"`
	Type      MediaType `json:"type"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an authentication principal. Seeded at startup; no other lifecycle.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
