package models

import (
	"math"
	"time"
)

// Response is the envelope every API endpoint answers with.
type Response struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      string      `json:"error,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// Pagination describes one page of a list response.
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// NewPagination computes totalPages = ceil(total/limit).
func NewPagination(total int64, page, limit int) *Pagination {
	pages := 0
	if limit > 0 {
		pages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return &Pagination{Total: total, Page: page, Limit: limit, TotalPages: pages}
}

// LoginRequest is the payload for POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ScrapeSubmitRequest is the payload for POST /api/scrape.
// URL-count and scheme validation happen in the handler so the error
// messages stay consistent with the rest of the taxonomy.
type ScrapeSubmitRequest struct {
	URLs []string `json:"urls" binding:"required"`
}

// ScrapeAccepted is returned with 201 when a job has been enqueued.
type ScrapeAccepted struct {
	JobID             int64     `json:"job_id"`
	Status            JobStatus `json:"status"`
	TotalURLs         int       `json:"total_urls"`
	DuplicatesRemoved int       `json:"duplicates_removed"`
	CreatedAt         time.Time `json:"created_at"`
}

// JobSummary is one row of GET /api/jobs.
type JobSummary struct {
	JobID       int64      `json:"job_id"`
	Status      JobStatus  `json:"status"`
	TotalURLs   int        `json:"total_urls"`
	MediaFound  int64      `json:"media_found"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobDetail is the payload of GET /api/jobs/:id.
type JobDetail struct {
	JobSummary
	URLs []string `json:"urls"`
}

// JobRef is the compact job block embedded in a media detail response.
type JobRef struct {
	ID        int64     `json:"id"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// MediaDetail is the payload of GET /api/media/:id.
type MediaDetail struct {
	Media
	Job JobRef `json:"job"`
}

// MediaStats is the payload of GET /api/media/stats.
type MediaStats struct {
	Total   int64 `json:"total"`
	Images  int64 `json:"images"`
	Videos  int64 `json:"videos"`
	Last24h int64 `json:"last24h"`
}

// MemoryInfo reports process heap usage for the health endpoints.
type MemoryInfo struct {
	HeapMB   uint64 `json:"heapMb"`
	SysMB    uint64 `json:"sysMb"`
	NumGC    uint32 `json:"numGc"`
	Routines int    `json:"goroutines"`
}

// HealthDetail is the payload of GET /health/detailed.
type HealthDetail struct {
	Status string     `json:"status"` // "healthy" or "degraded"
	DB     string     `json:"db"`     // "up" or "down"
	Cache  string     `json:"cache"`  // "up", "down", or "disabled"
	Memory MemoryInfo `json:"memory"`
	Uptime string     `json:"uptime"`
}
