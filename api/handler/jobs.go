package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/magpielabs/magpie/models"
)

// JobReader is the slice of the store the job endpoints need.
type JobReader interface {
	ListJobs(ctx context.Context, page, limit int) ([]models.JobSummary, int64, error)
	GetJobDetail(ctx context.Context, jobID int64) (*models.JobDetail, error)
}

// ListJobs handles GET /api/jobs, newest first.
func ListJobs(st JobReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, limit, valid := parsePagination(c)
		if !valid {
			return
		}
		jobs, total, err := st.ListJobs(c.Request.Context(), page, limit)
		if err != nil {
			fail(c, err)
			return
		}
		okPage(c, jobs, models.NewPagination(total, page, limit))
	}
}

// GetJob handles GET /api/jobs/:id.
func GetJob(st JobReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := idParam(c)
		if !valid {
			return
		}
		job, err := st.GetJobDetail(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, job)
	}
}
