package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/magpielabs/magpie/cache"
	"github.com/magpielabs/magpie/models"
)

// Pinger reports whether a backing service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

const healthTimeout = 2 * time.Second

// Health handles GET /health: 200 while the relational store answers, 503
// otherwise. Mounted outside auth so probes always work.
func Health(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, models.Response{
				Success: false,
				Error:   models.ErrCodeUnavailable,
				Message: "database unreachable",
			})
			return
		}
		ok(c, gin.H{"status": "healthy"})
	}
}

// HealthDetailed handles GET /health/detailed with per-component state.
// The database decides up/down; a dead cache only degrades, the pipeline
// runs without it.
func HealthDetailed(db Pinger, kv *cache.Cache, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		detail := models.HealthDetail{
			Status: "healthy",
			DB:     "up",
			Cache:  "up",
			Uptime: time.Since(startTime).Round(time.Second).String(),
		}
		status := http.StatusOK

		if err := db.Ping(ctx); err != nil {
			detail.Status, detail.DB = "unhealthy", "down"
			status = http.StatusServiceUnavailable
		}

		switch {
		case !kv.Enabled():
			detail.Cache = "disabled"
		case kv.Ping(ctx) != nil:
			detail.Cache = "down"
			if detail.Status == "healthy" {
				detail.Status = "degraded"
			}
		}

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		detail.Memory = models.MemoryInfo{
			HeapMB:   ms.HeapAlloc >> 20,
			SysMB:    ms.Sys >> 20,
			NumGC:    ms.NumGC,
			Routines: runtime.NumGoroutine(),
		}

		c.JSON(status, models.Response{Success: status == http.StatusOK, Data: detail})
	}
}
