// Package api assembles the gin engine: middleware chain, route table, and
// the wiring between handlers and the pipeline.
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/magpielabs/magpie/api/handler"
	"github.com/magpielabs/magpie/api/middleware"
	"github.com/magpielabs/magpie/cache"
	"github.com/magpielabs/magpie/config"
	"github.com/magpielabs/magpie/pipeline"
	"github.com/magpielabs/magpie/queue"
	"github.com/magpielabs/magpie/store"
)

// NewRouter creates a configured gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → AccessLog → Errors
//	/api:    BasicAuth → RateLimit
//
// Health endpoints are intentionally outside auth so monitoring probes
// always work.
func NewRouter(st *store.Store, q *queue.Queue, ctrl *pipeline.Controller, cc *cache.Cache, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.AccessLog())
	r.Use(middleware.Errors(cfg.Server.Mode))

	r.GET("/health", handler.Health(st))
	r.GET("/health/detailed", handler.HealthDetailed(st, cc, startTime))

	api := r.Group("/api")
	api.Use(middleware.BasicAuth(cfg.Auth))
	api.Use(middleware.RateLimit(cfg.RateLimit))

	api.POST("/auth/login", handler.Login(st))
	api.GET("/auth/me", handler.Me(st))

	api.POST("/scrape", handler.Submit(ctrl, st, cfg.Scraper.MaxURLsPerRequest))
	api.GET("/scrape/queue/stats", handler.QueueStats(q, cc, cfg.CacheTTL.QueueStats))
	api.POST("/scrape/queue/pause", handler.QueuePause(q))
	api.POST("/scrape/queue/resume", handler.QueueResume(q))
	api.GET("/scrape/queue/dlq", handler.QueueDeadLetters(q))

	api.GET("/jobs", handler.ListJobs(st))
	api.GET("/jobs/:id", handler.GetJob(st))

	api.GET("/media", handler.ListMedia(st, cc, cfg.CacheTTL.MediaList))
	api.GET("/media/stats", handler.MediaStats(st, cc, cfg.CacheTTL.MediaStats))
	api.GET("/media/:id", handler.GetMedia(st))

	return r
}
