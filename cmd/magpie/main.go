package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/magpielabs/magpie/api"
	"github.com/magpielabs/magpie/cache"
	"github.com/magpielabs/magpie/config"
	"github.com/magpielabs/magpie/engine"
	"github.com/magpielabs/magpie/pipeline"
	"github.com/magpielabs/magpie/queue"
	"github.com/magpielabs/magpie/store"
	"github.com/magpielabs/magpie/webhook"
)

// handlerGrace is added to the scrape timeout to form the hard per-item
// deadline the queue enforces on handlers.
const handlerGrace = 5 * time.Second

// forceExitAfter bounds the entire shutdown sequence once a signal arrives.
const forceExitAfter = 10 * time.Second

// app owns the process-wide components. Construction order in main is
// startup order; close tears them down in reverse.
type app struct {
	store   *store.Store
	rdb     *redis.Client
	browser *engine.BrowserScraper
	queue   *queue.Queue
	monitor *pipeline.Monitor
}

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("magpie starting",
		"port", cfg.Server.Port,
		"concurrency", cfg.Scraper.Concurrency,
		"scrapeTimeout", cfg.Scraper.Timeout,
		"maxUrlsPerRequest", cfg.Scraper.MaxURLsPerRequest,
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	// ── 3. Connect Postgres, apply schema, seed the login user ──────
	st, err := store.New(startCtx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if err := st.EnsureSchema(startCtx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	if err := seedUser(startCtx, st, cfg.Auth); err != nil {
		slog.Error("failed to seed login user", "error", err)
		os.Exit(1)
	}

	// ── 4. Connect Redis: queue backbone plus best-effort cache ─────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	cc := cache.New(rdb)
	if err := rdb.Ping(startCtx).Err(); err != nil {
		// The queue reconnects through the same client once Redis is
		// back; only the cache is declared dead up front.
		slog.Warn("redis unreachable at startup, caching disabled",
			"addr", cfg.Redis.Addr(),
			"error", err,
		)
		cc = cache.New(nil)
	}

	// ── 5. Build the extraction paths ────────────────────────────────
	httpEngine := engine.NewHTTPEngine(cfg.Scraper.UserAgent)
	static := engine.NewStaticScraper(httpEngine, cfg.Scraper.Timeout)
	browser := engine.NewBrowserScraper(cfg.Scraper, cfg.Monitor.HeapLowMB)
	router := engine.NewRouter(static, browser, cfg.Scraper.MinStaticMedia)

	// ── 6. Queue, pipeline controller, workers ───────────────────────
	q := queue.New(rdb, "scrape", cfg.Queue, cfg.Scraper.Timeout+handlerGrace)

	var notifier pipeline.Notifier
	if wh := webhook.New(cfg.Webhook); wh != nil {
		notifier = wh
		slog.Info("webhook notifications enabled", "url", cfg.Webhook.URL)
	}

	ctrl := pipeline.NewController(st, cc, router, q, notifier, cfg)
	q.Events = queue.Events{
		OnActive:    ctrl.OnItemActive,
		OnCompleted: ctrl.OnItemCompleted,
		OnFailed:    ctrl.OnItemFailed,
		OnStalled:   ctrl.OnItemStalled,
		OnError:     ctrl.OnQueueError,
	}
	q.Start(cfg.Scraper.Concurrency, ctrl.HandleItem)

	// ── 7. Resource monitors (CPU backpressure, heap watchdog) ──────
	mon := pipeline.NewMonitor(q, cfg.Monitor)
	mon.Start()

	a := &app{store: st, rdb: rdb, browser: browser, queue: q, monitor: mon}

	// ── 8. HTTP server ───────────────────────────────────────────────
	startTime := time.Now()
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(st, q, ctrl, cc, cfg, startTime),
	}
	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 9. Graceful shutdown ─────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Past this point the process exits no matter what wedges.
	force := time.AfterFunc(forceExitAfter, func() {
		slog.Error("shutdown stalled, forcing exit", "after", forceExitAfter)
		os.Exit(1)
	})
	defer force.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	a.close()
	slog.Info("magpie stopped")
}

// close tears the components down in reverse construction order: stop
// taking work, drain the workers, then drop the connections under them.
func (a *app) close() {
	a.queue.Close()
	a.monitor.Stop()
	a.browser.Close()
	if err := a.rdb.Close(); err != nil {
		slog.Warn("redis close failed", "error", err)
	}
	a.store.Close()
}

// seedUser makes sure the configured Basic-Auth identity can use the login
// endpoint. Existing rows are never overwritten.
func seedUser(ctx context.Context, st *store.Store, auth config.AuthConfig) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(auth.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return st.EnsureSeedUser(ctx, auth.Username, string(hash))
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
