package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration. It is parsed from the
// environment once at startup and passed by reference.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Scraper   ScraperConfig
	Queue     QueueConfig
	Monitor   MonitorConfig
	CacheTTL  CacheTTLConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port int    // default: 3001
	Mode string // gin mode: "debug", "release", "test"; default: "release"
}

// DatabaseConfig controls the Postgres connection pool.
type DatabaseConfig struct {
	// URL is the Postgres connection string. Required.
	URL string

	// MaxConns bounds the pool; kept small to fit the memory budget.
	MaxConns int32 // default: 5
}

// RedisConfig controls the Redis connection shared by queue and cache.
type RedisConfig struct {
	Host     string // default: "localhost"
	Port     int    // default: 6379
	Password string
	DB       int
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AuthConfig holds the Basic-Auth credentials. The same pair is seeded
// into the users table (bcrypt) for the login endpoint.
type AuthConfig struct {
	Username string // default: "admin"
	Password string // default: "admin123"
}

// ScraperConfig controls scraping behavior for both extraction paths.
type ScraperConfig struct {
	// Concurrency is the number of queue workers (concurrent handlers).
	Concurrency int // default: 3

	// Timeout is the per-URL scrape deadline. The queue enforces
	// Timeout+5s as the hard per-item deadline.
	Timeout time.Duration // default: 30s (SCRAPER_TIMEOUT, milliseconds)

	// MaxURLsPerRequest caps the batch size of one submission.
	MaxURLsPerRequest int // default: 100

	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// DisableImages enables request interception on the renderer; only
	// stylesheet and font requests are aborted (never images — the
	// extractor reads the DOM's <img> elements).
	DisableImages bool // default: true

	// Stealth injects bot-evasion JS into rendered pages.
	Stealth bool // default: false

	// UserAgent identifies the scraper on static fetches.
	UserAgent string

	// MaxPagesPerBrowser restarts the browser after this many pages
	// to bound memory drift.
	MaxPagesPerBrowser int // default: 10

	// MinStaticMedia is the static-result threshold below which the
	// router falls back to the renderer.
	MinStaticMedia int // default: 3
}

// QueueConfig controls the Redis-backed job queue.
type QueueConfig struct {
	// AttemptsMax is the total number of processing attempts per item.
	AttemptsMax int // default: 2

	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration // default: 2s

	// BackoffCap bounds the exponential backoff.
	BackoffCap time.Duration // default: 60s

	// LeaseDuration is the worker's claim on an item; lapses republish it.
	LeaseDuration time.Duration // default: 60s

	// MaxStalled is how many lease lapses an item survives before it is
	// forcibly failed.
	MaxStalled int // default: 2

	// KeepCompleted / KeepFailed bound the retention sets.
	KeepCompleted int // default: 50
	KeepFailed    int // default: 100

	// PollInterval is the idle worker's wait between lease attempts.
	PollInterval time.Duration // default: 500ms

	// StalledInterval is how often lapsed leases are swept.
	StalledInterval time.Duration // default: 30s

	// DrainTimeout bounds the in-flight drain during shutdown.
	DrainTimeout time.Duration // default: 10s
}

// MonitorConfig controls the CPU/memory backpressure loops.
type MonitorConfig struct {
	CPUInterval time.Duration // default: 5s
	CPUHigh     float64       // pause above this busy %; default: 70
	CPULow      float64       // resume below this busy %; default: 40
	MinPause    time.Duration // floor before a cpu-resume; default: 10s

	MemInterval time.Duration // default: 30s
	HeapWarnMB  uint64        // warn + GC hint above this; default: 500
	HeapLowMB   uint64        // pre-scrape GC hint level; default: 350
	HeapHighMB  uint64        // post-persist GC hint level; default: 400
}

// CacheTTLConfig holds the TTLs for each cache key family.
type CacheTTLConfig struct {
	URL        time.Duration // default: 1h
	MediaList  time.Duration // default: 60s
	MediaStats time.Duration // default: 30s
	QueueStats time.Duration // default: 5s
}

// RateLimitConfig controls per-identity API rate limiting.
// RequestsPerSecond <= 0 disables the middleware.
type RateLimitConfig struct {
	RequestsPerSecond float64 // default: 0 (disabled)
	Burst             int     // default: 20
}

// WebhookConfig controls job-completion notifications.
// An empty URL disables delivery.
type WebhookConfig struct {
	URL    string
	Secret string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
// It fails when DATABASE_URL is missing.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envIntOr("PORT", 3001),
			Mode: envOr("GIN_MODE", "release"),
		},
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			MaxConns: int32(envIntOr("DATABASE_MAX_CONNS", 5)),
		},
		Redis: RedisConfig{
			Host:     envOr("REDIS_HOST", "localhost"),
			Port:     envIntOr("REDIS_PORT", 6379),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envIntOr("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			Username: envOr("BASIC_AUTH_USERNAME", "admin"),
			Password: envOr("BASIC_AUTH_PASSWORD", "admin123"),
		},
		Scraper: ScraperConfig{
			Concurrency:       envIntOr("SCRAPER_CONCURRENCY", 3),
			Timeout:           time.Duration(envIntOr("SCRAPER_TIMEOUT", 30000)) * time.Millisecond,
			MaxURLsPerRequest: envIntOr("MAX_URLS_PER_REQUEST", 100),
			Headless:          envBoolOr("PUPPETEER_HEADLESS", true),
			DisableImages:     envBoolOr("PUPPETEER_DISABLE_IMAGES", true),
			Stealth:           envBoolOr("SCRAPER_STEALTH", false),
			UserAgent: envOr("SCRAPER_USER_AGENT",
				"MagpieBot/1.0 (+https://github.com/magpielabs/magpie)"),
			MaxPagesPerBrowser: envIntOr("BROWSER_MAX_PAGES", 10),
			MinStaticMedia:     envIntOr("SCRAPER_MIN_STATIC_MEDIA", 3),
		},
		Queue: QueueConfig{
			AttemptsMax:     envIntOr("QUEUE_ATTEMPTS_MAX", 2),
			BackoffBase:     envDurationOr("QUEUE_BACKOFF_BASE", 2*time.Second),
			BackoffCap:      envDurationOr("QUEUE_BACKOFF_CAP", 60*time.Second),
			LeaseDuration:   envDurationOr("QUEUE_LEASE", 60*time.Second),
			MaxStalled:      envIntOr("QUEUE_MAX_STALLED", 2),
			KeepCompleted:   envIntOr("QUEUE_KEEP_COMPLETED", 50),
			KeepFailed:      envIntOr("QUEUE_KEEP_FAILED", 100),
			PollInterval:    envDurationOr("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
			StalledInterval: envDurationOr("QUEUE_STALLED_INTERVAL", 30*time.Second),
			DrainTimeout:    envDurationOr("QUEUE_DRAIN_TIMEOUT", 10*time.Second),
		},
		Monitor: MonitorConfig{
			CPUInterval: envDurationOr("MONITOR_CPU_INTERVAL", 5*time.Second),
			CPUHigh:     envFloatOr("MONITOR_CPU_HIGH", 70),
			CPULow:      envFloatOr("MONITOR_CPU_LOW", 40),
			MinPause:    envDurationOr("MONITOR_MIN_PAUSE", 10*time.Second),
			MemInterval: envDurationOr("MONITOR_MEM_INTERVAL", 30*time.Second),
			HeapWarnMB:  uint64(envIntOr("MONITOR_HEAP_WARN_MB", 500)),
			HeapLowMB:   uint64(envIntOr("MONITOR_HEAP_LOW_MB", 350)),
			HeapHighMB:  uint64(envIntOr("MONITOR_HEAP_HIGH_MB", 400)),
		},
		CacheTTL: CacheTTLConfig{
			URL:        envDurationOr("CACHE_URL_TTL", time.Hour),
			MediaList:  envDurationOr("CACHE_MEDIA_LIST_TTL", 60*time.Second),
			MediaStats: envDurationOr("CACHE_MEDIA_STATS_TTL", 30*time.Second),
			QueueStats: envDurationOr("CACHE_QUEUE_STATS_TTL", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("RATE_LIMIT_RPS", 0),
			Burst:             envIntOr("RATE_LIMIT_BURST", 20),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("WEBHOOK_URL"),
			Secret: os.Getenv("WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "json"),
		},
	}

	if cfg.Database.URL == "" {
		return nil, errors.New("config: DATABASE_URL is required")
	}
	if cfg.Scraper.Concurrency < 1 {
		return nil, fmt.Errorf("config: SCRAPER_CONCURRENCY must be >= 1, got %d", cfg.Scraper.Concurrency)
	}
	if cfg.Scraper.MaxURLsPerRequest < 1 {
		return nil, fmt.Errorf("config: MAX_URLS_PER_REQUEST must be >= 1, got %d", cfg.Scraper.MaxURLsPerRequest)
	}
	return cfg, nil
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
