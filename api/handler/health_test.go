package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/magpielabs/magpie/cache"
	"github.com/magpielabs/magpie/models"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		db         fakePinger
		wantStatus int
	}{
		{"database up", fakePinger{}, http.StatusOK},
		{"database down", fakePinger{err: errors.New("dial tcp: refused")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRouter(func(r *gin.Engine) {
				r.GET("/health", Health(tt.db))
			})
			status, env := doRequest(t, r, http.MethodGet, "/health", nil)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", status, tt.wantStatus)
			}
			if env.Success != (tt.wantStatus == http.StatusOK) {
				t.Errorf("success = %v", env.Success)
			}
		})
	}
}

func TestHealthDetailed(t *testing.T) {
	start := time.Now().Add(-90 * time.Second)
	r := testRouter(func(r *gin.Engine) {
		r.GET("/health/detailed", HealthDetailed(fakePinger{}, cache.New(nil), start))
	})

	status, env := doRequest(t, r, http.MethodGet, "/health/detailed", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}

	var detail models.HealthDetail
	decodeData(t, env, &detail)
	if detail.Status != "healthy" || detail.DB != "up" {
		t.Errorf("detail = %+v, want healthy/up", detail)
	}
	if detail.Cache != "disabled" {
		t.Errorf("cache = %q, want disabled (nil client)", detail.Cache)
	}
	if detail.Uptime == "" {
		t.Error("uptime missing")
	}
}

func TestHealthDetailedDatabaseDown(t *testing.T) {
	r := testRouter(func(r *gin.Engine) {
		r.GET("/health/detailed", HealthDetailed(fakePinger{err: errors.New("refused")}, cache.New(nil), time.Now()))
	})

	status, env := doRequest(t, r, http.MethodGet, "/health/detailed", nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", status)
	}
	var detail models.HealthDetail
	decodeData(t, env, &detail)
	if detail.Status != "unhealthy" || detail.DB != "down" {
		t.Errorf("detail = %+v, want unhealthy/down", detail)
	}
}
