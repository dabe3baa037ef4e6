package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/magpielabs/magpie/models"
)

func TestLogin(t *testing.T) {
	tests := []struct {
		name        string
		body        any
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{
			name:       "valid credentials",
			body:       models.LoginRequest{Username: "admin", Password: "hunter2"},
			wantStatus: http.StatusOK,
		},
		{
			name:        "wrong password",
			body:        models.LoginRequest{Username: "admin", Password: "nope"},
			wantStatus:  http.StatusUnauthorized,
			wantCode:    models.ErrCodeUnauthorized,
			wantMessage: "invalid credentials",
		},
		{
			name:        "unknown user",
			body:        models.LoginRequest{Username: "ghost", Password: "hunter2"},
			wantStatus:  http.StatusUnauthorized,
			wantCode:    models.ErrCodeUnauthorized,
			wantMessage: "invalid credentials",
		},
		{
			name:       "missing password",
			body:       map[string]string{"username": "admin"},
			wantStatus: http.StatusBadRequest,
			wantCode:   models.ErrCodeInvalidInput,
		},
	}

	users := seedUsers(t, "admin", "hunter2")
	r := testRouter(func(r *gin.Engine) {
		r.POST("/api/auth/login", Login(users))
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := doRequest(t, r, http.MethodPost, "/api/auth/login", tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", status, tt.wantStatus)
			}
			if tt.wantCode != "" && env.Error != tt.wantCode {
				t.Errorf("error = %q, want %q", env.Error, tt.wantCode)
			}
			if tt.wantMessage != "" && env.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", env.Message, tt.wantMessage)
			}
		})
	}
}

func TestLoginNeverLeaksPasswordHash(t *testing.T) {
	users := seedUsers(t, "admin", "hunter2")
	r := testRouter(func(r *gin.Engine) {
		r.POST("/api/auth/login", Login(users))
	})

	status, env := doRequest(t, r, http.MethodPost, "/api/auth/login",
		models.LoginRequest{Username: "admin", Password: "hunter2"})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}

	var fields map[string]any
	decodeData(t, env, &fields)
	if _, leaked := fields["password_hash"]; leaked {
		t.Error("password hash leaked into the response")
	}
	if fields["username"] != "admin" {
		t.Errorf("username = %v, want admin", fields["username"])
	}
	if _, hasCreated := fields["createdAt"]; !hasCreated {
		t.Error("createdAt missing from the response")
	}
}

func TestMe(t *testing.T) {
	users := seedUsers(t, "admin", "hunter2")
	r := testRouter(func(r *gin.Engine) {
		r.GET("/api/auth/me", asUser("admin"), Me(users))
	})

	status, env := doRequest(t, r, http.MethodGet, "/api/auth/me", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var user models.User
	decodeData(t, env, &user)
	if user.Username != "admin" || user.ID != 1 {
		t.Errorf("user = %+v, want admin/1", user)
	}
}

func TestMeUnknownRow(t *testing.T) {
	users := &fakeUsers{users: map[string]*models.User{}}
	r := testRouter(func(r *gin.Engine) {
		r.GET("/api/auth/me", asUser("vanished"), Me(users))
	})

	status, env := doRequest(t, r, http.MethodGet, "/api/auth/me", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if env.Error != models.ErrCodeNotFound {
		t.Errorf("error = %q, want %q", env.Error, models.ErrCodeNotFound)
	}
}
