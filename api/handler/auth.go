package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/magpielabs/magpie/models"
	"github.com/magpielabs/magpie/store"
)

// UserSource is the slice of the store the auth handlers need.
type UserSource interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Login verifies a username/password pair against the users table.
// POST /api/auth/login
func Login(users UserSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			failInvalid(c, "username and password are required")
			return
		}

		user, err := users.GetUserByUsername(c.Request.Context(), req.Username)
		if errors.Is(err, store.ErrNotFound) {
			// Same answer as a bad password, so probes cannot tell which
			// half was wrong.
			fail(c, models.NewScrapeError(models.ErrCodeUnauthorized, "invalid credentials", nil))
			return
		}
		if err != nil {
			fail(c, err)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
			fail(c, models.NewScrapeError(models.ErrCodeUnauthorized, "invalid credentials", nil))
			return
		}

		ok(c, user)
	}
}

// Me returns the user row for the authenticated username.
// GET /api/auth/me
func Me(users UserSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := users.GetUserByUsername(c.Request.Context(), currentUsername(c))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, user)
	}
}
