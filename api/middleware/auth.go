package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/magpielabs/magpie/config"
	"github.com/magpielabs/magpie/models"
)

// ContextUsername is the context key under which BasicAuth stores the
// authenticated username.
const ContextUsername = "username"

// BasicAuth enforces HTTP Basic credentials on the group it is mounted on.
// Both halves are compared in constant time so a probe cannot tell a wrong
// username from a wrong password.
func BasicAuth(cfg config.AuthConfig) gin.HandlerFunc {
	wantUser := []byte(cfg.Username)
	wantPass := []byte(cfg.Password)

	return func(c *gin.Context) {
		user, pass, ok := c.Request.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), wantUser) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), wantPass) == 1
		if !ok || !userOK || !passOK {
			c.Header("WWW-Authenticate", `Basic realm="restricted"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.Response{
				Success: false,
				Error:   models.ErrCodeUnauthorized,
				Message: "missing or invalid credentials",
			})
			return
		}

		c.Set(ContextUsername, user)
		c.Next()
	}
}
