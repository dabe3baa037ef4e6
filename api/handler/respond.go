// Package handler contains the HTTP handlers. Each constructor takes the
// narrow interface it needs so handlers stay testable against fakes.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/magpielabs/magpie/api/middleware"
	"github.com/magpielabs/magpie/models"
)

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, models.Response{Success: true, Data: data})
}

func okPage(c *gin.Context, data any, p *models.Pagination) {
	c.JSON(http.StatusOK, models.Response{Success: true, Data: data, Pagination: p})
}

func okMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, models.Response{Success: true, Message: message})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, models.Response{Success: true, Data: data})
}

// fail records err for the error middleware and stops the chain; nothing is
// written here so the middleware stays the single translation point.
func fail(c *gin.Context, err error) {
	c.Error(err)
	c.Abort()
}

func failInvalid(c *gin.Context, message string) {
	fail(c, models.NewScrapeError(models.ErrCodeInvalidInput, message, nil))
}

// parsePagination reads ?page and ?limit with the API bounds
// (page >= 1, 1 <= limit <= 100). On a violation it records the 400 and
// reports valid=false.
func parsePagination(c *gin.Context) (page, limit int, valid bool) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		failInvalid(c, "page must be a positive integer")
		return 0, 0, false
	}
	limit, err = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		failInvalid(c, "limit must be between 1 and 100")
		return 0, 0, false
	}
	return page, limit, true
}

// idParam parses the :id path segment as a positive integer.
func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		failInvalid(c, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func currentUsername(c *gin.Context) string {
	return c.GetString(middleware.ContextUsername)
}
