package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/magpielabs/magpie/cache"
	"github.com/magpielabs/magpie/models"
	"github.com/magpielabs/magpie/store"
)

// MediaReader is the slice of the store the media endpoints need.
type MediaReader interface {
	ListMedia(ctx context.Context, f store.MediaFilter, page, limit int) ([]models.Media, int64, error)
	MediaStats(ctx context.Context) (*models.MediaStats, error)
	GetMedia(ctx context.Context, id int64) (*models.MediaDetail, error)
}

// mediaPage is the cached shape of one media listing page; items and total
// are stored together so a hit never mixes counts from different moments.
type mediaPage struct {
	Items []models.Media `json:"items"`
	Total int64          `json:"total"`
}

// ListMedia handles GET /api/media with type/search filters. Pages are
// cached per exact query; the pipeline invalidates media:* after every
// successful persist.
func ListMedia(st MediaReader, cc *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, limit, valid := parsePagination(c)
		if !valid {
			return
		}
		mediaType := c.Query("type")
		if mediaType != "" && mediaType != string(models.MediaImage) && mediaType != string(models.MediaVideo) {
			failInvalid(c, "type must be image or video")
			return
		}
		search := c.Query("search")

		key := cache.MediaListKey(page, limit, mediaType, search)
		result, err := cache.GetOrSet(c.Request.Context(), cc, key, ttl,
			func(ctx context.Context) (mediaPage, error) {
				items, total, err := st.ListMedia(ctx, store.MediaFilter{Type: mediaType, Search: search}, page, limit)
				if err != nil {
					return mediaPage{}, err
				}
				return mediaPage{Items: items, Total: total}, nil
			})
		if err != nil {
			fail(c, err)
			return
		}
		okPage(c, result.Items, models.NewPagination(result.Total, page, limit))
	}
}

// MediaStats handles GET /api/media/stats.
func MediaStats(st MediaReader, cc *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := cache.GetOrSet(c.Request.Context(), cc, cache.KeyMediaStats, ttl,
			func(ctx context.Context) (*models.MediaStats, error) {
				return st.MediaStats(ctx)
			})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, stats)
	}
}

// GetMedia handles GET /api/media/:id, including the owning job summary.
func GetMedia(st MediaReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := idParam(c)
		if !valid {
			return
		}
		media, err := st.GetMedia(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, media)
	}
}
