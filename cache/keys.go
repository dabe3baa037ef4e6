package cache

import (
	"encoding/base64"
	"fmt"
)

// Fixed keys and patterns shared by the pipeline and the API layer.
const (
	KeyMediaStats = "stats:media"
	KeyQueueStats = "queue:stats"

	// PatternMedia matches every media list page; invalidated after each
	// successful persist.
	PatternMedia = "media:*"
)

// URLKey builds the per-page extraction cache key. The URL is base64url
// encoded (unpadded) and truncated to 100 characters to bound key size.
func URLKey(pageURL string) string {
	enc := base64.RawURLEncoding.EncodeToString([]byte(pageURL))
	if len(enc) > 100 {
		enc = enc[:100]
	}
	return "url:" + enc
}

// MediaListKey builds the key for one page of the media listing.
// An empty mediaType is stored as "all"; the search term is kept verbatim
// (empty search → trailing empty segment).
func MediaListKey(page, limit int, mediaType, search string) string {
	if mediaType == "" {
		mediaType = "all"
	}
	return fmt.Sprintf("media:list:%d:%d:%s:%s", page, limit, mediaType, search)
}
