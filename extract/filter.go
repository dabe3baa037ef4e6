package extract

import (
	"net/url"
	"strings"

	"github.com/magpielabs/magpie/models"
)

// blockedFragments rejects tracking endpoints wherever they appear in the
// resolved URL.
var blockedFragments = []string{
	"google-analytics.com",
	"doubleclick.net",
	"facebook.com/tr",
}

// Normalize resolves candidates against the page URL, filters non-web
// schemes and tracking beacons, and de-duplicates by resolved media URL
// preserving first occurrence. An unparseable page URL yields no items.
func Normalize(pageURL string, cands []Candidate) []models.MediaItem {
	base, err := url.Parse(pageURL)
	if err != nil {
		return []models.MediaItem{}
	}

	seen := make(map[string]struct{}, len(cands))
	items := make([]models.MediaItem, 0, len(cands))
	for _, c := range cands {
		resolved, ok := Resolve(base, c.URL)
		if !ok || !Allowed(resolved) {
			continue
		}
		abs := resolved.String()
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		items = append(items, models.MediaItem{URL: abs, Type: c.Type, Title: c.Title})
	}
	return items
}

// Resolve applies RFC 3986 reference resolution: absolute URLs pass through,
// protocol-relative ones inherit the page scheme, relative paths resolve
// against the page URL.
func Resolve(base *url.URL, ref string) (*url.URL, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	resolved, err := base.Parse(ref)
	if err != nil {
		return nil, false
	}
	return resolved, true
}

// Allowed filters a resolved URL: http(s) schemes only (data: URIs and the
// like are rejected), no known tracking hosts, no 1x1/pixel beacon paths.
func Allowed(u *url.URL) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	full := u.String()
	for _, frag := range blockedFragments {
		if strings.Contains(full, frag) {
			return false
		}
	}
	path := strings.ToLower(u.Path)
	if strings.Contains(path, "1x1") || strings.Contains(path, "pixel") {
		return false
	}
	return true
}
