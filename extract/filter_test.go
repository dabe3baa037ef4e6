package extract

import (
	"net/url"
	"testing"

	"github.com/magpielabs/magpie/models"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		base string
		ref  string
		want string
	}{
		{"https://x.com/p", "/a.jpg", "https://x.com/a.jpg"},
		{"https://x.com/p/", "a.jpg", "https://x.com/p/a.jpg"},
		{"https://x.com/p", "//y.com/a.jpg", "https://y.com/a.jpg"},
		{"http://x.com/p", "//y.com/a.jpg", "http://y.com/a.jpg"},
		{"https://x.com/p", "https://z/a.jpg", "https://z/a.jpg"},
		{"https://x.com/deep/path/page.html", "../img/a.jpg", "https://x.com/deep/img/a.jpg"},
	}
	for _, tt := range tests {
		base, err := url.Parse(tt.base)
		if err != nil {
			t.Fatalf("bad base %q: %v", tt.base, err)
		}
		resolved, ok := Resolve(base, tt.ref)
		if !ok {
			t.Errorf("Resolve(%q, %q) failed, want %q", tt.base, tt.ref, tt.want)
			continue
		}
		if got := resolved.String(); got != tt.want {
			t.Errorf("Resolve(%q, %q) = %q, want %q", tt.base, tt.ref, got, tt.want)
		}
	}

	base, _ := url.Parse("https://x.com/p")
	if _, ok := Resolve(base, ""); ok {
		t.Error("Resolve with empty ref should fail")
	}
	if _, ok := Resolve(base, "http://bad url with spaces"); ok {
		t.Error("Resolve with unparseable ref should fail")
	}
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/a.jpg", true},
		{"http://example.com/a.jpg", true},
		{"data:image/gif;base64,R0lGODlhAQABAAAAACw=", false},
		{"ftp://example.com/a.jpg", false},
		{"javascript:alert(1)", false},
		{"https://www.google-analytics.com/collect", false},
		{"https://ad.doubleclick.net/ddm/trackimp", false},
		{"https://www.facebook.com/tr?id=123", false},
		{"https://example.com/img/1x1.gif", false},
		{"https://example.com/tracking-pixel.png", false},
		{"https://example.com/Pixel/beacon.gif", false},
		{"https://example.com/photos/cat.jpg", true},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.url)
		if err != nil {
			t.Fatalf("bad test url %q: %v", tt.url, err)
		}
		if got := Allowed(u); got != tt.want {
			t.Errorf("Allowed(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestNormalizeFiltersAndResolves(t *testing.T) {
	cands := []Candidate{
		{URL: "/a.jpg", Type: models.MediaImage, Title: "a"},
		{URL: "data:image/png;base64,xyz", Type: models.MediaImage},
		{URL: "https://www.google-analytics.com/collect?x=1", Type: models.MediaImage},
		{URL: "/img/1x1.gif", Type: models.MediaImage},
		{URL: "//cdn.y.com/b.mp4", Type: models.MediaVideo, Title: "b"},
		{URL: "/a.jpg", Type: models.MediaImage, Title: "dup"},
	}

	items := Normalize("https://x.com/page", cands)
	if len(items) != 2 {
		t.Fatalf("Normalize returned %d items, want 2: %+v", len(items), items)
	}
	if items[0].URL != "https://x.com/a.jpg" || items[0].Title != "a" {
		t.Errorf("items[0] = %+v, want first /a.jpg occurrence", items[0])
	}
	if items[1].URL != "https://cdn.y.com/b.mp4" || items[1].Type != models.MediaVideo {
		t.Errorf("items[1] = %+v, want protocol-relative video resolved on https", items[1])
	}
}

func TestNormalizeBadPageURL(t *testing.T) {
	items := Normalize("://not-a-url", []Candidate{{URL: "/a.jpg", Type: models.MediaImage}})
	if len(items) != 0 {
		t.Errorf("Normalize with bad page URL = %+v, want empty", items)
	}
}
