package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/magpielabs/magpie/models"
)

const testUserAgent = "MagpieBot/test"

func newTestStatic(timeout time.Duration) *StaticScraper {
	return NewStaticScraper(NewHTTPEngine(testUserAgent), timeout)
}

func TestStaticScrapeExtractsAndResolvesMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html>
<html><head><title>City Guide</title></head><body>
<img src="/images/skyline.jpg" alt="Skyline at dusk">
<img src="thumbs/market.png">
<video src="https://cdn.example.com/tour.mp4"></video>
</body></html>`)
	}))
	defer srv.Close()

	res := newTestStatic(5 * time.Second).Scrape(context.Background(), srv.URL+"/guide/")
	if !res.Success {
		t.Fatalf("Scrape failed: %s", res.Error)
	}
	if res.ScraperUsed != models.ScraperStatic {
		t.Errorf("ScraperUsed = %q, want %q", res.ScraperUsed, models.ScraperStatic)
	}
	if len(res.Media) != 3 {
		t.Fatalf("expected 3 media items, got %d: %+v", len(res.Media), res.Media)
	}

	wantFirst := srv.URL + "/images/skyline.jpg"
	if res.Media[0].URL != wantFirst {
		t.Errorf("media[0].URL = %q, want %q", res.Media[0].URL, wantFirst)
	}
	if res.Media[0].Title != "Skyline at dusk" {
		t.Errorf("media[0].Title = %q, want alt text", res.Media[0].Title)
	}

	wantSecond := srv.URL + "/guide/thumbs/market.png"
	if res.Media[1].URL != wantSecond {
		t.Errorf("media[1].URL = %q, want %q", res.Media[1].URL, wantSecond)
	}
	if res.Media[1].Title != "City Guide" {
		t.Errorf("media[1].Title = %q, want page title fallback", res.Media[1].Title)
	}

	if res.Media[2].Type != models.MediaVideo {
		t.Errorf("media[2].Type = %q, want %q", res.Media[2].Type, models.MediaVideo)
	}
}

func TestStaticScrapeSendsConfiguredUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body></body></html>")
	}))
	defer srv.Close()

	res := newTestStatic(5 * time.Second).Scrape(context.Background(), srv.URL)
	if !res.Success {
		t.Fatalf("Scrape failed: %s", res.Error)
	}
	if gotUA != testUserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, testUserAgent)
	}
}

func TestStaticScrapeRejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"media": []}`)
	}))
	defer srv.Close()

	res := newTestStatic(5 * time.Second).Scrape(context.Background(), srv.URL)
	if res.Success {
		t.Fatal("expected failure for JSON response")
	}
	if !strings.Contains(res.Error, "non-html") {
		t.Errorf("error = %q, want mention of non-html content", res.Error)
	}
	if len(res.Media) != 0 {
		t.Errorf("failed scrape reported %d media items", len(res.Media))
	}
}

func TestStaticScrapeRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "<html><body>down for maintenance</body></html>")
	}))
	defer srv.Close()

	res := newTestStatic(5 * time.Second).Scrape(context.Background(), srv.URL)
	if res.Success {
		t.Fatal("expected failure for 503 response")
	}
	if !strings.Contains(res.Error, "503") {
		t.Errorf("error = %q, want the status code in the message", res.Error)
	}
}

func TestStaticScrapeFollowsRedirectsAndResolvesAgainstFinalURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/hop", http.StatusFound)
	})
	mux.HandleFunc("/hop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/galleries/rome/", http.StatusFound)
	})
	mux.HandleFunc("/galleries/rome/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><img src="colosseum.jpg"></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := newTestStatic(5 * time.Second).Scrape(context.Background(), srv.URL+"/start")
	if !res.Success {
		t.Fatalf("Scrape failed: %s", res.Error)
	}
	want := srv.URL + "/galleries/rome/colosseum.jpg"
	if len(res.Media) != 1 || res.Media[0].URL != want {
		t.Errorf("media = %+v, want single item %q", res.Media, want)
	}
}

func TestStaticScrapeStopsRunawayRedirects(t *testing.T) {
	mux := http.NewServeMux()
	for i := 0; i < 8; i++ {
		next := fmt.Sprintf("/r%d", i+1)
		mux.HandleFunc(fmt.Sprintf("/r%d", i), func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, next, http.StatusFound)
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := newTestStatic(5 * time.Second).Scrape(context.Background(), srv.URL+"/r0")
	if res.Success {
		t.Fatal("expected failure for a redirect chain longer than the cap")
	}
	if !strings.Contains(res.Error, "redirects") {
		t.Errorf("error = %q, want mention of the redirect cap", res.Error)
	}
}

func TestStaticScrapeHonorsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	start := time.Now()
	res := newTestStatic(100 * time.Millisecond).Scrape(context.Background(), srv.URL)
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("scrape took %v, deadline was not enforced", elapsed)
	}
}

func TestIsHTMLContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"text/html", true},
		{"text/html; charset=utf-8", true},
		{"application/xhtml+xml", true},
		{"TEXT/HTML", true},
		{"application/json", false},
		{"image/png", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isHTMLContentType(tt.ct); got != tt.want {
			t.Errorf("isHTMLContentType(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"simple", "<html><head><title>Hello</title></head></html>", "Hello"},
		{"whitespace trimmed", "<title>\n  Padded \t</title>", "Padded"},
		{"missing", "<html><body><h1>No title</h1></body></html>", ""},
		{"empty element", "<title></title>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractTitle(tt.html); got != tt.want {
				t.Errorf("extractTitle = %q, want %q", got, tt.want)
			}
		})
	}
}
