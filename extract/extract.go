// Package extract collects media references (images, videos) from page HTML.
// Both scrape paths feed through it: the static path parses fetched markup
// here, and the renderer's in-page candidates go through the same
// resolve/filter/dedup rules so the two paths always agree on what counts.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/magpielabs/magpie/models"
)

// Candidate is a raw asset reference before resolution and filtering.
type Candidate struct {
	URL   string
	Type  models.MediaType
	Title string
}

// FromHTML parses raw HTML and returns the page's filtered, de-duplicated
// media list. A parse failure is an error; a page without media is not.
func FromHTML(rawHTML, pageURL string) ([]models.MediaItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}
	return Normalize(pageURL, Candidates(doc)), nil
}

// Candidates walks the document and collects every raw asset reference:
// <img> (src, data-src fallback, every srcset entry), <video> (src plus
// descendant <source>), and og:image / og:video meta tags.
func Candidates(doc *goquery.Document) []Candidate {
	pageTitle := strings.TrimSpace(doc.Find("title").First().Text())

	titleOr := func(alt string) string {
		if alt = strings.TrimSpace(alt); alt != "" {
			return alt
		}
		return pageTitle
	}

	var out []Candidate

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		title := titleOr(s.AttrOr("alt", ""))

		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			// Lazy-loading pattern: the real URL sits in data-src.
			src = strings.TrimSpace(s.AttrOr("data-src", ""))
		}
		if src != "" {
			out = append(out, Candidate{URL: src, Type: models.MediaImage, Title: title})
		}

		for _, u := range SrcsetURLs(s.AttrOr("srcset", "")) {
			out = append(out, Candidate{URL: u, Type: models.MediaImage, Title: title})
		}
	})

	doc.Find("video").Each(func(_ int, s *goquery.Selection) {
		if src := strings.TrimSpace(s.AttrOr("src", "")); src != "" {
			out = append(out, Candidate{URL: src, Type: models.MediaVideo, Title: pageTitle})
		}
		s.Find("source").Each(func(_ int, src *goquery.Selection) {
			if u := strings.TrimSpace(src.AttrOr("src", "")); u != "" {
				out = append(out, Candidate{URL: u, Type: models.MediaVideo, Title: pageTitle})
			}
		})
	})

	doc.Find("meta[property]").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		switch s.AttrOr("property", "") {
		case "og:image":
			out = append(out, Candidate{URL: content, Type: models.MediaImage, Title: pageTitle})
		case "og:video":
			out = append(out, Candidate{URL: content, Type: models.MediaVideo, Title: pageTitle})
		}
	})

	return out
}

// SrcsetURLs returns the URL of every srcset entry: comma-split, first
// whitespace-delimited token. Width/density descriptors are dropped.
func SrcsetURLs(srcset string) []string {
	if strings.TrimSpace(srcset) == "" {
		return nil
	}
	var urls []string
	for _, entry := range strings.Split(srcset, ",") {
		if fields := strings.Fields(entry); len(fields) > 0 {
			urls = append(urls, fields[0])
		}
	}
	return urls
}
