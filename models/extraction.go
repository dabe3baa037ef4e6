package models

// Scraper identifiers recorded on extraction results.
const (
	ScraperStatic  = "static"
	ScraperDynamic = "dynamic"
)

// MediaItem is a single extracted asset reference before persistence.
// It is the unit stored in the URL cache, so its JSON shape is stable.
type MediaItem struct {
	URL   string    `json:"url"`
	Type  MediaType `json:"type"`
	Title string    `json:"title,omitempty"`
}

// ExtractionResult is the outcome of scraping one page URL.
//
// Success is false only when the fetch, render, or parse itself failed;
// a page that simply contains no media is still a success with empty Media.
type ExtractionResult struct {
	URL         string      `json:"url"`
	Success     bool        `json:"success"`
	Media       []MediaItem `json:"media"`
	ScraperUsed string      `json:"scraper_used"`
	Error       string      `json:"error,omitempty"`
}
