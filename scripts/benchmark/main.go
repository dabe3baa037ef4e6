// Command benchmark drives the scrape API: it submits URL batches, polls the
// job until it reaches a terminal status, and reports per-batch timings and
// media yield. Useful for sizing SCRAPER_CONCURRENCY on a target box.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL   = flag.String("api-url", "http://localhost:3001", "Magpie API base URL")
	username = flag.String("username", "admin", "Basic auth username")
	password = flag.String("password", "admin123", "Basic auth password")
	runs     = flag.Int("runs", 3, "Number of runs per batch for averaging")
	pollWait = flag.Duration("poll-wait", 2*time.Second, "Delay between job status polls")
	deadline = flag.Duration("deadline", 5*time.Minute, "Per-run deadline before a run counts as failed")
	output   = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test batches covering common page shapes.
var testBatches = []struct {
	Label string
	URLs  []string
}{
	{"Static", []string{"https://example.com"}},
	{"Blog", []string{"https://go.dev/blog/go1.21"}},
	{"Docs", []string{"https://go.dev/doc/effective_go"}},
	{"News", []string{"https://www.bbc.com/news"}},
	{"Batch", []string{
		"https://example.com",
		"https://go.dev/blog/go1.21",
		"https://go.dev/doc/effective_go",
	}},
}

// --- Request / Response types (mirrors the API envelope) ---

type scrapeRequest struct {
	URLs []string `json:"urls"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type scrapeAccepted struct {
	JobID             int64  `json:"job_id"`
	Status            string `json:"status"`
	TotalURLs         int    `json:"total_urls"`
	DuplicatesRemoved int    `json:"duplicates_removed"`
}

type jobDetail struct {
	JobID      int64  `json:"job_id"`
	Status     string `json:"status"`
	TotalURLs  int    `json:"total_urls"`
	MediaFound int64  `json:"media_found"`
}

// --- Benchmark result types ---

type runResult struct {
	Run        int    `json:"run"`
	JobID      int64  `json:"job_id"`
	Status     string `json:"status"`
	TotalMs    int64  `json:"total_ms"`
	TotalURLs  int    `json:"total_urls"`
	MediaFound int64  `json:"media_found"`
	Polls      int    `json:"polls"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

type batchAverages struct {
	TotalMs    float64 `json:"total_ms"`
	MediaFound float64 `json:"media_found"`
	Polls      float64 `json:"polls"`
}

type batchResult struct {
	Label    string         `json:"label"`
	URLs     []string       `json:"urls"`
	Runs     []runResult    `json:"runs"`
	Averages *batchAverages `json:"averages,omitempty"`
}

type benchmarkReport struct {
	Timestamp   string        `json:"timestamp"`
	APIURL      string        `json:"api_url"`
	RunsPerItem int           `json:"runs_per_batch"`
	Results     []batchResult `json:"results"`
}

var client = &http.Client{Timeout: 30 * time.Second}

func main() {
	flag.Parse()

	fmt.Println("=== Magpie Benchmark Suite ===")
	fmt.Printf("API URL:    %s\n", *apiURL)
	fmt.Printf("Runs/batch: %d\n", *runs)
	fmt.Printf("Output:     %s\n", *output)
	fmt.Println()

	// Quick connectivity check.
	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure magpie is running\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		APIURL:      *apiURL,
		RunsPerItem: *runs,
	}

	for _, batch := range testBatches {
		fmt.Printf("Benchmarking [%s] %d url(s) ...\n", batch.Label, len(batch.URLs))
		br := batchResult{Label: batch.Label, URLs: batch.URLs}

		for i := 1; i <= *runs; i++ {
			fmt.Printf("  Run %d/%d ... ", i, *runs)
			rr := benchmarkBatch(batch.URLs, i)
			if rr.Success {
				fmt.Printf("%s  %dms  %d media\n", rr.Status, rr.TotalMs, rr.MediaFound)
			} else {
				fmt.Printf("FAILED: %s\n", rr.Error)
			}
			br.Runs = append(br.Runs, rr)
		}

		br.Averages = computeAverages(br.Runs)
		report.Results = append(report.Results, br)
		fmt.Println()
	}

	// Print summary table.
	printTable(report.Results)

	// Write JSON report.
	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned status %d", resp.StatusCode)
	}
	return nil
}

// benchmarkBatch submits one batch and polls until the job settles.
func benchmarkBatch(urls []string, run int) runResult {
	rr := runResult{Run: run}
	start := time.Now()

	accepted, err := submit(urls)
	if err != nil {
		rr.Error = err.Error()
		return rr
	}
	rr.JobID = accepted.JobID
	rr.TotalURLs = accepted.TotalURLs

	for time.Since(start) < *deadline {
		time.Sleep(*pollWait)
		rr.Polls++

		job, err := getJob(accepted.JobID)
		if err != nil {
			rr.Error = err.Error()
			return rr
		}
		if job.Status == "completed" || job.Status == "failed" {
			rr.Status = job.Status
			rr.MediaFound = job.MediaFound
			rr.TotalMs = time.Since(start).Milliseconds()
			rr.Success = true
			return rr
		}
	}

	rr.Error = fmt.Sprintf("job %d not terminal after %s", accepted.JobID, *deadline)
	return rr
}

func submit(urls []string) (*scrapeAccepted, error) {
	body, err := json.Marshal(scrapeRequest{URLs: urls})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, *apiURL+"/api/scrape", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(*username, *password)

	var accepted scrapeAccepted
	if err := doJSON(req, http.StatusCreated, &accepted); err != nil {
		return nil, err
	}
	return &accepted, nil
}

func getJob(id int64) (*jobDetail, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/jobs/%d", *apiURL, id), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(*username, *password)

	var job jobDetail
	if err := doJSON(req, http.StatusOK, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// doJSON runs the request, checks the status, and decodes env.data into out.
func doJSON(req *http.Request, wantStatus int, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != wantStatus || !env.Success {
		return fmt.Errorf("status %d: %s %s", resp.StatusCode, env.Error, env.Message)
	}
	return json.Unmarshal(env.Data, out)
}

func computeAverages(runs []runResult) *batchAverages {
	var successCount int
	var avg batchAverages

	for _, r := range runs {
		if !r.Success {
			continue
		}
		successCount++
		avg.TotalMs += float64(r.TotalMs)
		avg.MediaFound += float64(r.MediaFound)
		avg.Polls += float64(r.Polls)
	}

	if successCount == 0 {
		return nil
	}

	n := float64(successCount)
	avg.TotalMs /= n
	avg.MediaFound /= n
	avg.Polls /= n
	return &avg
}

func printTable(results []batchResult) {
	fmt.Println(strings.Repeat("─", 70))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Batch\tURLs\tAvg Latency\tAvg Media\tStatus\n")
	fmt.Fprintf(w, "─────\t────\t───────────\t─────────\t──────\n")

	for _, r := range results {
		if r.Averages == nil {
			fmt.Fprintf(w, "%s\t%d\tFAILED\t-\t-\n", r.Label, len(r.URLs))
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%dms\t%.1f\t%s\n",
			r.Label,
			len(r.URLs),
			int64(r.Averages.TotalMs),
			r.Averages.MediaFound,
			dominantStatus(r.Runs),
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 70))
}

func dominantStatus(runs []runResult) string {
	counts := map[string]int{}
	for _, r := range runs {
		if r.Success {
			counts[r.Status]++
		}
	}
	best, bestCount := "-", 0
	for status, count := range counts {
		if count > bestCount {
			best = status
			bestCount = count
		}
	}
	return best
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
