// Package webhook posts signed job-completion events to a configured
// endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/magpielabs/magpie/config"
	"github.com/magpielabs/magpie/models"
)

// Event types delivered to the endpoint.
const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// Event is the payload posted to the webhook endpoint.
type Event struct {
	Type      string    `json:"type"`
	JobID     int64     `json:"job_id"`
	Timestamp int64     `json:"timestamp"`
	Data      EventData `json:"data"`
}

// EventData carries the outcome counters for a finished job.
type EventData struct {
	Status     models.JobStatus `json:"status"`
	TotalURLs  int              `json:"total_urls"`
	MediaFound int64            `json:"media_found"`
}

// Notifier delivers events over HTTP. A nil Notifier drops events, so
// callers with webhooks disabled need no separate code path.
type Notifier struct {
	url    string
	secret string
	client *http.Client
	delays []time.Duration
}

// New returns a Notifier for cfg, or nil when no URL is configured.
func New(cfg config.WebhookConfig) *Notifier {
	if cfg.URL == "" {
		return nil
	}
	return &Notifier{
		url:    cfg.URL,
		secret: cfg.Secret,
		client: &http.Client{Timeout: 10 * time.Second},
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// JobFinished builds the event for a terminal job and delivers it in the
// background. It returns immediately; the pipeline never blocks on webhook
// endpoints.
func (n *Notifier) JobFinished(jobID int64, status models.JobStatus, totalURLs int, mediaFound int64) {
	if n == nil {
		return
	}
	eventType := EventJobCompleted
	if status == models.JobFailed {
		eventType = EventJobFailed
	}
	event := &Event{
		Type:      eventType,
		JobID:     jobID,
		Timestamp: time.Now().Unix(),
		Data: EventData{
			Status:     status,
			TotalURLs:  totalURLs,
			MediaFound: mediaFound,
		},
	}
	go n.deliverWithRetries(event)
}

// Deliver sends one event synchronously. The request body is signed with
// HMAC-SHA256 when a secret is configured.
// Header: X-Magpie-Signature: sha256=<hex>
func (n *Notifier) Deliver(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Magpie-Webhook/1.0")
	if n.secret != "" {
		req.Header.Set("X-Magpie-Signature", "sha256="+Sign(n.secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// deliverWithRetries walks the retry schedule until a delivery succeeds.
func (n *Notifier) deliverWithRetries(event *Event) {
	for attempt, delay := range n.delays {
		if delay > 0 {
			time.Sleep(delay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := n.Deliver(ctx, event)
		cancel()
		if err == nil {
			slog.Info("webhook delivered",
				"url", n.url,
				"event", event.Type,
				"jobId", event.JobID,
				"attempt", attempt+1,
			)
			return
		}
		slog.Warn("webhook delivery failed",
			"url", n.url,
			"event", event.Type,
			"jobId", event.JobID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	slog.Error("webhook delivery exhausted all retries",
		"url", n.url,
		"event", event.Type,
		"jobId", event.JobID,
	)
}

// Sign computes the hex HMAC-SHA256 of body under secret. Receivers verify
// deliveries by recomputing it over the raw request body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
