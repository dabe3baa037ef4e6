package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/magpielabs/magpie/config"
	"github.com/magpielabs/magpie/models"
)

func TestSignKnownVector(t *testing.T) {
	// RFC-style vector: HMAC-SHA256("key", "The quick brown fox ...").
	got := Sign("key", []byte("The quick brown fox jumps over the lazy dog"))
	want := "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	if got != want {
		t.Errorf("Sign = %s, want %s", got, want)
	}
}

func TestDeliverSignsAndPostsEvent(t *testing.T) {
	type capture struct {
		body      []byte
		signature string
		userAgent string
		content   string
	}
	got := make(chan capture, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- capture{
			body:      body,
			signature: r.Header.Get("X-Magpie-Signature"),
			userAgent: r.Header.Get("User-Agent"),
			content:   r.Header.Get("Content-Type"),
		}
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{URL: srv.URL, Secret: "s3cret"})
	event := &Event{
		Type:      EventJobCompleted,
		JobID:     42,
		Timestamp: time.Now().Unix(),
		Data:      EventData{Status: models.JobCompleted, TotalURLs: 3, MediaFound: 12},
	}
	if err := n.Deliver(context.Background(), event); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	rec := <-got
	if rec.userAgent != "Magpie-Webhook/1.0" {
		t.Errorf("User-Agent = %q", rec.userAgent)
	}
	if rec.content != "application/json" {
		t.Errorf("Content-Type = %q", rec.content)
	}
	if want := "sha256=" + Sign("s3cret", rec.body); rec.signature != want {
		t.Errorf("signature = %q, want %q", rec.signature, want)
	}

	var decoded Event
	if err := json.Unmarshal(rec.body, &decoded); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if decoded.Type != EventJobCompleted || decoded.JobID != 42 {
		t.Errorf("event = %+v", decoded)
	}
	if decoded.Data.TotalURLs != 3 || decoded.Data.MediaFound != 12 {
		t.Errorf("data = %+v, want 3 urls / 12 media", decoded.Data)
	}
}

func TestDeliverSkipsSignatureWithoutSecret(t *testing.T) {
	sig := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig <- r.Header.Get("X-Magpie-Signature")
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{URL: srv.URL})
	if err := n.Deliver(context.Background(), &Event{Type: EventJobFailed, JobID: 1}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if s := <-sig; s != "" {
		t.Errorf("unexpected signature header %q", s)
	}
}

func TestDeliverRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{URL: srv.URL})
	err := n.Deliver(context.Background(), &Event{Type: EventJobCompleted, JobID: 1})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestJobFinishedDeliversInBackground(t *testing.T) {
	events := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		if err := json.NewDecoder(r.Body).Decode(&e); err == nil {
			events <- e
		}
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{URL: srv.URL})
	n.JobFinished(7, models.JobFailed, 5, 0)

	select {
	case e := <-events:
		if e.Type != EventJobFailed {
			t.Errorf("type = %q, want %q", e.Type, EventJobFailed)
		}
		if e.JobID != 7 || e.Data.TotalURLs != 5 {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never arrived")
	}
}

func TestJobFinishedRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		done <- struct{}{}
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{URL: srv.URL})
	n.delays = []time.Duration{0, 10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond}
	n.JobFinished(9, models.JobCompleted, 1, 4)

	select {
	case <-done:
		if got := calls.Load(); got != 3 {
			t.Errorf("deliveries = %d, want 3", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never succeeded")
	}
}

func TestDisabledNotifierIsSafe(t *testing.T) {
	n := New(config.WebhookConfig{})
	if n != nil {
		t.Fatal("empty URL should disable the notifier")
	}
	// Must not panic on the nil receiver.
	n.JobFinished(1, models.JobCompleted, 1, 0)
}
