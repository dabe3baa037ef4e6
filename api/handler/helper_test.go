package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/magpielabs/magpie/api/middleware"
	"github.com/magpielabs/magpie/models"
	"github.com/magpielabs/magpie/queue"
	"github.com/magpielabs/magpie/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// envelope mirrors models.Response with raw data for per-test decoding.
type envelope struct {
	Success    bool               `json:"success"`
	Data       json.RawMessage    `json:"data"`
	Pagination *models.Pagination `json:"pagination"`
	Error      string             `json:"error"`
	Message    string             `json:"message"`
}

// testRouter builds a gin engine with the same error middleware the real
// router mounts, then lets the test register routes.
func testRouter(register func(r *gin.Engine)) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Errors(gin.TestMode))
	register(r)
	return r
}

// asUser injects the context username the auth middleware would set.
func asUser(username string) gin.HandlerFunc {
	return func(c *gin.Context) { c.Set(middleware.ContextUsername, username) }
}

func doRequest(t *testing.T, h http.Handler, method, target string, body any) (int, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("response is not an envelope: %v\nbody: %s", err, w.Body.String())
		}
	}
	return w.Code, env
}

func decodeData(t *testing.T, env envelope, dest any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dest); err != nil {
		t.Fatalf("decode data: %v\ndata: %s", err, env.Data)
	}
}

type fakeUsers struct {
	users map[string]*models.User
	err   error
}

func (f *fakeUsers) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, found := f.users[username]
	if !found {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func seedUsers(t *testing.T, username, password string) *fakeUsers {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return &fakeUsers{users: map[string]*models.User{
		username: {ID: 1, Username: username, PasswordHash: string(hash), CreatedAt: time.Now()},
	}}
}

type fakeSubmitter struct {
	gotURLs []string
	gotUser *int64
	err     error
}

func (f *fakeSubmitter) EnqueueJob(_ context.Context, userID *int64, urls []string) (*models.ScrapeAccepted, error) {
	f.gotURLs, f.gotUser = urls, userID
	if f.err != nil {
		return nil, f.err
	}
	return &models.ScrapeAccepted{
		JobID:     7,
		Status:    models.JobPending,
		TotalURLs: len(urls),
		CreatedAt: time.Now(),
	}, nil
}

type fakeJobReader struct {
	jobs     []models.JobSummary
	total    int64
	detail   *models.JobDetail
	err      error
	gotPage  int
	gotLimit int
}

func (f *fakeJobReader) ListJobs(_ context.Context, page, limit int) ([]models.JobSummary, int64, error) {
	f.gotPage, f.gotLimit = page, limit
	return f.jobs, f.total, f.err
}

func (f *fakeJobReader) GetJobDetail(_ context.Context, jobID int64) (*models.JobDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.detail, nil
}

type fakeMediaReader struct {
	items     []models.Media
	total     int64
	stats     *models.MediaStats
	detail    *models.MediaDetail
	err       error
	gotFilter store.MediaFilter
}

func (f *fakeMediaReader) ListMedia(_ context.Context, filter store.MediaFilter, page, limit int) ([]models.Media, int64, error) {
	f.gotFilter = filter
	return f.items, f.total, f.err
}

func (f *fakeMediaReader) MediaStats(_ context.Context) (*models.MediaStats, error) {
	return f.stats, f.err
}

func (f *fakeMediaReader) GetMedia(_ context.Context, id int64) (*models.MediaDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.detail, nil
}

type fakeQueueCtl struct {
	stats    *queue.Stats
	records  []queue.Record
	paused   []string
	resumed  []string
	resumeOK bool
	err      error
}

func (f *fakeQueueCtl) Stats(_ context.Context) (*queue.Stats, error) {
	return f.stats, f.err
}

func (f *fakeQueueCtl) Pause(_ context.Context, source string) error {
	f.paused = append(f.paused, source)
	return f.err
}

func (f *fakeQueueCtl) Resume(_ context.Context, source string) (bool, error) {
	f.resumed = append(f.resumed, source)
	return f.resumeOK, f.err
}

func (f *fakeQueueCtl) DeadLetters(_ context.Context, limit int64) ([]queue.Record, error) {
	return f.records, f.err
}
