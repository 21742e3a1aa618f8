package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/temphist/temphist/internal/temphist"
)

// upstream is a scripted records API for exercising the client.
type upstream struct {
	server *httptest.Server

	createCalls int64
	pollCalls   int64
	syncCalls   int64

	createStatus  int
	createBody    string
	createHandler func(call int64, w http.ResponseWriter)
	pollHandler   func(poll int64, w http.ResponseWriter)
	syncStatus    int
	syncBody      string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()

	u := &upstream{
		createStatus: http.StatusAccepted,
		createBody:   `{"job_id":"job-1"}`,
		syncStatus:   http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/jobs/", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&u.pollCalls, 1)
		u.pollHandler(n, w)
	})
	mux.HandleFunc("/v1/records/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/async") {
			n := atomic.AddInt64(&u.createCalls, 1)
			if u.createHandler != nil {
				u.createHandler(n, w)
				return
			}
			w.WriteHeader(u.createStatus)
			fmt.Fprint(w, u.createBody)
			return
		}
		atomic.AddInt64(&u.syncCalls, 1)
		w.WriteHeader(u.syncStatus)
		fmt.Fprint(w, u.syncBody)
	})

	u.server = httptest.NewServer(mux)
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) client() *Client {
	return New(Config{
		BaseURL:          u.server.URL,
		PollInterval:     time.Millisecond,
		MaxPollAttempts:  5,
		FailureThreshold: 3,
		Backoff: BackoffConfig{
			MaxRetries:      0,
			InitialInterval: time.Millisecond,
		},
	})
}

func datasetJSON(n int) string {
	values := make([]temphist.YearValue, 0, n)
	for i := 0; i < n; i++ {
		values = append(values, temphist.YearValue{Year: 1975 + i, Temperature: 14 + float64(i)*0.02})
	}
	ds := temphist.TemperatureDataset{
		Period:     temphist.PeriodWeek,
		Location:   "London, England, United Kingdom",
		Identifier: "06-15",
		Values:     values,
	}
	b, _ := json.Marshal(ds)
	return string(b)
}

func readyBody(dataset string) string {
	return fmt.Sprintf(`{"job_id":"job-1","status":"ready","result":{"cache_key":"","etag":"","data":%s}}`, dataset)
}

func TestPollStatusResolvesOnFirstReadyPoll(t *testing.T) {
	u := newUpstream(t)
	u.pollHandler = func(_ int64, w http.ResponseWriter) {
		fmt.Fprint(w, readyBody(datasetJSON(50)))
	}

	res, err := u.client().PollStatus(context.Background(), "job-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt64(&u.pollCalls); got != 1 {
		t.Fatalf("expected exactly one status request, got %d", got)
	}
	if len(res.Data.Values) != 50 {
		t.Fatalf("expected 50 values, got %d", len(res.Data.Values))
	}
}

func TestPollStatusTimesOutAfterMaxAttempts(t *testing.T) {
	u := newUpstream(t)
	u.pollHandler = func(_ int64, w http.ResponseWriter) {
		fmt.Fprint(w, `{"job_id":"job-1","status":"processing"}`)
	}

	progress := 0
	_, err := u.client().PollStatus(context.Background(), "job-1", func(status temphist.JobStatus, attempt int) {
		progress++
		if status != temphist.StatusProcessing {
			t.Errorf("unexpected progress status %q", status)
		}
	})
	if !errors.Is(err, temphist.ErrPollingTimedOut) {
		t.Fatalf("expected ErrPollingTimedOut, got %v", err)
	}
	if got := atomic.LoadInt64(&u.pollCalls); got != 5 {
		t.Fatalf("expected exactly 5 attempts, got %d", got)
	}
	if progress != 5 {
		t.Fatalf("expected onProgress per non-terminal poll, got %d", progress)
	}
}

func TestPollStatusSurfacesJobError(t *testing.T) {
	u := newUpstream(t)
	u.pollHandler = func(_ int64, w http.ResponseWriter) {
		fmt.Fprint(w, `{"job_id":"job-1","status":"error","error":"station archive offline"}`)
	}

	_, err := u.client().PollStatus(context.Background(), "job-1", nil)
	if !errors.Is(err, temphist.ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "station archive offline") {
		t.Fatalf("job error message lost: %v", err)
	}
}

func TestPollStatusAbsorbsTransientFailures(t *testing.T) {
	u := newUpstream(t)
	u.pollHandler = func(poll int64, w http.ResponseWriter) {
		if poll <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, readyBody(datasetJSON(3)))
	}

	res, err := u.client().PollStatus(context.Background(), "job-1", nil)
	if err != nil {
		t.Fatalf("expected recovery after transient failures, got %v", err)
	}
	if res.Data == nil {
		t.Fatal("missing dataset after recovery")
	}
}

func TestPollStatusEscalatesConsecutiveFailures(t *testing.T) {
	u := newUpstream(t)
	u.pollHandler = func(_ int64, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadGateway)
	}

	_, err := u.client().PollStatus(context.Background(), "job-1", nil)
	if !errors.Is(err, temphist.ErrPollingFailed) {
		t.Fatalf("expected ErrPollingFailed, got %v", err)
	}
	if got := atomic.LoadInt64(&u.pollCalls); got != 3 {
		t.Fatalf("expected escalation at the failure threshold, got %d polls", got)
	}
}

func TestCreateJobRejectsBadIdentifiers(t *testing.T) {
	u := newUpstream(t)
	c := u.client()

	for _, id := range []string{"13-01", "01-32", "../etc", "", "6-15", "06/15"} {
		_, err := c.CreateJob(context.Background(), temphist.PeriodWeek, "London", id)
		if !errors.Is(err, temphist.ErrInvalidIdentifier) {
			t.Fatalf("identifier %q: expected ErrInvalidIdentifier, got %v", id, err)
		}
	}
	if got := atomic.LoadInt64(&u.createCalls); got != 0 {
		t.Fatalf("validation must precede network calls, saw %d requests", got)
	}

	if _, err := c.CreateJob(context.Background(), temphist.PeriodWeek, "London", "01-15"); err != nil {
		t.Fatalf("valid identifier rejected: %v", err)
	}
}

func TestCreateJobFailureClasses(t *testing.T) {
	u := newUpstream(t)
	u.createStatus = http.StatusServiceUnavailable

	_, err := u.client().CreateJob(context.Background(), temphist.PeriodWeek, "London", "06-15")
	if !errors.Is(err, temphist.ErrJobCreationFailed) {
		t.Fatalf("expected ErrJobCreationFailed, got %v", err)
	}

	u2 := newUpstream(t)
	u2.createBody = `{"status":"queued"}`
	_, err = u2.client().CreateJob(context.Background(), temphist.PeriodWeek, "London", "06-15")
	if !errors.Is(err, temphist.ErrInvalidJobResponse) {
		t.Fatalf("expected ErrInvalidJobResponse for missing job id, got %v", err)
	}
}

func TestCreateJobRetriesTransientServerErrors(t *testing.T) {
	u := newUpstream(t)
	u.createHandler = func(call int64, w http.ResponseWriter) {
		if call == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"job_id":"job-1"}`)
	}

	c := New(Config{
		BaseURL:          u.server.URL,
		PollInterval:     time.Millisecond,
		MaxPollAttempts:  5,
		FailureThreshold: 3,
		Backoff: BackoffConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
		},
	})

	jobID, err := c.CreateJob(context.Background(), temphist.PeriodWeek, "London", "06-15")
	if err != nil {
		t.Fatalf("expected recovery on retry, got %v", err)
	}
	if jobID != "job-1" {
		t.Fatalf("job id = %q", jobID)
	}
	if got := atomic.LoadInt64(&u.createCalls); got != 2 {
		t.Fatalf("expected one failed attempt and one retry, got %d requests", got)
	}
}

func TestFetchAsyncFallsBackOnTimeout(t *testing.T) {
	u := newUpstream(t)
	u.pollHandler = func(_ int64, w http.ResponseWriter) {
		fmt.Fprint(w, `{"job_id":"job-1","status":"pending"}`)
	}
	u.syncBody = datasetJSON(10)

	res, err := u.client().FetchAsync(context.Background(), temphist.PeriodWeek,
		"London, England, United Kingdom", "06-15", nil)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if got := atomic.LoadInt64(&u.syncCalls); got != 1 {
		t.Fatalf("expected exactly one sync request, got %d", got)
	}
	if res.ETag == "" || res.CacheKey == "" || res.ComputedAt.IsZero() {
		t.Fatalf("fallback envelope incomplete: %+v", res)
	}
	if res.Data.Summary == "" {
		t.Fatal("fallback dataset missing computed summary")
	}
}

func TestFetchAsyncFallsBackOnJobError(t *testing.T) {
	u := newUpstream(t)
	u.pollHandler = func(_ int64, w http.ResponseWriter) {
		fmt.Fprint(w, `{"job_id":"job-1","status":"error","error":"boom"}`)
	}
	u.syncBody = datasetJSON(5)

	_, err := u.client().FetchAsync(context.Background(), temphist.PeriodWeek, "London", "06-15", nil)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if got := atomic.LoadInt64(&u.syncCalls); got != 1 {
		t.Fatalf("expected exactly one sync request, got %d", got)
	}
}

func TestFetchAsyncDoesNotFallBackOnPollingFailed(t *testing.T) {
	u := newUpstream(t)
	u.pollHandler = func(_ int64, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadGateway)
	}

	_, err := u.client().FetchAsync(context.Background(), temphist.PeriodWeek, "London", "06-15", nil)
	if !errors.Is(err, temphist.ErrPollingFailed) {
		t.Fatalf("expected ErrPollingFailed to propagate, got %v", err)
	}
	if got := atomic.LoadInt64(&u.syncCalls); got != 0 {
		t.Fatalf("connectivity-class errors must not trigger fallback, saw %d sync calls", got)
	}
}

func TestFetchAsyncCompoundFailure(t *testing.T) {
	u := newUpstream(t)
	u.pollHandler = func(_ int64, w http.ResponseWriter) {
		fmt.Fprint(w, `{"job_id":"job-1","status":"error","error":"primary broke"}`)
	}
	u.syncStatus = http.StatusInternalServerError

	_, err := u.client().FetchAsync(context.Background(), temphist.PeriodWeek, "London", "06-15", nil)
	if !errors.Is(err, temphist.ErrSyncFetchFailed) {
		t.Fatalf("expected ErrSyncFetchFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "primary broke") {
		t.Fatalf("compound error must identify the async failure: %v", err)
	}
	if !strings.Contains(err.Error(), "sync fallback") {
		t.Fatalf("compound error must identify the sync failure: %v", err)
	}
}

func TestNormalizeResultAcceptsBothEnvelopeShapes(t *testing.T) {
	direct := json.RawMessage(datasetJSON(4))
	res, err := normalizeResult(direct, temphist.PeriodWeek, "London", "06-15")
	if err != nil {
		t.Fatalf("direct dataset shape rejected: %v", err)
	}
	if res.Data == nil || len(res.Data.Values) != 4 {
		t.Fatalf("direct dataset mangled: %+v", res)
	}

	envelope := json.RawMessage(fmt.Sprintf(
		`{"cache_key":"ck-1","etag":"e-1","data":%s,"computed_at":"2025-06-15T12:00:00Z"}`,
		datasetJSON(4)))
	res, err = normalizeResult(envelope, temphist.PeriodWeek, "London", "06-15")
	if err != nil {
		t.Fatalf("envelope shape rejected: %v", err)
	}
	if res.CacheKey != "ck-1" || res.ETag != "e-1" {
		t.Fatalf("envelope metadata lost: %+v", res)
	}

	if _, err := normalizeResult(json.RawMessage(`{"values":[]}`), temphist.PeriodWeek, "London", "06-15"); !errors.Is(err, temphist.ErrInvalidJobResponse) {
		t.Fatalf("empty dataset must be rejected, got %v", err)
	}

	// The envelope shape applies the same empty-dataset check as the bare shape.
	empty := json.RawMessage(`{"cache_key":"ck-1","etag":"e-1","data":{"values":[]}}`)
	if _, err := normalizeResult(empty, temphist.PeriodWeek, "London", "06-15"); !errors.Is(err, temphist.ErrInvalidJobResponse) {
		t.Fatalf("empty envelope dataset must be rejected, got %v", err)
	}
}

func TestPollStatusHonorsCancellation(t *testing.T) {
	u := newUpstream(t)
	u.pollHandler = func(_ int64, w http.ResponseWriter) {
		fmt.Fprint(w, `{"job_id":"job-1","status":"pending"}`)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := u.client().PollStatus(ctx, "job-1", nil)
	if !temphist.IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
