package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/temphist/temphist/internal/temphist"
)

// Config holds the tunables for talking to the records API.
type Config struct {
	// BaseURL is the upstream records API root, without a trailing slash.
	BaseURL string

	// PollInterval separates consecutive status polls.
	PollInterval time.Duration
	// MaxPollAttempts bounds one PollStatus call; with the default 3s
	// interval, 100 attempts cap the wait at roughly five minutes.
	MaxPollAttempts int
	// FailureThreshold is how many consecutive transient poll failures are
	// absorbed before the poll is abandoned.
	FailureThreshold int

	// Backoff applies to the job-create and sync-fallback requests.
	Backoff BackoffConfig

	HTTPClient *http.Client
}

func (c *Config) withDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = 100
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 10
	}
	if c.Backoff.InitialInterval <= 0 {
		c.Backoff = BackoffConfig{
			MaxRetries:      2,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		}
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
}

// ProgressFunc is invoked on every non-terminal poll observation.
type ProgressFunc func(status temphist.JobStatus, attempt int)

// Client drives the upstream records API: it creates asynchronous computation
// jobs, polls them to completion, and falls back to the synchronous endpoint
// when the async path gives out.
type Client struct {
	cfg       Config
	transport *transport
}

// New creates a Client for the given upstream.
func New(cfg Config) *Client {
	cfg.withDefaults()

	return &Client{
		cfg:       cfg,
		transport: newTransport(cfg.HTTPClient, cfg.Backoff),
	}
}

// CreateJob submits an asynchronous computation for (period, location,
// identifier) and returns the remote job id. The identifier is validated
// before any network traffic.
func (c *Client) CreateJob(ctx context.Context, period temphist.Period, location, identifier string) (string, error) {
	if err := temphist.ValidateIdentifier(identifier); err != nil {
		return "", err
	}

	buildRequest := func() (*http.Request, error) {
		u := fmt.Sprintf("%s/v1/records/%s/%s/%s/async",
			c.cfg.BaseURL, period.APIName(), url.PathEscape(location), identifier)
		return http.NewRequest(http.MethodPost, u, nil)
	}

	resp, err := c.transport.do(ctx, buildRequest)
	if err != nil {
		if cerr := temphist.CancelledFrom(err); errors.Is(cerr, temphist.ErrCancelled) {
			return "", cerr
		}
		return "", fmt.Errorf("%w: %v", temphist.ErrJobCreationFailed, err)
	}
	defer resp.Body.Close()

	var payload struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: %v", temphist.ErrInvalidJobResponse, err)
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("%w: missing job id", temphist.ErrInvalidJobResponse)
	}
	return payload.JobID, nil
}

// PollStatus polls jobID at the configured interval until the job reaches a
// terminal state or the attempt budget runs out. Polls within one call are
// strictly sequential. onProgress, if non-nil, fires on every non-terminal
// observation.
func (c *Client) PollStatus(ctx context.Context, jobID string, onProgress ProgressFunc) (*temphist.JobResult, error) {
	consecutiveFailures := 0
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxPollAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, temphist.CancelledFrom(err)
		}

		job, err := c.getJob(ctx, jobID)
		if err != nil {
			if cerr := temphist.CancelledFrom(err); errors.Is(cerr, temphist.ErrCancelled) {
				return nil, cerr
			}
			consecutiveFailures++
			lastErr = err
			if consecutiveFailures >= c.cfg.FailureThreshold {
				return nil, fmt.Errorf("%w after %d consecutive errors: %v",
					temphist.ErrPollingFailed, consecutiveFailures, lastErr)
			}
			if err := c.waitInterval(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}
		consecutiveFailures = 0

		switch job.Status {
		case temphist.StatusReady:
			if len(job.Result) == 0 {
				return nil, fmt.Errorf("%w: ready job %s has no result", temphist.ErrInvalidJobResponse, jobID)
			}
			return normalizeResult(job.Result, "", "", "")
		case temphist.StatusError:
			msg := job.Error
			if msg == "" {
				msg = "remote job reported failure"
			}
			return nil, fmt.Errorf("%w: %s", temphist.ErrJobFailed, msg)
		default:
			// pending, processing, or a status this client predates.
			if onProgress != nil {
				onProgress(job.Status, attempt)
			}
			if err := c.waitInterval(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w: job %s not terminal after %d attempts",
		temphist.ErrPollingTimedOut, jobID, c.cfg.MaxPollAttempts)
}

// getJob fetches the job document once. Transient-failure accounting is the
// caller's concern, so this goes through the breaker but never retries.
func (c *Client) getJob(ctx context.Context, jobID string) (*temphist.Job, error) {
	u := fmt.Sprintf("%s/v1/jobs/%s", c.cfg.BaseURL, url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.doOnce(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var job temphist.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// waitInterval sleeps one poll interval, honoring cancellation. No wait is
// inserted after the final attempt.
func (c *Client) waitInterval(ctx context.Context, attempt int) error {
	if attempt >= c.cfg.MaxPollAttempts {
		return nil
	}
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return temphist.CancelledFrom(ctx.Err())
	case <-timer.C:
		return nil
	}
}

// FetchAsync composes CreateJob and PollStatus. A timed-out or failed job
// falls back to the synchronous endpoint; every other error class propagates
// untouched.
func (c *Client) FetchAsync(ctx context.Context, period temphist.Period, location, identifier string, onProgress ProgressFunc) (*temphist.JobResult, error) {
	jobID, err := c.CreateJob(ctx, period, location, identifier)
	if err != nil {
		return nil, err
	}

	result, err := c.PollStatus(ctx, jobID, onProgress)
	if err == nil {
		return finishResult(result, period, location, identifier), nil
	}

	if !errors.Is(err, temphist.ErrJobFailed) && !errors.Is(err, temphist.ErrPollingTimedOut) {
		return nil, err
	}

	result, syncErr := c.FetchSync(ctx, period, location, identifier)
	if syncErr != nil {
		return nil, fmt.Errorf("%w: async path: %v; sync fallback: %v",
			temphist.ErrSyncFetchFailed, err, syncErr)
	}
	return result, nil
}

// FetchSync issues one blocking request to the synchronous records endpoint
// and wraps the dataset in a synthetic JobResult envelope so downstream
// consumers see one uniform shape regardless of path taken.
func (c *Client) FetchSync(ctx context.Context, period temphist.Period, location, identifier string) (*temphist.JobResult, error) {
	if err := temphist.ValidateIdentifier(identifier); err != nil {
		return nil, err
	}

	buildRequest := func() (*http.Request, error) {
		u := fmt.Sprintf("%s/v1/records/%s/%s/%s",
			c.cfg.BaseURL, period.APIName(), url.PathEscape(location), identifier)
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := c.transport.do(ctx, buildRequest)
	if err != nil {
		if cerr := temphist.CancelledFrom(err); errors.Is(cerr, temphist.ErrCancelled) {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: %v", temphist.ErrSyncFetchFailed, err)
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", temphist.ErrSyncFetchFailed, err)
	}

	result, err := normalizeResult(raw, period, location, identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", temphist.ErrSyncFetchFailed, err)
	}
	return result, nil
}

// normalizeResult turns either upstream envelope shape — a full
// {cache_key, etag, data} job result or a bare dataset — into the canonical
// JobResult before any business logic sees it. Missing envelope fields are
// fabricated: cache key from the triple, a fresh etag, the current time.
func normalizeResult(raw json.RawMessage, period temphist.Period, location, identifier string) (*temphist.JobResult, error) {
	var env struct {
		CacheKey   string                       `json:"cache_key"`
		ETag       string                       `json:"etag"`
		Data       *temphist.TemperatureDataset `json:"data"`
		ComputedAt time.Time                    `json:"computed_at"`
	}

	if err := json.Unmarshal(raw, &env); err == nil && env.Data != nil {
		if len(env.Data.Values) == 0 {
			return nil, fmt.Errorf("%w: dataset has no values", temphist.ErrInvalidJobResponse)
		}
		res := &temphist.JobResult{
			CacheKey:   env.CacheKey,
			ETag:       env.ETag,
			Data:       env.Data,
			ComputedAt: env.ComputedAt,
		}
		return finishResult(res, period, location, identifier), nil
	}

	var ds temphist.TemperatureDataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("%w: %v", temphist.ErrInvalidJobResponse, err)
	}
	if len(ds.Values) == 0 {
		return nil, fmt.Errorf("%w: dataset has no values", temphist.ErrInvalidJobResponse)
	}

	res := &temphist.JobResult{Data: &ds}
	return finishResult(res, period, location, identifier), nil
}

// finishResult fills in whatever the upstream left blank so both paths hand
// back identical shapes.
func finishResult(res *temphist.JobResult, period temphist.Period, location, identifier string) *temphist.JobResult {
	ds := res.Data
	if ds != nil {
		if period != "" && ds.Period == "" {
			ds.Period = period
		}
		if location != "" && ds.Location == "" {
			ds.Location = location
		}
		if identifier != "" && ds.Identifier == "" {
			ds.Identifier = identifier
		}
		if ds.Summary == "" {
			temphist.ComputeSummary(ds)
		}
	}

	if res.CacheKey == "" && ds != nil && ds.Period != "" && ds.Location != "" && ds.Identifier != "" {
		res.CacheKey = temphist.CacheKey(ds.Period, ds.Location, ds.Identifier)
	}
	if res.ETag == "" {
		res.ETag = uuid.NewString()
	}
	if res.ComputedAt.IsZero() {
		res.ComputedAt = time.Now().UTC()
	}
	return res
}
