package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// BackoffConfig controls the retry schedule for the job-create and
// sync-fallback requests.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var (
	errRateLimited      = errors.New("rate limited by upstream")
	errUpstreamError    = errors.New("upstream server error")
	errUnexpectedStatus = errors.New("unexpected status code")
	errCircuitOpen      = errors.New("circuit breaker open")
)

// transport is the outbound side of the records client. Every request goes
// through one circuit breaker shared across the upstream's endpoints. The
// create and sync requests retry with exponential backoff on top of that;
// status polls go out exactly once per attempt because the poll loop budgets
// its own consecutive failures.
type transport struct {
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
	backoff BackoffConfig
}

func newTransport(httpClient *http.Client, backoff BackoffConfig) *transport {
	return &transport{
		client: httpClient,
		circuit: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "records-api",
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		}),
		backoff: backoff,
	}
}

// doOnce executes a single request through the circuit breaker, mapping
// non-2xx statuses to errors.
func (t *transport) doOnce(req *http.Request) (*http.Response, error) {
	result, err := t.circuit.Execute(func() (interface{}, error) {
		resp, execErr := t.client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		if statusErr := classifyStatus(resp.StatusCode); statusErr != nil {
			resp.Body.Close()
			return nil, statusErr
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		return nil, err
	}
	return result.(*http.Response), nil
}

// do executes the request with exponential backoff retries on top of doOnce.
// An open circuit short-circuits the remaining attempts.
func (t *transport) do(ctx context.Context, buildRequest func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}

		resp, err := t.doOnce(req.WithContext(ctx))
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, errCircuitOpen) {
			return nil, err
		}

		lastErr = err
		if attempt >= t.backoff.MaxRetries {
			return nil, lastErr
		}

		delay := t.backoff.InitialInterval << uint(attempt)
		if t.backoff.MaxInterval > 0 && delay > t.backoff.MaxInterval {
			delay = t.backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			// next attempt
		}
	}
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return errRateLimited
	case code >= 500:
		return fmt.Errorf("%w: %d", errUpstreamError, code)
	case code < 200 || code >= 300:
		return fmt.Errorf("%w: %d", errUnexpectedStatus, code)
	}
	return nil
}
