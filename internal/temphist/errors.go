package temphist

import (
	"context"
	"errors"
)

var (
	// ErrInvalidIdentifier is returned for identifiers that are not valid MM-DD
	// dates. Validation failures fail fast and are never retried.
	ErrInvalidIdentifier = errors.New("invalid date identifier")

	// ErrJobCreationFailed is returned when the async endpoint rejects a job request.
	ErrJobCreationFailed = errors.New("job creation failed")

	// ErrInvalidJobResponse is returned when the API answers with a shape the
	// client cannot normalize (missing job id, empty result payload).
	ErrInvalidJobResponse = errors.New("invalid job response")

	// ErrJobFailed is returned when the remote job ends in the error state.
	ErrJobFailed = errors.New("job failed")

	// ErrPollingFailed is returned after too many consecutive transient
	// failures while polling a job's status.
	ErrPollingFailed = errors.New("polling failed")

	// ErrPollingTimedOut is returned when the attempt budget is exhausted
	// without the job reaching a terminal state. The remote job may still be
	// running; the client has simply given up waiting.
	ErrPollingTimedOut = errors.New("polling timed out")

	// ErrSyncFetchFailed is returned when the synchronous fallback endpoint fails.
	ErrSyncFetchFailed = errors.New("sync fetch failed")

	// ErrCancelled marks a load abandoned by its caller. It is not a real
	// failure: preloads and the HTTP layer treat it as a silent no-op.
	ErrCancelled = errors.New("cancelled")
)

// CancelledFrom converts context cancellation into ErrCancelled, preserving
// the original error for inspection. Non-cancellation errors pass through.
func CancelledFrom(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrCancelled, err)
	}
	return err
}

// IsCancelled reports whether err represents an abandoned load.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
