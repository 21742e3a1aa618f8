package temphist

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Period is an aggregation window as the UI names it.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// apiNames maps UI period keys to the names the records API uses in paths.
var apiNames = map[Period]string{
	PeriodDay:   "daily",
	PeriodWeek:  "weekly",
	PeriodMonth: "monthly",
	PeriodYear:  "yearly",
}

// ParsePeriod accepts either the UI form ("week") or the API form ("weekly").
func ParsePeriod(s string) (Period, error) {
	switch s {
	case "day", "daily":
		return PeriodDay, nil
	case "week", "weekly":
		return PeriodWeek, nil
	case "month", "monthly":
		return PeriodMonth, nil
	case "year", "yearly":
		return PeriodYear, nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// APIName returns the path segment the records API expects for this period.
func (p Period) APIName() string {
	if n, ok := apiNames[p]; ok {
		return n
	}
	return string(p)
}

// identifierPattern pins the comparison date: MM-DD, month 01-12, day 01-31.
var identifierPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])-(0[1-9]|[12][0-9]|3[01])$`)

// ValidateIdentifier checks an MM-DD identifier before it reaches the network.
func ValidateIdentifier(id string) error {
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return nil
}

// CacheKey is the canonical prefetch-cache key for a (period, location, identifier) triple.
func CacheKey(p Period, location, identifier string) string {
	return fmt.Sprintf("temp-%s-%s-%s", p, location, identifier)
}

// YearValue is one historical observation: the temperature on the pinned date in a given year.
type YearValue struct {
	Year        int     `json:"year"`
	Temperature float64 `json:"temperature"`
}

// Average holds aggregate statistics over a dataset's values.
type Average struct {
	Mean float64 `json:"mean"`
}

// Trend is the fitted temperature trend across years.
type Trend struct {
	Slope float64 `json:"slope"`
	Unit  string  `json:"unit"`
}

// Completeness describes how much of the expected historical range is present.
type Completeness struct {
	ExpectedYears int     `json:"expectedYears"`
	ActualYears   int     `json:"actualYears"`
	Ratio         float64 `json:"ratio"`
}

// TemperatureDataset is the normalized payload rendered by the UI.
// It is read-only once received; nothing downstream mutates it.
type TemperatureDataset struct {
	Period       Period       `json:"period"`
	Location     string       `json:"location"`
	Identifier   string       `json:"identifier"` // MM-DD
	Values       []YearValue  `json:"values"`
	Average      Average      `json:"average"`
	Trend        Trend        `json:"trend"`
	Summary      string       `json:"summary"`
	Completeness Completeness `json:"completeness"`
}

// JobStatus is the remote job lifecycle state as reported by the jobs endpoint.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusReady      JobStatus = "ready"
	StatusError      JobStatus = "error"
)

// Terminal reports whether no further polling can change the status.
func (s JobStatus) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// Job is the client's view of a remote computation, observed via polling.
// The result payload is kept raw here because the API serves two envelope
// shapes; normalization happens in one place, immediately after receipt.
type Job struct {
	JobID  string          `json:"job_id"`
	Status JobStatus       `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// JobResult is the uniform envelope both the async and sync paths produce.
type JobResult struct {
	CacheKey   string              `json:"cache_key"`
	ETag       string              `json:"etag"`
	Data       *TemperatureDataset `json:"data"`
	ComputedAt time.Time           `json:"computed_at"`
}
