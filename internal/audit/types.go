package audit

import (
	"encoding/json"
	"net/http"
	"time"
)

// Status is the severity carried by a Finding.
type Status string

// Finding severities.
const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the known severities.
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusWarning, StatusError:
		return true
	default:
		return false
	}
}

// Finding is one structured observation emitted by a rule.
type Finding struct {
	Key      string         `json:"key" yaml:"key"`
	Status   Status         `json:"status" yaml:"status"`
	Actual   map[string]any `json:"actual" yaml:"actual"`
	Expected map[string]any `json:"expected,omitempty" yaml:"expected,omitempty"`
}

// RuleResult groups the findings of a single rule invocation.
type RuleResult struct {
	Rule     string    `json:"rule" yaml:"rule"`
	Findings []Finding `json:"info" yaml:"info"`
}

// Icon describes one <link rel="...icon..."> candidate.
type Icon struct {
	Href  string `json:"href" yaml:"href"`
	Rel   string `json:"rel" yaml:"rel"`
	Sizes string `json:"sizes,omitempty" yaml:"sizes,omitempty"`
}

// Result is the base audit outcome: one fetch plus every rule evaluated against it.
type Result struct {
	URL       string                `json:"url"`
	FinalURL  string                `json:"final_url"`
	Headers   http.Header           `json:"headers"`
	Status    int                   `json:"status"`
	Duration  time.Duration         `json:"-"`
	Size      int64                 `json:"size"`
	FetchedAt time.Time             `json:"fetched_at"`
	Results   map[string]RuleResult `json:"results"`
}

// StrategyReport is the performance outcome for one scoring strategy.
type StrategyReport struct {
	Score *float64        `json:"score,omitempty" yaml:"score,omitempty"`
	Raw   json.RawMessage `json:"raw,omitempty" yaml:"-"`
}

// PerformanceResult aggregates the per-strategy performance scores. Strategies
// that failed are listed in Errors and absent from Reports.
type PerformanceResult struct {
	Reports map[string]StrategyReport `json:"reports,omitempty" yaml:"reports,omitempty"`
	Errors  map[string]string         `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Report is the persisted, immutable outcome of one completed audit.
type Report struct {
	ID              string                `json:"id" yaml:"id"`
	URL             string                `json:"url" yaml:"url"`
	Headers         http.Header           `json:"headers" yaml:"headers"`
	HTTPStatus      int                   `json:"status" yaml:"status"`
	BodySize        int64                 `json:"size" yaml:"size"`
	FetchDurationMs int64                 `json:"duration" yaml:"duration"`
	FetchedAt       time.Time             `json:"fetched_at" yaml:"fetched_at"`
	Results         map[string]RuleResult `json:"results" yaml:"results"`
	Performance     *PerformanceResult    `json:"psi,omitempty" yaml:"psi,omitempty"`
	FaviconBase64   *string               `json:"favicon,omitempty" yaml:"favicon,omitempty"`
	Screenshots     map[string]string     `json:"screenshots,omitempty" yaml:"screenshots,omitempty"`
	CreatedAt       time.Time             `json:"created_at" yaml:"created_at"`
}

// NewReport builds the base of a Report from an audit Result. Enrichment
// fields are left empty for the caller to fill.
func NewReport(id string, result Result, createdAt time.Time) Report {
	return Report{
		ID:              id,
		URL:             result.URL,
		Headers:         result.Headers,
		HTTPStatus:      result.Status,
		BodySize:        result.Size,
		FetchDurationMs: result.Duration.Milliseconds(),
		FetchedAt:       result.FetchedAt,
		Results:         result.Results,
		CreatedAt:       createdAt,
	}
}

// JobStatus represents the lifecycle state of an audit job.
type JobStatus string

// Job status values. Succeeded and failed are terminal.
const (
	JobStatusCreated   JobStatus = "created"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Job tracks the asynchronous execution of one audit.
type Job struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Status     JobStatus  `json:"status"`
	ReportID   string     `json:"report_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// DeviceProfile is a named viewport/user-agent configuration used for screenshots.
type DeviceProfile struct {
	Name              string  `mapstructure:"name"`
	UserAgent         string  `mapstructure:"user_agent"`
	Width             int64   `mapstructure:"width"`
	Height            int64   `mapstructure:"height"`
	DeviceScaleFactor float64 `mapstructure:"device_scale_factor"`
	Mobile            bool    `mapstructure:"mobile"`
	Touch             bool    `mapstructure:"touch"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Size       int64
	Duration   time.Duration
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	URL       string
	Attempt   int
	Submitted int64
}
