package audit

import (
	"context"
	"io"
	"time"
)

// ReportStore persists reports and enforces URL uniqueness.
type ReportStore interface {
	// CreateReport persists report. It returns ErrDuplicateURL when a report
	// for the same URL already exists.
	CreateReport(ctx context.Context, report Report) (Report, error)
	GetReport(ctx context.Context, id string) (Report, error)
	FindReportByURL(ctx context.Context, url string) (Report, error)
}

// JobStore persists job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id string) (Job, error)
	// CompleteJob moves a created job to a terminal status. It returns
	// ErrJobTerminal if the job already left the created state.
	CompleteJob(ctx context.Context, id string, status JobStatus, reportID, errText string) (Job, error)
	// ListJobs returns the jobs in status, oldest first.
	ListJobs(ctx context.Context, status JobStatus) ([]Job, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Queue provides enqueue/dequeue semantics for audit jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// ScreenshotCapturer renders a page once and captures one image per device.
// Devices whose capture failed are absent from the returned map.
type ScreenshotCapturer interface {
	Capture(ctx context.Context, url string, devices []DeviceProfile) map[string]string
}

// FaviconResolver downloads the preferred icon and returns it base64 encoded.
type FaviconResolver interface {
	Resolve(ctx context.Context, pageURL string, icons []Icon) (string, error)
}

// PerformanceClient queries an external performance scoring service.
type PerformanceClient interface {
	Run(ctx context.Context, url string) *PerformanceResult
}

// CompletionNotifier is told when a job reached its terminal state.
type CompletionNotifier interface {
	JobCompleted(job Job)
}

// Hasher computes digests for deterministic artifact paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and report IDs.
type IDGenerator interface {
	NewID() (string, error)
}
