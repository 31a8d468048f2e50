// Package worker implements the audit pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/webaudit/internal/audit"
	"github.com/JakeFAU/webaudit/internal/metrics"
	"github.com/JakeFAU/webaudit/internal/rules"
)

// Auditor runs the base audit of a page.
type Auditor interface {
	Audit(ctx context.Context, url string) (audit.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	Devices []audit.DeviceProfile
	Topic   string
	// Retry bounds the terminal job write. Zero MaxAttempts uses the default.
	Retry RetryPolicy
}

// Deps bundles the collaborators a Worker needs. Enrichers, Publisher,
// Notifier and Metrics are optional.
type Deps struct {
	Queue       audit.Queue
	Auditor     Auditor
	Reports     audit.ReportStore
	Jobs        audit.JobStore
	Screenshots audit.ScreenshotCapturer
	Favicons    audit.FaviconResolver
	Performance audit.PerformanceClient
	Publisher   audit.Publisher
	Notifier    audit.CompletionNotifier
	IDs         audit.IDGenerator
	Clock       audit.Clock
	Metrics     *metrics.Metrics
}

// Worker consumes queue items and executes the audit pipeline.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// Event is published once a job reaches its terminal state.
type Event struct {
	JobID      string          `json:"job_id"`
	URL        string          `json:"url"`
	Status     audit.JobStatus `json:"status"`
	ReportID   string          `json:"report_id,omitempty"`
	Error      string          `json:"error,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Attributes are attached to the published message.
func (e Event) Attributes() map[string]string {
	return map[string]string{
		"event":  "audit.job.completed",
		"job_id": e.JobID,
		"status": string(e.Status),
	}
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Devices == nil {
		cfg.Devices = audit.DefaultDevices()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.String("url", item.URL))
		w.Process(ctx, item)
	}
}

// Process executes one job to its terminal state. It never returns an error:
// failures are recorded on the job. The notifier hears about the job on every
// exit path, so its URL never stays reserved by a worker that gave up.
func (w *Worker) Process(ctx context.Context, item audit.QueueItem) {
	w.deps.Metrics.IncActiveWorkers()
	defer w.deps.Metrics.DecActiveWorkers()

	notified := false
	notify := func(job audit.Job) {
		if notified || w.deps.Notifier == nil {
			return
		}
		notified = true
		w.deps.Notifier.JobCompleted(job)
	}
	defer notify(audit.Job{ID: item.JobID, URL: item.URL, Status: audit.JobStatusCreated})

	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("url", item.URL))

	reportID, err := w.execute(ctx, item.URL, logger)
	status := audit.JobStatusSucceeded
	errText := ""
	if err != nil {
		status = audit.JobStatusFailed
		errText = err.Error()
		logger.Error("audit job failed", zap.Error(err))
	}

	// The terminal write must land even when the dispatcher is shutting down.
	job, err := w.complete(context.WithoutCancel(ctx), item.JobID, status, reportID, errText, logger)
	if err != nil {
		if errors.Is(err, audit.ErrJobTerminal) {
			logger.Warn("job already terminal", zap.Error(err))
			return
		}
		logger.Error("complete job failed, job left in created state", zap.Error(err))
		return
	}
	w.deps.Metrics.ObserveJob(string(job.Status))
	logger.Info("audit job finished", zap.String("status", string(job.Status)), zap.String("report_id", job.ReportID))

	notify(job)
	w.publish(context.WithoutCancel(ctx), job, logger)
}

// complete writes the terminal status, retrying transient store failures.
func (w *Worker) complete(
	ctx context.Context,
	id string,
	status audit.JobStatus,
	reportID string,
	errText string,
	logger *zap.Logger,
) (audit.Job, error) {
	for attempt := 1; ; attempt++ {
		job, err := w.deps.Jobs.CompleteJob(ctx, id, status, reportID, errText)
		if !w.cfg.Retry.ShouldRetry(err, attempt) {
			return job, err
		}
		delay := w.cfg.Retry.Backoff(attempt - 1)
		logger.Warn("complete job failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return job, err
		}
	}
}

func (w *Worker) execute(ctx context.Context, url string, logger *zap.Logger) (string, error) {
	report, err := w.Build(ctx, url)
	if err != nil {
		return "", err
	}
	id, err := w.deps.IDs.NewID()
	if err != nil {
		return "", &audit.StoreError{Op: "generate report id", Err: err}
	}
	report.ID = id
	report.CreatedAt = w.deps.Clock.Now().UTC()
	return w.persist(ctx, report, logger)
}

// Build runs the base audit and every configured enricher without persisting
// anything. Only a fetch failure is returned as an error.
func (w *Worker) Build(ctx context.Context, url string) (audit.Report, error) {
	result, err := w.deps.Auditor.Audit(ctx, url)
	if err != nil {
		return audit.Report{}, err
	}
	report := audit.NewReport("", result, time.Time{})
	w.enrich(ctx, &report)
	return report, nil
}

func (w *Worker) enrich(ctx context.Context, report *audit.Report) {
	var (
		favicon     *string
		performance *audit.PerformanceResult
		screenshots map[string]string
	)

	g, gctx := errgroup.WithContext(ctx)
	if w.deps.Favicons != nil {
		icons := rules.FaviconIcons(report.Results[rules.NameFavicon])
		if len(icons) > 0 {
			g.Go(func() error {
				encoded, err := w.deps.Favicons.Resolve(gctx, report.URL, icons)
				if err != nil {
					w.enrichmentFailed(report.URL, "favicon", err)
					return nil
				}
				favicon = &encoded
				return nil
			})
		}
	}
	if w.deps.Performance != nil {
		g.Go(func() error {
			performance = w.deps.Performance.Run(gctx, report.URL)
			return nil
		})
	}
	if w.deps.Screenshots != nil && len(w.cfg.Devices) > 0 {
		g.Go(func() error {
			screenshots = w.deps.Screenshots.Capture(gctx, report.URL, w.cfg.Devices)
			return nil
		})
	}
	// Enrichers report failures through absence, so Wait only joins.
	_ = g.Wait()

	report.FaviconBase64 = favicon
	report.Performance = performance
	if len(screenshots) > 0 {
		report.Screenshots = screenshots
	}
}

func (w *Worker) enrichmentFailed(url, enricher string, err error) {
	w.deps.Metrics.ObserveEnricherFailure(enricher)
	w.logger.Warn("enrichment failed",
		zap.String("url", url),
		zap.String("enricher", enricher),
		zap.Error(&audit.EnrichmentError{Enricher: enricher, Err: err}),
	)
}

func (w *Worker) persist(ctx context.Context, report audit.Report, logger *zap.Logger) (string, error) {
	stored, err := w.deps.Reports.CreateReport(ctx, report)
	if err == nil {
		return stored.ID, nil
	}
	if !errors.Is(err, audit.ErrDuplicateURL) {
		return "", &audit.StoreError{Op: "create report", Err: err}
	}
	existing, lookupErr := w.deps.Reports.FindReportByURL(ctx, report.URL)
	if lookupErr != nil {
		return "", &audit.StoreError{Op: "find existing report", Err: lookupErr}
	}
	logger.Info("report already existed for url", zap.String("report_id", existing.ID))
	return existing.ID, nil
}

func (w *Worker) publish(ctx context.Context, job audit.Job, logger *zap.Logger) {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	event := Event{
		JobID:    job.ID,
		URL:      job.URL,
		Status:   job.Status,
		ReportID: job.ReportID,
		Error:    job.Error,
	}
	if job.FinishedAt != nil {
		event.FinishedAt = *job.FinishedAt
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		logger.Warn("publish completion event failed", zap.Error(fmt.Errorf("publish: %w", err)))
	}
}
