// Package service is the entry point for audit submissions. It answers from
// the report cache when it can and otherwise schedules exactly one job per URL.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/webaudit/internal/audit"
	"github.com/JakeFAU/webaudit/internal/metrics"
)

// submitTimeout bounds the shared store and queue work of one submission.
const submitTimeout = 30 * time.Second

// Enqueuer accepts jobs for background execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, item audit.QueueItem) error
}

// Submission is the outcome of Submit. Exactly one of ReportID and JobID is set.
type Submission struct {
	URL      string
	ReportID string
	JobID    string
}

// Cached reports whether the submission was answered from an existing report.
func (s Submission) Cached() bool {
	return s.ReportID != ""
}

// HostPolicy rejects hosts that must never be audited.
type HostPolicy interface {
	IsBlocked(host string) bool
}

// Deps bundles the Service collaborators. Hosts and Metrics are optional.
type Deps struct {
	Reports audit.ReportStore
	Jobs    audit.JobStore
	Queue   Enqueuer
	IDs     audit.IDGenerator
	Clock   audit.Clock
	Hosts   HostPolicy
	Metrics *metrics.Metrics
}

// Service coordinates the report cache and job scheduling.
type Service struct {
	deps   Deps
	logger *zap.Logger

	group singleflight.Group

	mu       sync.Mutex
	inflight map[string]string
	done     map[string]chan struct{}
}

// New constructs a Service.
func New(deps Deps, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		deps:     deps,
		logger:   logger,
		inflight: make(map[string]string),
		done:     make(map[string]chan struct{}),
	}
}

// Submit returns the cached report for rawURL or the job that will produce it.
// Concurrent submissions of one URL share a single job.
func (s *Service) Submit(ctx context.Context, rawURL string) (Submission, error) {
	url, err := audit.NormalizeURL(rawURL)
	if err != nil {
		return Submission{}, err
	}
	if s.deps.Hosts != nil {
		if host := audit.Hostname(url); s.deps.Hosts.IsBlocked(host) {
			s.deps.Metrics.ObserveSubmission("blocked")
			return Submission{}, fmt.Errorf("%w: %s", audit.ErrBlockedHost, host)
		}
	}
	// The flight outlives any single caller, so it must not inherit one
	// caller's cancellation.
	ch := s.group.DoChan(url, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
		defer cancel()
		return s.submit(flightCtx, url)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Submission{}, res.Err
		}
		return res.Val.(Submission), nil
	case <-ctx.Done():
		return Submission{}, fmt.Errorf("submit %s: %w", url, ctx.Err())
	}
}

func (s *Service) submit(ctx context.Context, url string) (Submission, error) {
	if jobID, ok := s.inflightJob(url); ok {
		s.deps.Metrics.ObserveSubmission("inflight")
		return Submission{URL: url, JobID: jobID}, nil
	}

	report, err := s.deps.Reports.FindReportByURL(ctx, url)
	switch {
	case err == nil:
		s.deps.Metrics.ObserveSubmission("hit")
		return Submission{URL: url, ReportID: report.ID}, nil
	case !errors.Is(err, audit.ErrNotFound):
		return Submission{}, &audit.StoreError{Op: "find report", Err: err}
	}

	jobID, err := s.deps.IDs.NewID()
	if err != nil {
		return Submission{}, fmt.Errorf("generate job id: %w", err)
	}
	job := audit.Job{
		ID:        jobID,
		URL:       url,
		Status:    audit.JobStatusCreated,
		CreatedAt: s.deps.Clock.Now().UTC(),
	}
	if err := s.deps.Jobs.CreateJob(ctx, job); err != nil {
		return Submission{}, &audit.StoreError{Op: "create job", Err: err}
	}
	s.track(job)

	if err := s.deps.Queue.Enqueue(ctx, audit.QueueItem{
		JobID:     job.ID,
		URL:       url,
		Submitted: job.CreatedAt.Unix(),
	}); err != nil {
		s.abandon(job, err)
		return Submission{}, fmt.Errorf("schedule audit: %w", err)
	}

	s.deps.Metrics.ObserveSubmission("miss")
	s.logger.Info("audit job scheduled", zap.String("job_id", job.ID), zap.String("url", url))
	return Submission{URL: url, JobID: job.ID}, nil
}

// abandon fails a job that never reached the queue.
func (s *Service) abandon(job audit.Job, cause error) {
	completed, err := s.deps.Jobs.CompleteJob(context.Background(), job.ID, audit.JobStatusFailed, "", cause.Error())
	if err != nil {
		s.logger.Error("fail unscheduled job", zap.String("job_id", job.ID), zap.Error(err))
		completed = job
		completed.Status = audit.JobStatusFailed
	}
	s.JobCompleted(completed)
}

// Resume schedules the jobs a previous process left in created state and
// returns how many it queued. A job whose report already exists is completed
// without running again, and a second job for a URL is failed. It must run
// before Submit is first called.
func (s *Service) Resume(ctx context.Context) (int, error) {
	jobs, err := s.deps.Jobs.ListJobs(ctx, audit.JobStatusCreated)
	if err != nil {
		return 0, &audit.StoreError{Op: "list created jobs", Err: err}
	}
	resumed := 0
	for _, job := range jobs {
		if _, ok := s.inflightJob(job.URL); ok {
			s.settle(ctx, job, audit.JobStatusFailed, "", "superseded by another job for the same url")
			continue
		}
		report, err := s.deps.Reports.FindReportByURL(ctx, job.URL)
		switch {
		case err == nil:
			s.settle(ctx, job, audit.JobStatusSucceeded, report.ID, "")
			continue
		case !errors.Is(err, audit.ErrNotFound):
			return resumed, &audit.StoreError{Op: "find report", Err: err}
		}

		s.track(job)
		if err := s.deps.Queue.Enqueue(ctx, audit.QueueItem{
			JobID:     job.ID,
			URL:       job.URL,
			Submitted: job.CreatedAt.Unix(),
		}); err != nil {
			s.abandon(job, fmt.Errorf("interrupted by restart: %w", err))
			return resumed, fmt.Errorf("resume job %s: %w", job.ID, err)
		}
		resumed++
		s.logger.Info("audit job resumed", zap.String("job_id", job.ID), zap.String("url", job.URL))
	}
	return resumed, nil
}

func (s *Service) settle(ctx context.Context, job audit.Job, status audit.JobStatus, reportID, errText string) {
	_, err := s.deps.Jobs.CompleteJob(ctx, job.ID, status, reportID, errText)
	if err != nil && !errors.Is(err, audit.ErrJobTerminal) {
		s.logger.Error("settle recovered job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	s.logger.Info("recovered job settled", zap.String("job_id", job.ID), zap.String("status", string(status)))
}

// Job returns the current state of a job.
func (s *Service) Job(ctx context.Context, id string) (audit.Job, error) {
	job, err := s.deps.Jobs.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			return audit.Job{}, err
		}
		return audit.Job{}, &audit.StoreError{Op: "get job", Err: err}
	}
	return job, nil
}

// Report returns a stored report by ID.
func (s *Service) Report(ctx context.Context, id string) (audit.Report, error) {
	report, err := s.deps.Reports.GetReport(ctx, id)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			return audit.Report{}, err
		}
		return audit.Report{}, &audit.StoreError{Op: "get report", Err: err}
	}
	return report, nil
}

// Wait blocks until the job's worker is done with it or ctx ends, then
// returns its stored state.
func (s *Service) Wait(ctx context.Context, id string) (audit.Job, error) {
	s.mu.Lock()
	ch, tracked := s.done[id]
	s.mu.Unlock()

	if tracked {
		select {
		case <-ch:
		case <-ctx.Done():
			return audit.Job{}, fmt.Errorf("wait for job %s: %w", id, ctx.Err())
		}
	}
	return s.Job(ctx, id)
}

// JobCompleted releases the URL for new submissions and wakes waiters. The
// worker calls it after the terminal status flip, or when it gave up on it.
func (s *Service) JobCompleted(job audit.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[job.URL] == job.ID {
		delete(s.inflight, job.URL)
	}
	if ch, ok := s.done[job.ID]; ok {
		close(ch)
		delete(s.done, job.ID)
	}
}

// Inflight returns the number of jobs not yet completed.
func (s *Service) Inflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *Service) inflightJob(url string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.inflight[url]
	return id, ok
}

func (s *Service) track(job audit.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[job.URL] = job.ID
	s.done[job.ID] = make(chan struct{})
}
