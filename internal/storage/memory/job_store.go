package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/webaudit/internal/audit"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]audit.Job
	now  func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]audit.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job in created status.
func (s *JobStore) CreateJob(_ context.Context, job audit.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = audit.JobStatusCreated
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, id string) (audit.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return audit.Job{}, audit.ErrNotFound
	}
	return job, nil
}

// CompleteJob performs the single terminal transition of a job.
func (s *JobStore) CompleteJob(
	_ context.Context,
	id string,
	status audit.JobStatus,
	reportID string,
	errText string,
) (audit.Job, error) {
	if !status.Terminal() {
		return audit.Job{}, fmt.Errorf("status %q is not terminal", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return audit.Job{}, audit.ErrNotFound
	}
	if job.Status.Terminal() {
		return job, audit.ErrJobTerminal
	}
	finished := s.now()
	job.Status = status
	job.ReportID = reportID
	job.Error = errText
	job.FinishedAt = &finished
	s.jobs[id] = job
	return job, nil
}

// ListJobs returns the jobs in status ordered by creation time.
func (s *JobStore) ListJobs(_ context.Context, status audit.JobStatus) ([]audit.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Job
	for _, job := range s.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
