package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/webaudit/internal/audit"
)

const jobColumns = `id, url, status, report_id, error, created_at, finished_at`

// CreateJob inserts a job in created status.
func (s *Store) CreateJob(ctx context.Context, job audit.Job) error {
	if job.Status == "" {
		job.Status = audit.JobStatusCreated
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, url, status, created_at)
VALUES ($1, $2, $3, $4)`, s.jobs)
	if _, err := s.pool.Exec(ctx, query, job.ID, job.URL, string(job.Status), job.CreatedAt); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (audit.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.jobs)
	job, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.Job{}, audit.ErrNotFound
	}
	if err != nil {
		return audit.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// CompleteJob moves a created job to a terminal status. The status guard in
// the WHERE clause makes the transition happen at most once.
func (s *Store) CompleteJob(
	ctx context.Context,
	id string,
	status audit.JobStatus,
	reportID string,
	errText string,
) (audit.Job, error) {
	if !status.Terminal() {
		return audit.Job{}, fmt.Errorf("status %q is not terminal", status)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $2, report_id = NULLIF($3::text, ''), error = NULLIF($4::text, ''), finished_at = $5
WHERE id = $1 AND status = $6
RETURNING %s`, s.jobs, jobColumns)

	job, err := scanJob(s.pool.QueryRow(ctx, query,
		id, string(status), reportID, errText, s.now(), string(audit.JobStatusCreated)))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return audit.Job{}, fmt.Errorf("complete job: %w", err)
	}
	existing, getErr := s.GetJob(ctx, id)
	if getErr != nil {
		return audit.Job{}, getErr
	}
	return existing, audit.ErrJobTerminal
}

// ListJobs returns the jobs in status, oldest first.
func (s *Store) ListJobs(ctx context.Context, status audit.JobStatus) ([]audit.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = $1 ORDER BY created_at, id`, jobColumns, s.jobs)
	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []audit.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (audit.Job, error) {
	var (
		job        audit.Job
		status     string
		reportID   *string
		errText    *string
		finishedAt *time.Time
	)
	if err := row.Scan(&job.ID, &job.URL, &status, &reportID, &errText, &job.CreatedAt, &finishedAt); err != nil {
		return audit.Job{}, err
	}
	job.Status = audit.JobStatus(status)
	if reportID != nil {
		job.ReportID = *reportID
	}
	if errText != nil {
		job.Error = *errText
	}
	job.FinishedAt = finishedAt
	return job, nil
}
