// Package sqlite provides an embedded, single-file report and job store for
// deployments without a Postgres server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/webaudit/internal/audit"
)

// Options configures Store behavior.
type Options struct {
	// EnableWAL enables Write-Ahead Logging for better concurrent reads.
	EnableWAL bool
}

// Store implements audit.ReportStore and audit.JobStore on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database file at path.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; this also serializes report creation per URL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := s.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		status TEXT NOT NULL,
		report_id TEXT,
		error TEXT,
		created_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_url ON jobs(url);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return nil
}

// CreateReport inserts report unless one exists for its URL.
func (s *Store) CreateReport(ctx context.Context, report audit.Report) (audit.Report, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return audit.Report{}, fmt.Errorf("marshal report: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, url, data, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(url) DO NOTHING`,
		report.ID, report.URL, string(data), formatTime(report.CreatedAt))
	if err != nil {
		return audit.Report{}, fmt.Errorf("insert report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return audit.Report{}, fmt.Errorf("insert report: %w", err)
	}
	if n == 0 {
		return audit.Report{}, audit.ErrDuplicateURL
	}
	return report, nil
}

// GetReport fetches a report by ID.
func (s *Store) GetReport(ctx context.Context, id string) (audit.Report, error) {
	return s.scanReport(s.db.QueryRowContext(ctx, `SELECT data FROM reports WHERE id = ?`, id))
}

// FindReportByURL fetches the report for a normalized URL.
func (s *Store) FindReportByURL(ctx context.Context, url string) (audit.Report, error) {
	return s.scanReport(s.db.QueryRowContext(ctx, `SELECT data FROM reports WHERE url = ?`, url))
}

func (s *Store) scanReport(row *sql.Row) (audit.Report, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Report{}, audit.ErrNotFound
		}
		return audit.Report{}, fmt.Errorf("select report: %w", err)
	}
	var report audit.Report
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return audit.Report{}, fmt.Errorf("unmarshal report: %w", err)
	}
	return report, nil
}

// CreateJob inserts a job in created status.
func (s *Store) CreateJob(ctx context.Context, job audit.Job) error {
	if job.Status == "" {
		job.Status = audit.JobStatusCreated
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, url, status, created_at) VALUES (?, ?, ?, ?)`,
		job.ID, job.URL, string(job.Status), formatTime(job.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (audit.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Job{}, audit.ErrNotFound
		}
		return audit.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ListJobs returns the jobs in status, oldest first.
func (s *Store) ListJobs(ctx context.Context, status audit.JobStatus) ([]audit.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at, id`, string(status))
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

const jobColumns = `id, url, status, report_id, error, created_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (audit.Job, error) {
	var (
		job        audit.Job
		status     string
		reportID   sql.NullString
		errText    sql.NullString
		createdAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&job.ID, &job.URL, &status, &reportID, &errText, &createdAt, &finishedAt); err != nil {
		return audit.Job{}, err
	}
	job.Status = audit.JobStatus(status)
	job.ReportID = reportID.String
	job.Error = errText.String
	var err error
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return audit.Job{}, err
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return audit.Job{}, err
		}
		job.FinishedAt = &t
	}
	return job, nil
}

// CompleteJob moves a created job to a terminal status exactly once.
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, report_id = NULLIF(?, ''), error = NULLIF(?, ''), finished_at = ?
		WHERE id = ? AND status = ?`,
		string(status), reportID, errText, formatTime(s.now()), id, string(audit.JobStatusCreated))
	if err != nil {
		return audit.Job{}, fmt.Errorf("complete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return audit.Job{}, fmt.Errorf("complete job: %w", err)
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return audit.Job{}, err
	}
	if n == 0 {
		return job, audit.ErrJobTerminal
	}
	return job, nil
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
