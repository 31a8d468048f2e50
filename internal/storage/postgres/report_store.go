package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/webaudit/internal/audit"
)

// CreateReport inserts report. The UNIQUE(url) constraint makes concurrent
// inserts for one URL race safely: losers get audit.ErrDuplicateURL.
func (s *Store) CreateReport(ctx context.Context, report audit.Report) (audit.Report, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return audit.Report{}, fmt.Errorf("marshal report: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, url, data, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (url) DO NOTHING
RETURNING id`, s.reports)

	var id string
	err = s.pool.QueryRow(ctx, query, report.ID, report.URL, data, report.CreatedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.Report{}, audit.ErrDuplicateURL
	}
	if err != nil {
		return audit.Report{}, fmt.Errorf("insert report: %w", err)
	}
	return report, nil
}

// GetReport fetches a report by ID.
func (s *Store) GetReport(ctx context.Context, id string) (audit.Report, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, s.reports)
	return s.scanReport(s.pool.QueryRow(ctx, query, id))
}

// FindReportByURL fetches the report for a normalized URL.
func (s *Store) FindReportByURL(ctx context.Context, url string) (audit.Report, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE url = $1`, s.reports)
	return s.scanReport(s.pool.QueryRow(ctx, query, url))
}

func (s *Store) scanReport(row pgx.Row) (audit.Report, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Report{}, audit.ErrNotFound
		}
		return audit.Report{}, fmt.Errorf("select report: %w", err)
	}
	var report audit.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return audit.Report{}, fmt.Errorf("unmarshal report: %w", err)
	}
	return report, nil
}
