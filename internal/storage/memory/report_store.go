package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/webaudit/internal/audit"
)

// ReportStore keeps reports in memory with a unique URL index.
type ReportStore struct {
	mu    sync.RWMutex
	byID  map[string][]byte
	byURL map[string]string
}

// NewReportStore constructs a ReportStore.
func NewReportStore() *ReportStore {
	return &ReportStore{
		byID:  make(map[string][]byte),
		byURL: make(map[string]string),
	}
}

// CreateReport persists report unless one already exists for its URL.
// Reports are stored encoded so callers can never mutate a stored report.
func (s *ReportStore) CreateReport(_ context.Context, report audit.Report) (audit.Report, error) {
	encoded, err := json.Marshal(report)
	if err != nil {
		return audit.Report{}, fmt.Errorf("encode report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byURL[report.URL]; exists {
		return audit.Report{}, audit.ErrDuplicateURL
	}
	if _, exists := s.byID[report.ID]; exists {
		return audit.Report{}, fmt.Errorf("report %s already exists", report.ID)
	}
	s.byID[report.ID] = encoded
	s.byURL[report.URL] = report.ID
	return decodeReport(encoded)
}

// GetReport fetches a report by ID.
func (s *ReportStore) GetReport(_ context.Context, id string) (audit.Report, error) {
	s.mu.RLock()
	encoded, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return audit.Report{}, audit.ErrNotFound
	}
	return decodeReport(encoded)
}

// FindReportByURL fetches the report for a normalized URL.
func (s *ReportStore) FindReportByURL(ctx context.Context, url string) (audit.Report, error) {
	s.mu.RLock()
	id, ok := s.byURL[url]
	s.mu.RUnlock()
	if !ok {
		return audit.Report{}, audit.ErrNotFound
	}
	return s.GetReport(ctx, id)
}

func decodeReport(encoded []byte) (audit.Report, error) {
	var report audit.Report
	if err := json.Unmarshal(encoded, &report); err != nil {
		return audit.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}
