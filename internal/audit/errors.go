package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateURL is returned when a report for the URL already exists.
	ErrDuplicateURL = errors.New("report already exists for url")
	// ErrJobTerminal is returned when completing a job that already finished.
	ErrJobTerminal = errors.New("job already in terminal state")
	// ErrInvalidURL is returned for URLs that cannot be audited.
	ErrInvalidURL = errors.New("invalid url")
	// ErrBlockedHost is returned for URLs whose host is excluded by configuration.
	ErrBlockedHost = errors.New("host is blocked")
)

// FetchError reports a failure of the primary page fetch. It is fatal to the job.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RuleEvaluationError reports a failure inside a single rule.
type RuleEvaluationError struct {
	Rule string
	Err  error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// EnrichmentError reports a failed best-effort enricher (favicon,
// performance, or one device's screenshot).
type EnrichmentError struct {
	Enricher string
	Err      error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enricher %s: %v", e.Enricher, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// StoreError reports a persistence failure. It is fatal to the job.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
