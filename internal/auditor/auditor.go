// Package auditor runs the base audit of a page: one fetch, then every rule
// in the catalog against the fetched body.
package auditor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webaudit/internal/audit"
	"github.com/JakeFAU/webaudit/internal/metrics"
	"github.com/JakeFAU/webaudit/internal/rules"
)

// Auditor fetches a page once and evaluates the rule catalog against it.
type Auditor struct {
	fetcher      audit.Fetcher
	catalog      *rules.Catalog
	clock        audit.Clock
	metrics      *metrics.Metrics
	logger       *zap.Logger
	fetchTimeout time.Duration
}

// Option customizes an Auditor.
type Option func(*Auditor)

// WithCatalog replaces the default rule catalog.
func WithCatalog(c *rules.Catalog) Option {
	return func(a *Auditor) { a.catalog = c }
}

// WithFetchTimeout bounds the primary fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(a *Auditor) {
		if d > 0 {
			a.fetchTimeout = d
		}
	}
}

// WithMetrics records fetch and rule metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Auditor) { a.metrics = m }
}

// New constructs an Auditor.
func New(fetcher audit.Fetcher, clock audit.Clock, logger *zap.Logger, opts ...Option) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Auditor{
		fetcher:      fetcher,
		catalog:      rules.Default(),
		clock:        clock,
		logger:       logger,
		fetchTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Audit fetches url exactly once and runs every rule once on the body. It
// fails only when the fetch fails, with an *audit.FetchError.
func (a *Auditor) Audit(ctx context.Context, url string) (audit.Result, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer cancel()

	fetchedAt := a.clock.Now().UTC()
	resp, err := a.fetcher.Fetch(fetchCtx, audit.FetchRequest{URL: url})
	if err != nil {
		a.metrics.ObserveFetch(url, "error", 0, 0)
		return audit.Result{}, &audit.FetchError{URL: url, Err: err}
	}
	a.metrics.ObserveFetch(url, "ok", resp.Size, resp.Duration)

	doc, err := rules.Parse(resp.Body)
	if err != nil {
		// The HTML parser accepts any input; this only fails on reader errors.
		return audit.Result{}, &audit.FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}

	results := a.catalog.EvaluateAll(doc)
	a.observe(url, results)

	finalURL := resp.URL
	if finalURL == "" {
		finalURL = url
	}
	return audit.Result{
		URL:       url,
		FinalURL:  finalURL,
		Headers:   resp.Headers,
		Status:    resp.StatusCode,
		Duration:  resp.Duration,
		Size:      resp.Size,
		FetchedAt: fetchedAt,
		Results:   results,
	}, nil
}

func (a *Auditor) observe(url string, results map[string]audit.RuleResult) {
	for name, res := range results {
		if rules.Failed(res) {
			a.metrics.ObserveRuleError(name)
			a.logger.Warn("rule evaluation failed",
				zap.String("url", url),
				zap.String("rule", name),
				zap.Any("error", res.Findings[0].Actual["error"]),
			)
			continue
		}
		for _, f := range res.Findings {
			a.metrics.ObserveFinding(name, string(f.Status))
		}
	}
}

// IsFetchError reports whether err came from the primary fetch.
func IsFetchError(err error) bool {
	var fe *audit.FetchError
	return errors.As(err, &fe)
}
