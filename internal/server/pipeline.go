package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webaudit/internal/audit"
	"github.com/JakeFAU/webaudit/internal/auditor"
	"github.com/JakeFAU/webaudit/internal/clock/system"
	"github.com/JakeFAU/webaudit/internal/config"
	"github.com/JakeFAU/webaudit/internal/enrich/favicon"
	"github.com/JakeFAU/webaudit/internal/enrich/pagespeed"
	collyfetcher "github.com/JakeFAU/webaudit/internal/fetcher/colly"
	"github.com/JakeFAU/webaudit/internal/hash/sha256"
	"github.com/JakeFAU/webaudit/internal/metrics"
	"github.com/JakeFAU/webaudit/internal/policy/ratelimit"
	"github.com/JakeFAU/webaudit/internal/rules"
	"github.com/JakeFAU/webaudit/internal/screenshot"
	"github.com/JakeFAU/webaudit/internal/worker"
)

// PipelineDeps are the collaborators shared between the server and the CLI.
type PipelineDeps struct {
	Blobs   audit.BlobStore
	Metrics *metrics.Metrics
	// Catalog restricts the rules; nil runs the default catalog.
	Catalog *rules.Catalog
	// DisableEnrichers skips screenshots, favicon and performance.
	DisableEnrichers bool
}

// Pipeline holds the fetch, rule and enrichment stages of an audit.
type Pipeline struct {
	cfg         *config.Config
	metrics     *metrics.Metrics
	auditor     *auditor.Auditor
	screenshots audit.ScreenshotCapturer
	favicons    audit.FaviconResolver
	performance audit.PerformanceClient
	browser     *screenshot.Browser
}

// NewPipeline builds the audit stages described by cfg.
func NewPipeline(ctx context.Context, cfg *config.Config, deps PipelineDeps, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fetchTimeout := cfg.FetchTimeout()
	var fetcher audit.Fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Audit.UserAgent,
		Timeout:   fetchTimeout,
	})
	if cfg.Audit.HostRPS > 0 {
		fetcher = ratelimit.Wrap(fetcher, ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Audit.HostRPS,
			DefaultBurst: cfg.Audit.HostBurst,
		}, deps.Metrics))
	}

	opts := []auditor.Option{
		auditor.WithFetchTimeout(fetchTimeout),
		auditor.WithMetrics(deps.Metrics),
	}
	if deps.Catalog != nil {
		opts = append(opts, auditor.WithCatalog(deps.Catalog))
	}
	p := &Pipeline{
		cfg:     cfg,
		metrics: deps.Metrics,
		auditor: auditor.New(fetcher, system.New(), logger.Named("auditor"), opts...),
	}
	if deps.DisableEnrichers {
		return p, nil
	}

	p.favicons = favicon.New(fetcher, fetchTimeout)

	if cfg.Headless.Enabled {
		p.browser = screenshot.NewBrowser(screenshot.BrowserConfig{
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			IdleTimeout:       time.Duration(cfg.Headless.IdleTimeoutMs) * time.Millisecond,
			Quality:           int64(cfg.Audit.ScreenshotQuality),
		})
		capturer, err := screenshot.NewCapturer(
			screenshot.Config{MaxParallel: cfg.Headless.MaxParallel},
			p.browser,
			deps.Blobs,
			sha256.New(),
			deps.Metrics,
			logger.Named("screenshot"),
		)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("screenshot capturer init failed: %w", err)
		}
		p.screenshots = capturer
		logger.Info("headless screenshots enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	} else {
		p.screenshots = screenshot.NewNoop()
	}

	if cfg.Performance.Enabled {
		client, err := pagespeed.New(ctx, pagespeed.Config{
			APIKey:     cfg.Performance.APIKey,
			Strategies: cfg.Performance.Strategies,
			Locale:     cfg.Performance.Locale,
			QPS:        cfg.Performance.QPS,
			Timeout:    time.Duration(cfg.Performance.TimeoutSeconds) * time.Second,
		}, deps.Metrics, logger.Named("pagespeed"))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("pagespeed client init failed: %w", err)
		}
		p.performance = client
		logger.Info("pagespeed enrichment enabled", zap.Strings("strategies", cfg.Performance.Strategies))
	}
	return p, nil
}

// Worker returns a queue consumer running this pipeline. deps supplies the
// persistence side; the audit stages are filled in here.
func (p *Pipeline) Worker(deps worker.Deps, topic string, logger *zap.Logger) *worker.Worker {
	deps.Auditor = p.auditor
	deps.Screenshots = p.screenshots
	deps.Favicons = p.favicons
	deps.Performance = p.performance
	deps.Metrics = p.metrics
	return worker.New(deps, worker.Config{Devices: p.cfg.Audit.Devices, Topic: topic}, logger)
}

// Audit runs the pipeline once for url without persisting anything.
func (p *Pipeline) Audit(ctx context.Context, url string, logger *zap.Logger) (audit.Report, error) {
	return p.Worker(worker.Deps{}, "", logger).Build(ctx, url)
}

// Close stops the headless browser, if one was started.
func (p *Pipeline) Close() {
	if p.browser != nil {
		p.browser.Close()
	}
}
