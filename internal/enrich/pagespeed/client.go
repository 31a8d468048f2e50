// Package pagespeed queries Google PageSpeed Insights for performance scores.
package pagespeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	pagespeedonline "google.golang.org/api/pagespeedonline/v5"

	"github.com/JakeFAU/webaudit/internal/audit"
	"github.com/JakeFAU/webaudit/internal/metrics"
)

// Strategies understood by the PageSpeed API.
const (
	StrategyMobile  = "mobile"
	StrategyDesktop = "desktop"
)

// Config controls the PageSpeed client.
type Config struct {
	APIKey     string
	Strategies []string
	Locale     string
	// QPS bounds outgoing calls. Zero disables limiting.
	QPS     float64
	Timeout time.Duration
}

// Client runs PageSpeed Insights once per configured strategy.
type Client struct {
	svc     *pagespeedonline.Service
	cfg     Config
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New builds a Client. Extra client options (endpoint, HTTP client) are
// appended after the API key.
func New(ctx context.Context, cfg Config, m *metrics.Metrics, logger *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = []string{StrategyMobile, StrategyDesktop}
	}
	for _, s := range cfg.Strategies {
		if s != StrategyMobile && s != StrategyDesktop {
			return nil, fmt.Errorf("unknown pagespeed strategy %q", s)
		}
	}
	if cfg.Locale == "" {
		cfg.Locale = "de_DE"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOpts := make([]option.ClientOption, 0, len(opts)+1)
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	clientOpts = append(clientOpts, opts...)
	svc, err := pagespeedonline.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create pagespeed service: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), 1)
	}
	return &Client{svc: svc, cfg: cfg, limiter: limiter, metrics: m, logger: logger}, nil
}

// Run queries every strategy. A failing strategy is recorded in Errors and
// never affects the others.
func (c *Client) Run(ctx context.Context, url string) *audit.PerformanceResult {
	result := &audit.PerformanceResult{
		Reports: map[string]audit.StrategyReport{},
		Errors:  map[string]string{},
	}
	var mu sync.Mutex

	var g errgroup.Group
	for _, strategy := range c.cfg.Strategies {
		g.Go(func() error {
			report, err := c.run(ctx, url, strategy)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[strategy] = err.Error()
				c.metrics.ObserveEnricherFailure("pagespeed")
				c.logger.Warn("pagespeed strategy failed",
					zap.String("url", url),
					zap.String("strategy", strategy),
					zap.Error(&audit.EnrichmentError{Enricher: "pagespeed", Err: err}),
				)
				return nil
			}
			result.Reports[strategy] = report
			return nil
		})
	}
	_ = g.Wait()

	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result
}

func (c *Client) run(ctx context.Context, url, strategy string) (audit.StrategyReport, error) {
	if err := c.wait(ctx); err != nil {
		return audit.StrategyReport{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	c.logger.Info("requesting pagespeed report", zap.String("url", url), zap.String("strategy", strategy))
	resp, err := c.svc.Pagespeedapi.Runpagespeed(url).
		Strategy(strategy).
		Locale(c.cfg.Locale).
		Category("performance").
		Context(ctx).
		Do()
	if err != nil {
		return audit.StrategyReport{}, fmt.Errorf("run pagespeed: %w", err)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return audit.StrategyReport{}, fmt.Errorf("encode pagespeed response: %w", err)
	}
	return audit.StrategyReport{Score: performanceScore(resp), Raw: raw}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	c.metrics.ObserveRateLimitDelay(time.Since(start))
	return nil
}

func performanceScore(resp *pagespeedonline.PagespeedApiPagespeedResponseV5) *float64 {
	if resp == nil || resp.LighthouseResult == nil || resp.LighthouseResult.Categories == nil {
		return nil
	}
	perf := resp.LighthouseResult.Categories.Performance
	if perf == nil {
		return nil
	}
	switch v := perf.Score.(type) {
	case float64:
		return &v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}
