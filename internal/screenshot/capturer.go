// Package screenshot renders a page once in a headless browser and captures
// one JPEG per device profile.
package screenshot

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/webaudit/internal/audit"
	"github.com/JakeFAU/webaudit/internal/metrics"
)

// Session is one browser tab bound to a single audit. Devices are applied to
// the same tab in turn, so a Session is not safe for concurrent use.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Capture(ctx context.Context, device audit.DeviceProfile) ([]byte, error)
	Close()
}

// SessionFactory opens render sessions.
type SessionFactory interface {
	Open(ctx context.Context) (Session, error)
}

// Config controls the capturer.
type Config struct {
	// MaxParallel bounds concurrent render sessions. Zero means unbounded.
	MaxParallel int
}

// Capturer implements audit.ScreenshotCapturer.
type Capturer struct {
	sessions SessionFactory
	blobs    audit.BlobStore
	hasher   audit.Hasher
	metrics  *metrics.Metrics
	logger   *zap.Logger
	limiter  chan struct{}
}

// NewCapturer wires a Capturer.
func NewCapturer(
	cfg Config,
	sessions SessionFactory,
	blobs audit.BlobStore,
	hasher audit.Hasher,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Capturer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Capturer{
		sessions: sessions,
		blobs:    blobs,
		hasher:   hasher,
		metrics:  m,
		logger:   logger,
		limiter:  limiter,
	}, nil
}

// Capture renders url once and stores one screenshot per device. The returned
// map holds the stored URI per device name; failed devices are left out.
func (c *Capturer) Capture(ctx context.Context, url string, devices []audit.DeviceProfile) map[string]string {
	out := make(map[string]string, len(devices))
	if len(devices) == 0 {
		return out
	}
	logger := c.logger.With(zap.String("url", url))

	if err := c.acquire(ctx); err != nil {
		c.failAll(logger, devices, err)
		return out
	}
	defer c.release()

	session, err := c.sessions.Open(ctx)
	if err != nil {
		c.failAll(logger, devices, fmt.Errorf("open session: %w", err))
		return out
	}
	defer session.Close()

	if err := session.Navigate(ctx, url); err != nil {
		c.failAll(logger, devices, fmt.Errorf("navigate: %w", err))
		return out
	}

	for _, device := range devices {
		uri, err := c.captureDevice(ctx, session, url, device)
		if err != nil {
			c.fail(logger, device.Name, err)
			continue
		}
		c.metrics.ObserveScreenshot(device.Name, "ok")
		logger.Debug("screenshot stored", zap.String("device", device.Name), zap.String("uri", uri))
		out[device.Name] = uri
	}
	return out
}

func (c *Capturer) captureDevice(ctx context.Context, session Session, url string, device audit.DeviceProfile) (string, error) {
	img, err := session.Capture(ctx, device)
	if err != nil {
		return "", fmt.Errorf("capture: %w", err)
	}
	path, err := Path(c.hasher, url, device.Name)
	if err != nil {
		return "", err
	}
	uri, err := c.blobs.PutObject(ctx, path, "image/jpeg", bytes.NewReader(img))
	if err != nil {
		return "", fmt.Errorf("store screenshot: %w", err)
	}
	return uri, nil
}

func (c *Capturer) fail(logger *zap.Logger, device string, err error) {
	c.metrics.ObserveScreenshot(device, "failed")
	c.metrics.ObserveEnricherFailure("screenshot")
	logger.Warn("screenshot failed",
		zap.String("device", device),
		zap.Error(&audit.EnrichmentError{Enricher: "screenshot", Err: err}),
	)
}

func (c *Capturer) failAll(logger *zap.Logger, devices []audit.DeviceProfile, err error) {
	for _, d := range devices {
		c.fail(logger, d.Name, err)
	}
}

// Path returns the deterministic blob path of a device screenshot.
func Path(hasher audit.Hasher, url, device string) (string, error) {
	sum, err := hasher.Hash([]byte(url + "-" + device))
	if err != nil {
		return "", fmt.Errorf("hash screenshot path: %w", err)
	}
	return "screenshots/" + sum + ".jpg", nil
}

func (c *Capturer) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (c *Capturer) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}
