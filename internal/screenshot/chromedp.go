package screenshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/webaudit/internal/audit"
)

// BrowserConfig controls the headless Chrome session factory.
type BrowserConfig struct {
	NavigationTimeout time.Duration
	// IdleTimeout caps the wait for network idle after load. The capture
	// proceeds once it expires.
	IdleTimeout time.Duration
	Quality     int64
}

// Browser opens chromedp tabs on a shared allocator.
type Browser struct {
	cfg         BrowserConfig
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewBrowser creates a Browser backed by a headless Chrome allocator.
func NewBrowser(cfg BrowserConfig) *Browser {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Second
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 75
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close cancels the allocator context and stops the browser.
func (b *Browser) Close() {
	b.allocCancel()
}

// Open starts a fresh tab.
func (b *Browser) Open(ctx context.Context) (Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.allocator)
	// The tab lives on the allocator; tie it to the caller as well.
	stop := context.AfterFunc(ctx, tabCancel)

	s := &chromeSession{
		cfg:    b.cfg,
		ctx:    tabCtx,
		cancel: func() { stop(); tabCancel() },
		idle:   newIdleWatcher(),
	}
	chromedp.ListenTarget(tabCtx, s.idle.handle)

	// The first Run allocates the target.
	if err := chromedp.Run(tabCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("start tab: %w", err)
	}
	return s, nil
}

type chromeSession struct {
	cfg    BrowserConfig
	ctx    context.Context
	cancel context.CancelFunc
	idle   *idleWatcher
}

// Navigate loads url with scripts disabled and waits for network idle.
func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(s.ctx, s.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(navCtx,
		page.SetLifecycleEventsEnabled(true),
		emulation.SetScriptExecutionDisabled(true),
		chromedp.Navigate(url),
	)
	if err != nil {
		return fmt.Errorf("chromedp navigate: %w", err)
	}

	select {
	case <-s.idle.done():
	case <-time.After(s.cfg.IdleTimeout):
	case <-navCtx.Done():
		return fmt.Errorf("wait for network idle: %w", navCtx.Err())
	}
	return nil
}

// Capture applies device emulation to the loaded tab and takes a JPEG.
func (s *chromeSession) Capture(ctx context.Context, device audit.DeviceProfile) ([]byte, error) {
	capCtx, cancel := context.WithTimeout(s.ctx, s.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var buf []byte
	err := chromedp.Run(capCtx,
		emulation.SetDeviceMetricsOverride(device.Width, device.Height, device.DeviceScaleFactor, device.Mobile),
		emulation.SetUserAgentOverride(device.UserAgent),
		emulation.SetTouchEmulationEnabled(device.Touch),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			buf, err = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(s.cfg.Quality).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp capture %s: %w", device.Name, err)
	}
	return buf, nil
}

func (s *chromeSession) Close() {
	s.cancel()
}

// idleWatcher closes its channel on the first networkIdle lifecycle event
// that follows a navigation start.
type idleWatcher struct {
	mu      sync.Mutex
	started bool
	once    sync.Once
	ch      chan struct{}
}

func newIdleWatcher() *idleWatcher {
	return &idleWatcher{ch: make(chan struct{})}
}

func (w *idleWatcher) handle(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	switch e.Name {
	case "init":
		w.started = true
	case "networkIdle":
		if w.started {
			w.once.Do(func() { close(w.ch) })
		}
	}
}

func (w *idleWatcher) done() <-chan struct{} {
	return w.ch
}
