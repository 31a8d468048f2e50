package screenshot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webaudit/internal/audit"
	"github.com/JakeFAU/webaudit/internal/hash/sha256"
	"github.com/JakeFAU/webaudit/internal/metrics"
	"github.com/JakeFAU/webaudit/internal/storage/memory"
)

type fakeSession struct {
	navErr    error
	failFor   map[string]bool
	navigated []string
	closed    bool
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.navigated = append(s.navigated, url)
	return s.navErr
}

func (s *fakeSession) Capture(_ context.Context, device audit.DeviceProfile) ([]byte, error) {
	if s.failFor[device.Name] {
		return nil, errors.New("render crashed")
	}
	return []byte("jpeg-" + device.Name), nil
}

func (s *fakeSession) Close() { s.closed = true }

type fakeFactory struct {
	mu       sync.Mutex
	session  func() *fakeSession
	opened   []*fakeSession
	openErr  error
	active   atomic.Int32
	peak     atomic.Int32
	holdOpen time.Duration
}

func (f *fakeFactory) Open(context.Context) (Session, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	n := f.active.Add(1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.holdOpen > 0 {
		time.Sleep(f.holdOpen)
	}
	f.active.Add(-1)

	s := &fakeSession{}
	if f.session != nil {
		s = f.session()
	}
	f.mu.Lock()
	f.opened = append(f.opened, s)
	f.mu.Unlock()
	return s, nil
}

func newTestCapturer(t *testing.T, factory SessionFactory, maxParallel int) (*Capturer, *memory.BlobStore, *metrics.Metrics) {
	t.Helper()
	blobs := memory.NewBlobStore()
	m := metrics.New()
	c, err := NewCapturer(Config{MaxParallel: maxParallel}, factory, blobs, sha256.New(), m, zap.NewNop())
	require.NoError(t, err)
	return c, blobs, m
}

func TestCaptureStoresOneImagePerDevice(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	c, blobs, _ := newTestCapturer(t, factory, 1)

	got := c.Capture(context.Background(), "https://example.com/", audit.DefaultDevices())
	require.Len(t, got, 2)
	require.Len(t, factory.opened, 1, "page must be rendered once for all devices")
	assert.Equal(t, []string{"https://example.com/"}, factory.opened[0].navigated)
	assert.True(t, factory.opened[0].closed)

	path, err := Path(sha256.New(), "https://example.com/", audit.DeviceMobile)
	require.NoError(t, err)
	data, contentType, ok := blobs.Object(path)
	require.True(t, ok)
	assert.Equal(t, "jpeg-mobile", string(data))
	assert.Equal(t, "image/jpeg", contentType)
	assert.True(t, strings.HasSuffix(got[audit.DeviceMobile], path))
}

func TestCaptureIsolatesDeviceFailures(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{session: func() *fakeSession {
		return &fakeSession{failFor: map[string]bool{audit.DeviceDesktop: true}}
	}}
	c, blobs, m := newTestCapturer(t, factory, 0)

	got := c.Capture(context.Background(), "https://example.com/", audit.DefaultDevices())
	assert.Len(t, got, 1)
	assert.Contains(t, got, audit.DeviceMobile)
	assert.NotContains(t, got, audit.DeviceDesktop)
	assert.Equal(t, 1, blobs.Len())

	count, err := testutil.GatherAndCount(m.Registry(), "webaudit_screenshots_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCaptureNavigationFailureYieldsNoScreenshots(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{session: func() *fakeSession {
		return &fakeSession{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	}}
	c, blobs, _ := newTestCapturer(t, factory, 1)

	got := c.Capture(context.Background(), "https://nowhere.invalid/", audit.DefaultDevices())
	assert.Empty(t, got)
	assert.Zero(t, blobs.Len())
	assert.True(t, factory.opened[0].closed)
}

func TestCaptureOpenFailure(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCapturer(t, &fakeFactory{openErr: errors.New("chrome not found")}, 1)
	assert.Empty(t, c.Capture(context.Background(), "https://example.com/", audit.DefaultDevices()))
}

func TestCaptureBoundsParallelSessions(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{holdOpen: 20 * time.Millisecond}
	c, _, _ := newTestCapturer(t, factory, 2)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Capture(context.Background(), "https://example.com/", []audit.DeviceProfile{audit.MobileDevice})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, factory.peak.Load(), int32(2))
	assert.Len(t, factory.opened, 6)
}

func TestCaptureCanceledWhileWaitingForSlot(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCapturer(t, &fakeFactory{}, 1)
	c.limiter <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, c.Capture(ctx, "https://example.com/", audit.DefaultDevices()))
}

func TestPathIsDeterministicPerDevice(t *testing.T) {
	t.Parallel()

	h := sha256.New()
	a, err := Path(h, "https://example.com/", "mobile")
	require.NoError(t, err)
	b, err := Path(h, "https://example.com/", "mobile")
	require.NoError(t, err)
	d, err := Path(h, "https://example.com/", "desktop")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, d)
	assert.True(t, strings.HasPrefix(a, "screenshots/"))
	assert.True(t, strings.HasSuffix(a, ".jpg"))
}

func TestNewCapturerRejectsNegativeParallelism(t *testing.T) {
	t.Parallel()

	_, err := NewCapturer(Config{MaxParallel: -1}, &fakeFactory{}, memory.NewBlobStore(), sha256.New(), nil, nil)
	require.Error(t, err)
}

func TestNoopCapturesNothing(t *testing.T) {
	t.Parallel()

	assert.Empty(t, NewNoop().Capture(context.Background(), "https://example.com/", audit.DefaultDevices()))
}
