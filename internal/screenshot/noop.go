package screenshot

import (
	"context"

	"github.com/JakeFAU/webaudit/internal/audit"
)

// Noop is used when headless rendering is disabled. It captures nothing.
type Noop struct{}

// NewNoop creates a new Noop capturer.
func NewNoop() *Noop {
	return &Noop{}
}

// Capture returns an empty map.
func (Noop) Capture(_ context.Context, _ string, _ []audit.DeviceProfile) map[string]string {
	return map[string]string{}
}
