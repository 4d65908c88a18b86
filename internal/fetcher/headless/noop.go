package headless

import (
	"context"

	"github.com/JakeFAU/zealywatch/internal/monitor"
)

// Noop implements monitor.Extractor when no browser is available; every call
// fails with a session error so only the lightweight probe can succeed.
type Noop struct{}

// NewNoop creates a new Noop extractor.
func NewNoop() *Noop {
	return &Noop{}
}

// Extract always fails.
func (Noop) Extract(context.Context, string) (monitor.Extraction, error) {
	return monitor.Extraction{}, monitor.NewFetchError(monitor.FailureSession, "headless browser disabled", nil)
}
