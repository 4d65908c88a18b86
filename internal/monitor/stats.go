package monitor

import (
	"sync/atomic"
	"time"
)

// Stats holds process-wide counters shown to the operator.
type Stats struct {
	startedAt      time.Time
	totalChecks    atomic.Int64
	totalChanges   atomic.Int64
	browserErrors  atomic.Int64
	probeSuccess   atomic.Int64
	browserSuccess atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	StartedAt      time.Time
	TotalChecks    int64
	TotalChanges   int64
	BrowserErrors  int64
	ProbeSuccess   int64
	BrowserSuccess int64
}

// NewStats starts the uptime clock at startedAt.
func NewStats(startedAt time.Time) *Stats {
	return &Stats{startedAt: startedAt}
}

// RecordCheck counts one completed target check.
func (s *Stats) RecordCheck() { s.totalChecks.Add(1) }

// RecordChange counts one delivered change alert.
func (s *Stats) RecordChange() { s.totalChanges.Add(1) }

// RecordExtraction counts a successful extraction by source.
func (s *Stats) RecordExtraction(src Source) {
	if src == SourceProbe {
		s.probeSuccess.Add(1)
		return
	}
	s.browserSuccess.Add(1)
}

// RecordBrowserError counts a failed browser extraction.
func (s *Stats) RecordBrowserError() { s.browserErrors.Add(1) }

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		StartedAt:      s.startedAt,
		TotalChecks:    s.totalChecks.Load(),
		TotalChanges:   s.totalChanges.Load(),
		BrowserErrors:  s.browserErrors.Load(),
		ProbeSuccess:   s.probeSuccess.Load(),
		BrowserSuccess: s.browserSuccess.Load(),
	}
}

// BrowserErrorRate is browser failures over browser attempts, or 0.
func (s StatsSnapshot) BrowserErrorRate() float64 {
	attempts := s.BrowserErrors + s.BrowserSuccess
	if attempts == 0 {
		return 0
	}
	return float64(s.BrowserErrors) / float64(attempts)
}
