package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/zealywatch/internal/progress"
)

// PrometheusSink derives cycle and security metrics from the activity stream.
type PrometheusSink struct {
	events        *prometheus.CounterVec
	cyclesRunning prometheus.Gauge
	cycleRuntime  prometheus.Histogram
	cycleChanged  prometheus.Counter
	unauthorized  prometheus.Counter
	checkDuration *prometheus.HistogramVec

	tracker *cycleTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zealywatch_activity_events_total",
			Help: "Activity events partitioned by stage.",
		}, []string{"stage"}),
		cyclesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zealywatch_cycles_running",
			Help: "Scheduler passes currently in progress.",
		}),
		cycleRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zealywatch_cycle_duration_seconds",
			Help:    "Wall time of one pass over the watch list.",
			Buckets: []float64{1, 5, 10, 20, 40, 80, 160, 320},
		}),
		cycleChanged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zealywatch_cycle_changes_total",
			Help: "Changed targets summed over finished cycles.",
		}),
		unauthorized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zealywatch_unauthorized_attempts_total",
			Help: "Commands received from chats other than the operator's.",
		}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zealywatch_check_duration_seconds",
			Help:    "End-to-end check latency including retries, by source.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"source"}),
		tracker: newCycleTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.cyclesRunning,
		s.cycleRuntime,
		s.cycleChanged,
		s.unauthorized,
		s.checkDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register activity collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Stage)).Inc()
		switch evt.Stage {
		case progress.StageCycleStart:
			if s.tracker.start(evt.CycleID) {
				s.cyclesRunning.Inc()
			}
		case progress.StageCycleDone:
			if s.tracker.complete(evt.CycleID) {
				s.cyclesRunning.Dec()
			}
			if evt.Dur > 0 {
				s.cycleRuntime.Observe(evt.Dur.Seconds())
			}
			s.cycleChanged.Add(float64(evt.Tally.Changed))
		case progress.StageCheckDone:
			if evt.Dur > 0 {
				source := evt.Source
				if source == "" {
					source = "unknown"
				}
				s.checkDuration.WithLabelValues(source).Observe(evt.Dur.Seconds())
			}
		case progress.StageUnauthorized:
			s.unauthorized.Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type cycleTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newCycleTracker() *cycleTracker {
	return &cycleTracker{running: make(map[[16]byte]struct{})}
}

func (t *cycleTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *cycleTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
