package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if checksTotal == nil || notificationsTotal == nil || httpRequestsTotal == nil || schedulerRunning == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(checksTotal.WithLabelValues("changed"))
	ObserveCheck("changed")
	if got := testutil.ToFloat64(checksTotal.WithLabelValues("changed")); got != before+1 {
		t.Errorf("expected changed checks %v, got %v", before+1, got)
	}

	before = testutil.ToFloat64(notificationsTotal.WithLabelValues("change", "failed"))
	ObserveNotification("change", false)
	if got := testutil.ToFloat64(notificationsTotal.WithLabelValues("change", "failed")); got != before+1 {
		t.Errorf("expected failed notifications %v, got %v", before+1, got)
	}

	before = testutil.ToFloat64(extractionsTotal.WithLabelValues("probe", "success"))
	ObserveExtraction("probe", true, time.Second)
	if got := testutil.ToFloat64(extractionsTotal.WithLabelValues("probe", "success")); got != before+1 {
		t.Errorf("expected probe successes %v, got %v", before+1, got)
	}

	SetTargets(7)
	if got := testutil.ToFloat64(targetsRegistered); got != 7 {
		t.Errorf("expected targets gauge 7, got %v", got)
	}
	SetSchedulerRunning(true)
	if got := testutil.ToFloat64(schedulerRunning); got != 1 {
		t.Errorf("expected running gauge 1, got %v", got)
	}
	SetSchedulerRunning(false)
	if got := testutil.ToFloat64(schedulerRunning); got != 0 {
		t.Errorf("expected running gauge 0, got %v", got)
	}

	before = testutil.ToFloat64(evictionsTotal)
	ObserveEviction()
	if got := testutil.ToFloat64(evictionsTotal); got != before+1 {
		t.Errorf("expected evictions %v, got %v", before+1, got)
	}

	ObserveRateLimitDelay("zealy.io", 250*time.Millisecond)
	if got := testutil.CollectAndCount(rateLimitDelaySeconds); got < 1 {
		t.Errorf("expected a rate limit series, got %d", got)
	}
}
