package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/zealywatch/internal/monitor"
	"github.com/JakeFAU/zealywatch/internal/registry"
	"github.com/JakeFAU/zealywatch/internal/scheduler"
)

type fakeState struct{ state scheduler.State }

func (f fakeState) State() scheduler.State { return f.state }

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

func newTestServer(t *testing.T, checks []ReadinessCheck, apiKey string) (*Server, *registry.Registry, *monitor.Stats) {
	t.Helper()
	reg := registry.New(15)
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	stats := monitor.NewStats(started)
	srv := NewServer(Deps{
		Targets:   reg,
		Scheduler: fakeState{state: scheduler.Running},
		Stats:     stats,
		Clock:     fakeClock{now: started.Add(90 * time.Second)},
		Checks:    checks,
		APIKey:    apiKey,
		Logger:    zap.NewNop(),
	})
	return srv, reg, stats
}

func do(t *testing.T, srv *Server, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, nil, "")
	rec := do(t, srv, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, nil, "")
	rec := do(t, srv, "/healthz", map[string]string{"X-Request-ID": "abc-123"})
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestReadyzReportsStateAndTargets(t *testing.T) {
	t.Parallel()

	srv, reg, _ := newTestServer(t, nil, "")
	require.NoError(t, reg.Add(monitor.Target{URL: "https://zealy.io/cw/alpha"}))

	rec := do(t, srv, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ready", body["status"])
	require.Equal(t, "running", body["monitoring"])
	require.EqualValues(t, 1, body["targets"])
	require.EqualValues(t, 15, body["capacity"])
}

func TestReadyzFailsWhenCheckFails(t *testing.T) {
	t.Parallel()

	checks := []ReadinessCheck{
		{Name: "telegram", Check: func(context.Context) error { return nil }},
		{Name: "postgres", Check: func(context.Context) error { return errors.New("db down") }},
	}
	srv, _, _ := newTestServer(t, checks, "")
	rec := do(t, srv, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Failed map[string]string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "unavailable", body.Status)
	require.Equal(t, map[string]string{"postgres": "db down"}, body.Failed)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, nil, "")
	_ = do(t, srv, "/healthz", nil)
	rec := do(t, srv, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
}

func TestListTargets(t *testing.T) {
	t.Parallel()

	srv, reg, _ := newTestServer(t, nil, "")
	require.NoError(t, reg.Add(monitor.Target{
		URL:           "https://zealy.io/cw/alpha",
		Fingerprint:   "abc",
		LastCheckedAt: time.Unix(100, 0),
	}))
	require.NoError(t, reg.Add(monitor.Target{
		URL:                 "https://zealy.io/cw/beta",
		ConsecutiveFailures: 2,
		LastError:           strings.Repeat("x", 300),
	}))

	rec := do(t, srv, "/v1/targets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Targets []targetDTO `json:"targets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Targets, 2)
	require.Equal(t, 1, body.Targets[0].Position)
	require.True(t, body.Targets[0].Healthy)
	require.NotNil(t, body.Targets[0].LastCheckedAt)
	require.Equal(t, 2, body.Targets[1].Position)
	require.False(t, body.Targets[1].Healthy)
	require.Nil(t, body.Targets[1].LastCheckedAt)
	require.Len(t, []rune(body.Targets[1].LastError), lastErrorLimit)
}

func TestStats(t *testing.T) {
	t.Parallel()

	srv, _, stats := newTestServer(t, nil, "")
	stats.RecordCheck()
	stats.RecordCheck()
	stats.RecordChange()
	stats.RecordExtraction(monitor.SourceProbe)

	rec := do(t, srv, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body statsDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(2), body.TotalChecks)
	require.Equal(t, int64(1), body.TotalChanges)
	require.Equal(t, int64(1), body.ProbeSuccess)
	require.Equal(t, int64(90), body.UptimeSeconds)
	require.Equal(t, "running", body.Monitoring)
	require.Zero(t, body.DroppedEvents)
}

type fakeDrops int64

func (d fakeDrops) Dropped() int64 { return int64(d) }

func TestStatsReportsDroppedActivity(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{
		Targets:   registry.New(15),
		Scheduler: fakeState{state: scheduler.Idle},
		Stats:     monitor.NewStats(time.Now()),
		Activity:  fakeDrops(7),
	})
	rec := do(t, srv, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body statsDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(7), body.DroppedEvents)
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, nil, "secret")
	require.Equal(t, http.StatusForbidden, do(t, srv, "/v1/stats", nil).Code)
	require.Equal(t, http.StatusOK, do(t, srv, "/v1/stats", map[string]string{"X-API-Key": "secret"}).Code)
	require.Equal(t, http.StatusOK, do(t, srv, "/v1/targets?api_key=secret", nil).Code)
	require.Equal(t, http.StatusOK, do(t, srv, "/healthz", nil).Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}
