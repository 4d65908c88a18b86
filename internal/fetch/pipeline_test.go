package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/zealywatch/internal/hash/sha256"
	"github.com/JakeFAU/zealywatch/internal/monitor"
)

type step struct {
	text string
	err  error
}

type scriptedExtractor struct {
	mu    sync.Mutex
	src   monitor.Source
	steps []step
	calls int
}

func (s *scriptedExtractor) Extract(_ context.Context, _ string) (monitor.Extraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	st := s.steps[idx]
	if st.err != nil {
		return monitor.Extraction{}, st.err
	}
	return monitor.Extraction{Text: st.text, Selector: "main", Source: s.src}, nil
}

func (s *scriptedExtractor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newPipeline(t *testing.T, browser monitor.Extractor, sleeps *recordedSleeps, opts ...Option) *Pipeline {
	t.Helper()
	cfg := Config{
		Retry:            RetryPolicy{MaxAttempts: 2, BaseDelay: 3 * time.Second, MaxDelay: 30 * time.Second},
		MinContentLength: 10,
	}
	opts = append(opts, WithSleep(sleeps.sleep))
	p, err := New(cfg, browser, sha256.New(), nil, opts...)
	require.NoError(t, err)
	return p
}

func browserWith(steps ...step) *scriptedExtractor {
	return &scriptedExtractor{src: monitor.SourceBrowser, steps: steps}
}

func TestFetchFingerprintsNormalizedText(t *testing.T) {
	t.Parallel()

	browser := browserWith(step{text: "Hello World 2024-01-01T00:00:00Z 50 XP"})
	p := newPipeline(t, browser, &recordedSleeps{})

	res, err := p.Fetch(context.Background(), "https://zealy.io/cw/demo/questboard")
	require.NoError(t, err)
	require.Equal(t, "Hello World", res.Text)
	require.Equal(t, sha256.Fingerprint("Hello World"), res.Digest)
	require.Equal(t, monitor.SourceBrowser, res.Source)
	require.Equal(t, "main", res.Selector)
	require.Equal(t, 1, res.Attempts)
}

func TestFetchIgnoresVolatileChurn(t *testing.T) {
	t.Parallel()

	browser := browserWith(
		step{text: "Hello World 2024-01-01T00:00:00Z 50 XP"},
		step{text: "Hello World 2024-06-30T12:00:00Z 75 XP"},
		step{text: "Hello World v2"},
	)
	p := newPipeline(t, browser, &recordedSleeps{})
	ctx := context.Background()

	first, err := p.Fetch(ctx, "u")
	require.NoError(t, err)
	second, err := p.Fetch(ctx, "u")
	require.NoError(t, err)
	third, err := p.Fetch(ctx, "u")
	require.NoError(t, err)

	require.Equal(t, first.Digest, second.Digest)
	require.NotEqual(t, first.Digest, third.Digest)
}

func TestFetchRetriesRetryableFailures(t *testing.T) {
	t.Parallel()

	browser := browserWith(
		step{err: monitor.NewFetchError(monitor.FailureTimeout, "page load", context.DeadlineExceeded)},
		step{text: "Quest board content"},
	)
	sleeps := &recordedSleeps{}
	p := newPipeline(t, browser, sleeps)

	res, err := p.Fetch(context.Background(), "u")
	require.NoError(t, err)
	require.Equal(t, 2, res.Attempts)
	require.Equal(t, []time.Duration{3 * time.Second}, sleeps.delays)
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	browser := browserWith(step{text: "  "})
	sleeps := &recordedSleeps{}
	p := newPipeline(t, browser, sleeps)

	_, err := p.Fetch(context.Background(), "u")
	require.Error(t, err)
	require.Equal(t, monitor.FailureContentTooShort, monitor.KindOf(err))

	var fe *monitor.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, 2, fe.Attempts)
	require.Equal(t, 2, browser.Calls())
	require.Len(t, sleeps.delays, 1)
}

func TestFetchDoesNotRetryPermanentFailures(t *testing.T) {
	t.Parallel()

	browser := browserWith(step{err: monitor.NewFetchError(monitor.FailureNoContainerFound, "no selector matched", nil)})
	sleeps := &recordedSleeps{}
	p := newPipeline(t, browser, sleeps)

	_, err := p.Fetch(context.Background(), "u")
	require.Equal(t, monitor.FailureNoContainerFound, monitor.KindOf(err))
	require.Equal(t, 1, browser.Calls())
	require.Empty(t, sleeps.delays)
}

func TestFetchStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	browser := browserWith(step{err: monitor.NewFetchError(monitor.FailureSession, "navigate", ctx.Err())})
	sleeps := &recordedSleeps{}
	p := newPipeline(t, browser, sleeps)

	_, err := p.Fetch(ctx, "u")
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, browser.Calls())
	require.Empty(t, sleeps.delays)
}

func TestFetchPrefersProbe(t *testing.T) {
	t.Parallel()

	probe := &scriptedExtractor{src: monitor.SourceProbe, steps: []step{{text: "Static quest list rendered on server"}}}
	browser := browserWith(step{text: "should not be used"})
	stats := monitor.NewStats(time.Now())
	p := newPipeline(t, browser, &recordedSleeps{}, WithProbe(probe), WithStats(stats))

	res, err := p.Fetch(context.Background(), "u")
	require.NoError(t, err)
	require.Equal(t, monitor.SourceProbe, res.Source)
	require.Zero(t, browser.Calls())
	require.Equal(t, int64(1), stats.Snapshot().ProbeSuccess)
}

func TestFetchPromotesToBrowserWhenProbeFails(t *testing.T) {
	t.Parallel()

	probe := &scriptedExtractor{src: monitor.SourceProbe, steps: []step{{err: monitor.NewFetchError(monitor.FailureContentTooShort, "shell page", nil)}}}
	browser := browserWith(step{text: "Rendered quest list"})
	stats := monitor.NewStats(time.Now())
	p := newPipeline(t, browser, &recordedSleeps{}, WithProbe(probe), WithStats(stats))

	res, err := p.Fetch(context.Background(), "u")
	require.NoError(t, err)
	require.Equal(t, monitor.SourceBrowser, res.Source)
	require.Equal(t, 1, probe.Calls())
	snap := stats.Snapshot()
	require.Equal(t, int64(1), snap.BrowserSuccess)
	require.Zero(t, snap.BrowserErrors)
}

func TestFetchWrapsForeignErrors(t *testing.T) {
	t.Parallel()

	browser := browserWith(step{err: errors.New("boom")})
	stats := monitor.NewStats(time.Now())
	p := newPipeline(t, browser, &recordedSleeps{}, WithStats(stats))

	_, err := p.Fetch(context.Background(), "u")
	var fe *monitor.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, monitor.FailureUnexpected, fe.Kind)
	require.Equal(t, 1, fe.Attempts)
	require.Equal(t, int64(1), stats.Snapshot().BrowserErrors)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, sha256.New(), nil)
	require.Error(t, err)
	_, err = New(Config{}, browserWith(step{text: "x"}), nil, nil)
	require.Error(t, err)
}

func TestRetryPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 3 * time.Second, MaxDelay: 30 * time.Second}
	require.Equal(t, 3*time.Second, p.Backoff(0))
	require.Equal(t, 6*time.Second, p.Backoff(1))
	require.Equal(t, 12*time.Second, p.Backoff(2))
	require.Equal(t, 30*time.Second, p.Backoff(4))
	require.Equal(t, 3*time.Second, p.Backoff(-1))

	require.False(t, p.ShouldRetry(nil, 1))
	require.False(t, p.ShouldRetry(monitor.NewFetchError(monitor.FailureTimeout, "", nil), 5))
	require.True(t, p.ShouldRetry(monitor.NewFetchError(monitor.FailureTimeout, "", nil), 1))
	require.False(t, p.ShouldRetry(monitor.NewFetchError(monitor.FailureSession, "", context.Canceled), 1))
	require.False(t, p.ShouldRetry(errors.New("boom"), 1))
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepContext(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
