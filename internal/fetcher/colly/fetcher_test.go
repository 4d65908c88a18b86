package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/zealywatch/internal/monitor"
)

var cascade = []string{"div[class*='questboard']", "main", "body"}

const questPage = `<html><head><script>var ts = Date.now();</script></head>
<body><nav>Menu</nav><main>Daily check-in
  Follow on X   Join the Discord server</main></body></html>`

func TestProberExtractsFirstLongEnoughContainer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(questPage))
	}))
	defer srv.Close()

	p := New(Config{Selectors: cascade, MinChars: 20, Timeout: time.Second})
	got, err := p.Extract(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "main", got.Selector)
	require.Equal(t, monitor.SourceProbe, got.Source)
	require.Equal(t, "Daily check-in Follow on X Join the Discord server", got.Text)

	again, err := p.Extract(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, got.Text, again.Text)
}

func TestProberShortContent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div id="root"></div><script>boot()</script></body></html>`))
	}))
	defer srv.Close()

	p := New(Config{Selectors: cascade, Timeout: time.Second})
	_, err := p.Extract(context.Background(), srv.URL)
	require.Equal(t, monitor.FailureContentTooShort, monitor.KindOf(err))
}

func TestProberNoContainer(t *testing.T) {
	t.Parallel()

	p := New(Config{Selectors: []string{"main"}})
	_, err := p.extractText([]byte(`<html><body><p>plenty of text but no main element here</p></body></html>`))
	require.Equal(t, monitor.FailureNoContainerFound, monitor.KindOf(err))
}

func TestProberBlockedStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := New(Config{Selectors: cascade, Timeout: time.Second})
	_, err := p.Extract(context.Background(), srv.URL)
	require.Equal(t, monitor.FailureSession, monitor.KindOf(err))
}

func TestProberCanceledContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(Config{Selectors: cascade, Timeout: time.Second})
	_, err := p.Extract(ctx, srv.URL)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	var resp probeResponse
	hooks := &stubHooks{}
	p.configureCollectorHooks(hooks, &resp)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Contains(t, collyReq.Headers.Get("Accept"), "text/html")

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("body")})
	require.Equal(t, http.StatusOK, resp.status)
	require.Equal(t, "body", string(resp.body))

	hooks.onError(&colly.Response{StatusCode: http.StatusTooManyRequests}, errors.New("boom"))
	require.Equal(t, http.StatusTooManyRequests, resp.status)
	require.EqualError(t, resp.err, "boom")
}

func TestClassifyProbeError(t *testing.T) {
	t.Parallel()

	require.Equal(t, monitor.FailureSession, monitor.KindOf(classifyProbeError(429, errors.New("x"))))
	require.Equal(t, monitor.FailureUnexpected, monitor.KindOf(classifyProbeError(500, errors.New("x"))))
	require.Equal(t, monitor.FailureTimeout, monitor.KindOf(classifyProbeError(0, context.DeadlineExceeded)))
	require.Equal(t, monitor.FailureUnexpected, monitor.KindOf(classifyProbeError(0, errors.New("dial"))))
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

type refusingLimiter struct{ calls int }

func (l *refusingLimiter) Wait(context.Context, string) error {
	l.calls++
	return errors.New("budget exhausted")
}

func TestProberConsultsLimiter(t *testing.T) {
	t.Parallel()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte(questPage))
	}))
	defer srv.Close()

	lim := &refusingLimiter{}
	p := New(Config{Selectors: cascade, Timeout: time.Second, Limiter: lim})
	_, err := p.Extract(context.Background(), srv.URL)
	require.Equal(t, monitor.FailureUnexpected, monitor.KindOf(err))
	require.Equal(t, 1, lim.calls)
	require.Zero(t, hits)
}
