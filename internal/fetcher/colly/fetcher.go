// Package collyfetcher implements the lightweight page probe using gocolly.
// The probe fetches static HTML without a browser and succeeds only when the
// server-rendered markup already carries enough text.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/zealywatch/internal/monitor"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MinChars is the text length a container must exceed to be accepted.
	MinChars  int
	Selectors []string
	// Limiter, when set, is consulted before every request.
	Limiter HostLimiter
}

// HostLimiter spaces out requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Prober implements monitor.Extractor using the Colly collector.
type Prober struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type probeResponse struct {
	status int
	body   []byte
	err    error
}

// New builds a Prober.
func New(cfg Config) *Prober {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = 20
	}
	return &Prober{cfg: cfg, baseCollector: c}
}

// Extract performs one GET and returns the text of the first selector whose
// content is long enough.
func (p *Prober) Extract(ctx context.Context, rawURL string) (monitor.Extraction, error) {
	if p.cfg.Limiter != nil {
		if err := p.cfg.Limiter.Wait(ctx, rawURL); err != nil {
			return monitor.Extraction{}, monitor.NewFetchError(monitor.FailureUnexpected, "wait host budget", err)
		}
	}
	var resp probeResponse
	collector := p.buildCollector(&resp)

	if err := p.runCollector(ctx, collector, rawURL, &resp); err != nil {
		return monitor.Extraction{}, err
	}
	return p.extractText(resp.body)
}

func (p *Prober) buildCollector(resp *probeResponse) *colly.Collector {
	collector := p.baseCollector.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(p.cfg.Timeout)
	p.configureCollectorHooks(collector, resp)
	return collector
}

func (p *Prober) configureCollectorHooks(hooks collectorHooks, resp *probeResponse) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	hooks.OnResponse(func(r *colly.Response) {
		resp.status = r.StatusCode
		resp.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			resp.status = r.StatusCode
		}
		resp.err = err
	})
}

func (p *Prober) runCollector(ctx context.Context, collector *colly.Collector, url string, resp *probeResponse) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return monitor.NewFetchError(monitor.FailureUnexpected, "probe canceled", ctx.Err())
	case err := <-done:
		if err == nil {
			err = resp.err
		}
		if err != nil {
			return classifyProbeError(resp.status, err)
		}
		return nil
	}
}

func (p *Prober) extractText(body []byte) (monitor.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return monitor.Extraction{}, monitor.NewFetchError(monitor.FailureUnexpected, "parse html", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	found := false
	for _, selector := range p.cfg.Selectors {
		node := doc.Find(selector).First()
		if node.Length() == 0 {
			continue
		}
		found = true
		text := strings.Join(strings.Fields(node.Text()), " ")
		if utf8.RuneCountInString(text) > p.cfg.MinChars {
			return monitor.Extraction{Text: text, Selector: selector, Source: monitor.SourceProbe}, nil
		}
	}
	if !found {
		return monitor.Extraction{}, monitor.NewFetchError(monitor.FailureNoContainerFound, "static html has no container", nil)
	}
	return monitor.Extraction{}, monitor.NewFetchError(monitor.FailureContentTooShort, "static html too short", nil)
}

func classifyProbeError(status int, err error) error {
	switch {
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return monitor.NewFetchError(monitor.FailureSession, fmt.Sprintf("blocked with status %d", status), err)
	case status >= 400:
		return monitor.NewFetchError(monitor.FailureUnexpected, fmt.Sprintf("status %d", status), err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return monitor.NewFetchError(monitor.FailureTimeout, "probe request", err)
	}
	return monitor.NewFetchError(monitor.FailureUnexpected, "probe request", err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
