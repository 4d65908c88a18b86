// Package fetch turns a target URL into a fingerprinted snapshot of its
// visible task content.
//
// Each attempt tries the optional lightweight probe first and promotes to the
// headless browser when the probe fails or yields too little text. Extracted
// text is normalized, checked against a minimum length and hashed.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/zealywatch/internal/metrics"
	"github.com/JakeFAU/zealywatch/internal/monitor"
	"github.com/JakeFAU/zealywatch/internal/normalize"
)

// Config tunes the pipeline.
type Config struct {
	Retry            RetryPolicy
	MinContentLength int
}

// Pipeline implements monitor.Fetcher.
type Pipeline struct {
	cfg        Config
	probe      monitor.Extractor
	browser    monitor.Extractor
	normalizer *normalize.Normalizer
	hasher     monitor.Hasher
	stats      *monitor.Stats
	logger     *zap.Logger
	sleep      func(context.Context, time.Duration) error
	now        func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithProbe enables the lightweight probe ahead of the browser.
func WithProbe(probe monitor.Extractor) Option {
	return func(p *Pipeline) { p.probe = probe }
}

// WithStats records extraction counters into stats.
func WithStats(stats *monitor.Stats) Option {
	return func(p *Pipeline) { p.stats = stats }
}

// WithNormalizer replaces the default rule set.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(p *Pipeline) { p.normalizer = n }
}

// WithSleep swaps the backoff sleeper.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

// New builds a pipeline around the browser extractor.
func New(cfg Config, browser monitor.Extractor, hasher monitor.Hasher, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if browser == nil {
		return nil, errors.New("fetch: browser extractor is required")
	}
	if hasher == nil {
		return nil, errors.New("fetch: hasher is required")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		cfg:        cfg,
		browser:    browser,
		normalizer: normalize.New(),
		hasher:     hasher,
		logger:     logger,
		sleep:      sleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Fetch retrieves, normalizes and fingerprints url.
func (p *Pipeline) Fetch(ctx context.Context, url string) (monitor.FetchResult, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		result, err := p.attempt(ctx, url)
		if err == nil {
			result.Attempts = attempt
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil || !p.cfg.Retry.ShouldRetry(err, attempt) {
			return monitor.FetchResult{}, p.failure(lastErr, attempt)
		}

		delay := p.cfg.Retry.Backoff(attempt - 1)
		p.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := p.sleep(ctx, delay); err != nil {
			return monitor.FetchResult{}, p.failure(lastErr, attempt)
		}
	}
}

func (p *Pipeline) attempt(ctx context.Context, url string) (monitor.FetchResult, error) {
	if p.probe != nil {
		result, err := p.extract(ctx, p.probe, monitor.SourceProbe, url)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return monitor.FetchResult{}, err
		}
		p.logger.Debug("probe fell through to browser", zap.String("url", url), zap.Error(err))
	}
	result, err := p.extract(ctx, p.browser, monitor.SourceBrowser, url)
	if err != nil && p.stats != nil {
		p.stats.RecordBrowserError()
	}
	return result, err
}

func (p *Pipeline) extract(ctx context.Context, ext monitor.Extractor, src monitor.Source, url string) (monitor.FetchResult, error) {
	start := p.now()
	raw, err := ext.Extract(ctx, url)
	elapsed := p.now().Sub(start)
	if err != nil {
		metrics.ObserveExtraction(string(src), false, elapsed)
		return monitor.FetchResult{}, err
	}

	text := p.normalizer.Normalize(raw.Text)
	if n := utf8.RuneCountInString(text); n < p.cfg.MinContentLength {
		metrics.ObserveExtraction(string(src), false, elapsed)
		return monitor.FetchResult{}, monitor.NewFetchError(monitor.FailureContentTooShort,
			fmt.Sprintf("%d chars after cleaning, need %d", n, p.cfg.MinContentLength), nil)
	}

	digest, err := p.hasher.Hash([]byte(text))
	if err != nil {
		return monitor.FetchResult{}, monitor.NewFetchError(monitor.FailureUnexpected, "fingerprint", err)
	}

	metrics.ObserveExtraction(string(src), true, elapsed)
	if p.stats != nil {
		p.stats.RecordExtraction(src)
	}
	return monitor.FetchResult{
		URL:          url,
		Digest:       digest,
		Text:         text,
		Selector:     raw.Selector,
		Source:       src,
		ResponseTime: elapsed,
	}, nil
}

func (p *Pipeline) failure(err error, attempts int) error {
	var fe *monitor.FetchError
	if !errors.As(err, &fe) {
		fe = monitor.NewFetchError(monitor.KindOf(err), "", err)
	}
	out := *fe
	out.Attempts = attempts
	metrics.ObserveFetchFailure(string(out.Kind))
	return &out
}
