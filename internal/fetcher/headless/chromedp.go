// Package headless extracts rendered page text with a headless browser.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/zealywatch/internal/monitor"
	"github.com/JakeFAU/zealywatch/internal/policy/ratelimit"
)

// Config controls the behavior of the headless extractor.
type Config struct {
	MaxParallel       int
	UserAgent         string
	BrowserPath       string
	RenderMode        bool
	PageLoadTimeout   time.Duration
	SettleDelay       time.Duration
	ReadTimeout       time.Duration
	RequestsPerSecond float64
	// Limiter, when set, replaces the extractor's own per-host budget so it
	// can be shared with other extractors.
	Limiter   HostLimiter
	Selectors []monitor.SelectorRule
}

// HostLimiter spaces out requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

const (
	defaultPageLoadTimeout = 12 * time.Second
	defaultReadTimeout     = 5 * time.Second
)

// Extractor implements monitor.Extractor using chromedp and headless Chrome.
// Every call gets its own browser process from a shared allocator, so no
// cookies, storage, or tabs survive between calls.
type Extractor struct {
	cfg         Config
	limiter     chan struct{}
	hosts       HostLimiter
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a headless extractor backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Extractor, error) {
	if cfg.MaxParallel <= 0 {
		return nil, fmt.Errorf("max parallel must be > 0")
	}
	if len(cfg.Selectors) == 0 {
		return nil, fmt.Errorf("at least one selector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hosts := cfg.Limiter
	if hosts == nil && cfg.RequestsPerSecond > 0 {
		hosts = ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.RequestsPerSecond})
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)

	return &Extractor{
		cfg:         cfg,
		hosts:       hosts,
		limiter:     make(chan struct{}, cfg.MaxParallel),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.WindowSize(1920, 1080),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.BrowserPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.BrowserPath))
	}
	if cfg.RenderMode {
		opts = append(opts,
			chromedp.NoSandbox,
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.Flag("no-zygote", true),
			chromedp.Flag("single-process", true),
		)
	}
	return opts
}

// Close cancels the allocator context.
func (e *Extractor) Close() {
	e.allocCancel()
}

// Extract renders url in a fresh browser, finds the first selector that
// resolves, and returns that container's visible text. The browser is torn
// down on every return path.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (monitor.Extraction, error) {
	if err := e.acquire(ctx); err != nil {
		return monitor.Extraction{}, err
	}
	defer e.release()

	if err := e.waitHostBudget(ctx, rawURL); err != nil {
		return monitor.Extraction{}, err
	}

	taskCtx, taskCancel := chromedp.NewContext(e.allocator)
	defer taskCancel()
	stop := forwardCancel(ctx, taskCancel)
	defer stop()

	meta := &documentStatus{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	if err := chromedp.Run(taskCtx, e.setupAction()); err != nil {
		return monitor.Extraction{}, classify("start browser", err)
	}

	navCtx, navCancel := context.WithTimeout(taskCtx, e.pageLoadTimeout())
	err := chromedp.Run(navCtx, chromedp.Navigate(rawURL))
	navCancel()
	if err != nil {
		return monitor.Extraction{}, classify("navigate", err)
	}

	selector, err := e.locateContainer(taskCtx)
	if err != nil {
		if status := meta.get(); status >= 400 {
			return monitor.Extraction{}, monitor.NewFetchError(
				monitor.FailureNoContainerFound, fmt.Sprintf("document status %d", status), err)
		}
		return monitor.Extraction{}, err
	}

	if e.cfg.SettleDelay > 0 {
		if err := chromedp.Run(taskCtx, chromedp.Sleep(e.cfg.SettleDelay)); err != nil {
			return monitor.Extraction{}, classify("settle", err)
		}
	}

	var text string
	readCtx, readCancel := context.WithTimeout(taskCtx, e.readTimeout())
	err = chromedp.Run(readCtx, chromedp.Text(selector, &text, chromedp.ByQuery))
	readCancel()
	if err != nil {
		return monitor.Extraction{}, classify("read text", err)
	}

	e.logger.Debug("extracted page text",
		zap.String("url", rawURL),
		zap.String("selector", selector),
		zap.Int("chars", len(text)),
	)
	return monitor.Extraction{Text: text, Selector: selector, Source: monitor.SourceBrowser}, nil
}

// locateContainer tries each selector with its own timeout and returns the
// first one present in the DOM.
func (e *Extractor) locateContainer(taskCtx context.Context) (string, error) {
	for _, rule := range e.cfg.Selectors {
		waitCtx, cancel := context.WithTimeout(taskCtx, rule.Timeout)
		err := chromedp.Run(waitCtx, chromedp.WaitReady(rule.Selector, chromedp.ByQuery))
		cancel()
		if err == nil {
			return rule.Selector, nil
		}
		if taskCtx.Err() != nil {
			return "", classify("locate container", taskCtx.Err())
		}
		e.logger.Debug("selector not found", zap.String("selector", rule.Selector), zap.Error(err))
	}
	return "", monitor.NewFetchError(monitor.FailureNoContainerFound, "no suitable container found", nil)
}

func (e *Extractor) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if e.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(e.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (e *Extractor) acquire(ctx context.Context) error {
	select {
	case e.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (e *Extractor) release() {
	select {
	case <-e.limiter:
	default:
	}
}

func (e *Extractor) waitHostBudget(ctx context.Context, rawURL string) error {
	if e.hosts == nil {
		return nil
	}
	if err := e.hosts.Wait(ctx, rawURL); err != nil {
		return monitor.NewFetchError(monitor.FailureUnexpected, "wait host budget", err)
	}
	return nil
}

func (e *Extractor) pageLoadTimeout() time.Duration {
	if e.cfg.PageLoadTimeout > 0 {
		return e.cfg.PageLoadTimeout
	}
	return defaultPageLoadTimeout
}

func (e *Extractor) readTimeout() time.Duration {
	if e.cfg.ReadTimeout > 0 {
		return e.cfg.ReadTimeout
	}
	return defaultReadTimeout
}

// classify maps chromedp errors onto the fetch failure taxonomy.
func classify(stage string, err error) *monitor.FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return monitor.NewFetchError(monitor.FailureTimeout, stage, err)
	}
	if errors.Is(err, context.Canceled) {
		return monitor.NewFetchError(monitor.FailureUnexpected, stage+" canceled", err)
	}
	return monitor.NewFetchError(monitor.FailureSession, stage, err)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// documentStatus records the HTTP status of the main document.
type documentStatus struct {
	mu     sync.Mutex
	status int64
}

func (d *documentStatus) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = resp.Response.Status
	d.mu.Unlock()
}

func (d *documentStatus) get() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}
