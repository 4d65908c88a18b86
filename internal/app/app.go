// Package app builds and owns the long-lived services of a monitor process.
// It is the single place where configuration turns into wired components.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/zealywatch/internal/api"
	"github.com/JakeFAU/zealywatch/internal/bot"
	"github.com/JakeFAU/zealywatch/internal/clock/system"
	"github.com/JakeFAU/zealywatch/internal/config"
	"github.com/JakeFAU/zealywatch/internal/fetch"
	collyfetcher "github.com/JakeFAU/zealywatch/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/zealywatch/internal/fetcher/headless"
	"github.com/JakeFAU/zealywatch/internal/hash/sha256"
	"github.com/JakeFAU/zealywatch/internal/logging"
	"github.com/JakeFAU/zealywatch/internal/metrics"
	"github.com/JakeFAU/zealywatch/internal/monitor"
	"github.com/JakeFAU/zealywatch/internal/notify"
	"github.com/JakeFAU/zealywatch/internal/policy/ratelimit"
	"github.com/JakeFAU/zealywatch/internal/progress"
	"github.com/JakeFAU/zealywatch/internal/progress/sinks"
	"github.com/JakeFAU/zealywatch/internal/registry"
	"github.com/JakeFAU/zealywatch/internal/scheduler"
	"github.com/JakeFAU/zealywatch/internal/storage/postgres"
	"github.com/JakeFAU/zealywatch/internal/telegram"
)

const (
	shutdownTimeout = 15 * time.Second
	sinkTimeout     = 5 * time.Second
)

// App holds every long-lived service of a running monitor.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	stats     *monitor.Stats
	registry  *registry.Registry
	pipeline  *fetch.Pipeline
	release   func()
	chat      *telegram.Client
	hub       *progress.Hub
	events    *postgres.EventStore
	scheduler *scheduler.Scheduler
	handler   *bot.Handler
	server    *http.Server
}

// Option customizes construction, mostly for tests.
type Option func(*options)

type options struct {
	telegramAPI telegram.API
	registerer  prometheus.Registerer
}

// WithTelegramAPI skips bot authentication and uses api directly.
func WithTelegramAPI(api telegram.API) Option {
	return func(o *options) { o.telegramAPI = api }
}

// WithRegisterer registers activity collectors against reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New wires the full service graph from cfg. Nothing runs until Run.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	chatID, err := cfg.Telegram.AuthorizedChatID()
	if err != nil {
		return nil, err
	}

	clock := system.New()
	a := &App{
		cfg:      cfg,
		logger:   logger,
		stats:    monitor.NewStats(clock.Now()),
		registry: registry.New(cfg.Monitor.MaxTargets),
	}
	metrics.Init()
	metrics.SetTargets(0)

	a.pipeline, a.release, err = NewPipeline(cfg, logging.Component(logger, "fetch"), a.stats)
	if err != nil {
		return nil, err
	}

	tgCfg := telegram.Config{
		ChatID:             chatID,
		PollTimeoutSeconds: cfg.Telegram.PollTimeoutSeconds,
		Workers:            cfg.Telegram.CommandWorkers,
	}
	if o.telegramAPI != nil {
		a.chat = telegram.NewWithAPI(o.telegramAPI, tgCfg, logging.Component(logger, "telegram"))
	} else {
		a.chat, err = telegram.New(cfg.Telegram.Token, tgCfg, logging.Component(logger, "telegram"))
		if err != nil {
			a.release()
			return nil, err
		}
	}

	if err := a.buildActivity(ctx, o.registerer); err != nil {
		a.release()
		return nil, err
	}

	notifier := notify.New(a.chat, notify.Config{
		MaxAttempts: cfg.Notifier.MaxAttempts,
		BackoffBase: cfg.Notifier.BackoffBase(),
		MaxLength:   cfg.Notifier.MaxLength,
	}, logging.Component(logger, "notify"))

	a.scheduler, err = scheduler.New(scheduler.Policy{
		Interval:         cfg.Monitor.Interval(),
		MinSleep:         cfg.Monitor.MinSleep(),
		ErrorCooldown:    cfg.Monitor.ErrorCooldown(),
		NotifyCooldown:   cfg.Monitor.NotifyCooldown(),
		WarningCooldown:  cfg.Monitor.WarningCooldown(),
		FailureThreshold: cfg.Monitor.FailureThreshold,
		WarningThreshold: cfg.Monitor.WarningThreshold,
		Concurrency:      cfg.Monitor.Concurrency,
	}, scheduler.Deps{
		Targets:  a.registry,
		Fetcher:  a.pipeline,
		Notifier: notifier,
		Clock:    clock,
		Emitter:  a.hub,
		Stats:    a.stats,
		Logger:   logging.Component(logger, "scheduler"),
	})
	if err != nil {
		a.closeServices(ctx)
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	a.handler, err = bot.New(bot.Config{
		ChatID:        chatID,
		URLPattern:    cfg.Monitor.URLPattern,
		// One extra attempt covers waiting for a browser slot held by the loop.
		VerifyTimeout: cfg.FetchBudget() + cfg.AttemptBudget(),
	}, bot.Deps{
		Registry:  a.registry,
		Scheduler: a.scheduler,
		Fetcher:   a.pipeline,
		Replier:   a.chat,
		Clock:     clock,
		Emitter:   a.hub,
		Stats:     a.stats,
		Logger:    logging.Component(logger, "bot"),
	})
	if err != nil {
		a.closeServices(ctx)
		return nil, fmt.Errorf("init command handler: %w", err)
	}

	if cfg.Server.Enabled {
		a.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           a.apiServer(clock).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

// NewPipeline builds the fetch pipeline described by cfg. The returned func
// releases the browser and must be called once the pipeline is unused.
func NewPipeline(cfg config.Config, logger *zap.Logger, stats *monitor.Stats) (*fetch.Pipeline, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		browser monitor.Extractor = headlessfetcher.NewNoop()
		release                   = func() {}
	)
	if cfg.Renderer.Enabled {
		browserPath := cfg.Renderer.ResolveBrowser()
		if cfg.Renderer.DriverPath != "" {
			logger.Info("driver path is not needed with the devtools protocol; ignoring",
				zap.String("driver_path", cfg.Renderer.DriverPath))
		}
		ext, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Renderer.MaxParallel,
			UserAgent:         cfg.Renderer.UserAgent,
			BrowserPath:       browserPath,
			RenderMode:        cfg.Renderer.RenderMode,
			PageLoadTimeout:   cfg.Renderer.PageLoadTimeout(),
			SettleDelay:       cfg.Renderer.SettleDelay(),
			ReadTimeout:       cfg.Renderer.ReadTimeout(),
			Limiter:           ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.Renderer.RequestsPerSecond}),
			Selectors:         cfg.Renderer.SelectorRules(),
		}, logging.Component(logger, "headless"))
		if err != nil {
			return nil, nil, fmt.Errorf("init headless renderer: %w", err)
		}
		logger.Info("headless renderer ready",
			zap.String("browser", browserPath),
			zap.Bool("render_mode", cfg.Renderer.RenderMode))
		browser, release = ext, ext.Close
	} else {
		logger.Warn("headless renderer disabled; only the static probe can succeed")
	}

	opts := []fetch.Option{fetch.WithStats(stats)}
	if cfg.Probe.Enabled {
		selectors := make([]string, 0, len(cfg.Renderer.Selectors))
		for _, s := range cfg.Renderer.Selectors {
			selectors = append(selectors, s.Selector)
		}
		opts = append(opts, fetch.WithProbe(collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Probe.UserAgent,
			Timeout:   cfg.Probe.Timeout(),
			MinChars:  cfg.Probe.MinChars,
			Selectors: selectors,
			Limiter:   ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.Probe.RequestsPerSecond}),
		})))
	}

	p, err := fetch.New(fetch.Config{
		Retry: fetch.RetryPolicy{
			MaxAttempts: cfg.Renderer.MaxAttempts,
			BaseDelay:   cfg.Renderer.BackoffBase(),
			MaxDelay:    cfg.Renderer.BackoffMax(),
		},
		MinContentLength: cfg.Renderer.MinContentLength,
	}, browser, sha256.New(), logger, opts...)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("init fetch pipeline: %w", err)
	}
	return p, release, nil
}

func (a *App) buildActivity(ctx context.Context, reg prometheus.Registerer) error {
	logSink := sinks.NewLogSink(logging.Component(a.logger, "activity"))
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("init activity metrics: %w", err)
	}
	hubSinks := []progress.Sink{logSink, promSink}

	if dsn := a.cfg.Activity.PostgresDSN; dsn != "" {
		a.events, err = postgres.NewEventStore(ctx, postgres.EventStoreConfig{
			DSN:        dsn,
			EventTable: a.cfg.Activity.Table,
			CycleTable: a.cfg.Activity.CycleTable,
			MaxConns:   a.cfg.Activity.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("init activity store: %w", err)
		}
		hubSinks = append(hubSinks, sinks.NewStoreSink(a.events, logging.Component(a.logger, "activity_store")))
		a.logger.Info("activity history enabled",
			zap.String("events", a.cfg.Activity.Table),
			zap.String("cycles", a.cfg.Activity.CycleTable))
	}

	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Activity.BufferSize,
		MaxBatchEvents: a.cfg.Activity.MaxBatchEvents,
		FlushInterval:  a.cfg.Activity.FlushInterval(),
		SinkTimeout:    sinkTimeout,
		Logger:         logging.Component(a.logger, "hub"),
	}, hubSinks...)
	return nil
}

func (a *App) apiServer(clock monitor.Clock) *api.Server {
	var checks []api.ReadinessCheck
	if a.events != nil {
		checks = append(checks, api.ReadinessCheck{Name: "postgres", Check: a.events.Ping})
	}
	return api.NewServer(api.Deps{
		Targets:   a.registry,
		Scheduler: a.scheduler,
		Stats:     a.stats,
		Activity:  a.hub,
		Clock:     clock,
		Checks:    checks,
		APIKey:    a.cfg.Server.APIKey,
		Logger:    logging.Component(a.logger, "api"),
	})
}

// Run serves chat commands and the HTTP side-port until ctx is done, then
// stops the monitoring loop and waits for it to wind down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("listening for commands", zap.Int64("chat_id", a.handler.ChatID()))
		if err := a.chat.Run(gctx, a.handler); err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		return nil
	})

	if a.server != nil {
		g.Go(func() error {
			a.logger.Info("http server started", zap.String("addr", a.server.Addr))
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("http server shutdown", zap.Error(err))
			}
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("shutdown initiated")
	a.stopMonitoring()
	return err
}

func (a *App) stopMonitoring() {
	if !a.scheduler.Stop() && a.scheduler.State() == scheduler.Idle {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.scheduler.Wait(ctx); err != nil {
		a.logger.Warn("monitoring loop did not stop in time", zap.Error(err))
	}
}

// Close releases the browser, flushes activity sinks and closes the store.
func (a *App) Close(ctx context.Context) {
	a.closeServices(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) closeServices(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("activity hub close", zap.Error(err))
		}
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.release != nil {
		a.release()
	}
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Registry exposes the watch list.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Scheduler exposes the monitoring loop.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Handler exposes the command handler.
func (a *App) Handler() *bot.Handler {
	return a.handler
}
