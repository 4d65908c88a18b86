package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/zealywatch/internal/app"
	"github.com/JakeFAU/zealywatch/internal/config"
	"github.com/JakeFAU/zealywatch/internal/instance"
)

// Runner is the part of app.App the run command drives.
type Runner interface {
	Run(ctx context.Context) error
	Close(ctx context.Context)
}

// newApp is the application factory. It is a variable so tests can replace
// it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot and wait for operator commands",
		Long: `Connects to Telegram, serves the health and metrics side-port when enabled,
and waits for /add and /run from the operator chat. Only one instance may run
per lock file; a second one exits with an error.`,
		Args: cobra.NoArgs,
		RunE: runMonitor,
	}
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	logger := e.logger

	lock, err := instance.Acquire(e.cfg.Instance.LockFile)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			logger.Warn("release instance lock", zap.Error(rerr))
		}
	}()
	logger.Info("instance lock acquired", zap.String("path", lock.Path()))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, e.cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer a.Close(context.WithoutCancel(ctx))

	logger.Info("zealywatch started",
		zap.String("version", version),
		zap.Int("max_targets", e.cfg.Monitor.MaxTargets),
		zap.Duration("interval", e.cfg.Monitor.Interval()))
	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
