// Package notify delivers operator messages with bounded retries.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/zealywatch/internal/metrics"
	"github.com/JakeFAU/zealywatch/internal/monitor"
)

// MaxMessageLength is the Telegram limit on message text, in UTF-16 code
// units.
const MaxMessageLength = 4096

// Sender is the transport a Notifier drives.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Config tunes delivery.
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	MaxLength   int
}

// Notifier implements monitor.Notifier.
type Notifier struct {
	sender Sender
	cfg    Config
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// New builds a Notifier over sender.
func New(sender Sender, cfg Config, logger *zap.Logger) *Notifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxLength <= 0 || cfg.MaxLength > MaxMessageLength {
		cfg.MaxLength = MaxMessageLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sender: sender, cfg: cfg, logger: logger, sleep: sleep}
}

// Notify sends message, retrying with exponential backoff. It reports whether
// the message was delivered and never panics.
func (n *Notifier) Notify(ctx context.Context, message string) (delivered bool) {
	return n.NotifyKind(ctx, "generic", message)
}

// NotifyKind is Notify with a metrics label.
func (n *Notifier) NotifyKind(ctx context.Context, kind, message string) (delivered bool) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("notifier panic", zap.Any("panic", r))
			delivered = false
		}
		metrics.ObserveNotification(kind, delivered)
	}()

	text := monitor.TruncateUTF16(message, n.cfg.MaxLength)
	var lastErr error
	for attempt := 0; attempt < n.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := n.sleep(ctx, n.cfg.BackoffBase<<(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		if err := n.send(ctx, text); err != nil {
			lastErr = err
			n.logger.Warn("notification attempt failed",
				zap.String("kind", kind),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		return true
	}
	n.logger.Error("notification dropped", zap.String("kind", kind), zap.Error(lastErr))
	return false
}

func (n *Notifier) send(ctx context.Context, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	if n.sender == nil {
		return fmt.Errorf("no sender configured")
	}
	return n.sender.Send(ctx, text)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
