package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/zealywatch/internal/metrics"
	"github.com/JakeFAU/zealywatch/internal/monitor"
	"github.com/JakeFAU/zealywatch/internal/registry"
	"github.com/JakeFAU/zealywatch/internal/scheduler"
)

// maxReplyLength is the chat limit in UTF-16 code units.
const maxReplyLength = 4096

func (h *Handler) welcome() string {
	policy := h.scheduler.Policy()
	var b strings.Builder
	b.WriteString("🚀 ZEALY MONITOR ⚡\n\n")
	b.WriteString("🎯 Commands:\n")
	b.WriteString("/add <url> - Add a Zealy URL to monitor\n")
	b.WriteString("/remove <num> - Remove URL by number\n")
	b.WriteString("/list - Show all monitored URLs\n")
	b.WriteString("/status - Per-URL statistics\n")
	b.WriteString("/debug <num> - Check a URL right now\n")
	b.WriteString("/run - Start monitoring\n")
	b.WriteString("/stop - Stop monitoring\n")
	b.WriteString("/purge - Clear all URLs\n")
	b.WriteString("/stats - Global counters\n\n")
	fmt.Fprintf(&b, "⚙️ Configuration:\n└ Max URLs: %d\n└ Check interval: %s\n└ Concurrent checks: %d\n\n",
		h.registry.Capacity(), policy.Interval, policy.Concurrency)
	b.WriteString(h.statsReport())
	return b.String()
}

func (h *Handler) statsReport() string {
	snap := h.stats.Snapshot()
	running := "❌ No"
	if h.scheduler.State() == scheduler.Running {
		running = "✅ Yes"
	}
	var b strings.Builder
	b.WriteString("📊 Current status:\n")
	fmt.Fprintf(&b, "└ URLs monitored: %d/%d\n", h.registry.Len(), h.registry.Capacity())
	fmt.Fprintf(&b, "└ Monitoring active: %s\n", running)
	fmt.Fprintf(&b, "└ Uptime: %s\n", formatUptime(h.clock.Now().Sub(snap.StartedAt)))
	fmt.Fprintf(&b, "└ Total checks: %d\n", snap.TotalChecks)
	fmt.Fprintf(&b, "└ Changes found: %d\n", snap.TotalChanges)
	fmt.Fprintf(&b, "└ Probe success: %d\n", snap.ProbeSuccess)
	fmt.Fprintf(&b, "└ Browser success: %d\n", snap.BrowserSuccess)
	fmt.Fprintf(&b, "└ Browser error rate: %.1f%%", snap.BrowserErrorRate()*100)
	return b.String()
}

func (h *Handler) add(ctx context.Context, chatID int64, args string) {
	raw, _, _ := strings.Cut(args, " ")
	if raw == "" {
		h.reply(ctx, chatID, "❌ Usage: /add <zealy-url>")
		return
	}
	target := Canonicalize(raw)
	if !h.pattern.MatchString(target) {
		h.reply(ctx, chatID, "❌ Invalid Zealy URL format")
		return
	}
	switch err := h.registry.CanAdd(target); {
	case errors.Is(err, registry.ErrAlreadyExists):
		h.reply(ctx, chatID, "ℹ️ URL already monitored")
		return
	case errors.Is(err, registry.ErrLimitReached):
		h.reply(ctx, chatID, fmt.Sprintf("❌ Maximum URLs limit (%d) reached", h.registry.Capacity()))
		return
	case err != nil:
		h.reply(ctx, chatID, "❌ "+err.Error())
		return
	}

	msgID := h.reply(ctx, chatID, "⚡ Verifying URL…")
	fetchCtx := ctx
	if h.cfg.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, h.cfg.VerifyTimeout)
		defer cancel()
	}
	start := h.clock.Now()
	result, err := h.fetcher.Fetch(fetchCtx, target)
	if err != nil {
		h.logger.Info("verification failed", zap.String("url", target), zap.Error(err))
		h.edit(ctx, chatID, msgID, "❌ Failed to verify URL: "+monitor.Truncate(err.Error(), diagnosticLimit))
		return
	}
	now := h.clock.Now()
	entry := monitor.Target{
		URL:                  target,
		Fingerprint:          result.Digest,
		AddedAt:              now,
		LastCheckedAt:        now,
		ConsecutiveSuccesses: 1,
		CheckCount:           1,
		LastSelector:         result.Selector,
		LastSource:           result.Source,
	}
	entry.ObserveLatency(result.ResponseTime)

	if err := h.registry.Add(entry); err != nil {
		msg := "❌ Failed to add URL: " + err.Error()
		switch {
		case errors.Is(err, registry.ErrAlreadyExists):
			msg = "ℹ️ URL already monitored"
		case errors.Is(err, registry.ErrLimitReached):
			msg = fmt.Sprintf("❌ Maximum URLs limit (%d) reached", h.registry.Capacity())
		}
		h.edit(ctx, chatID, msgID, msg)
		return
	}
	metrics.SetTargets(h.registry.Len())
	h.logger.Info("target added", zap.String("url", target), zap.String("source", string(result.Source)))
	h.edit(ctx, chatID, msgID, fmt.Sprintf("✅ Added: %s\n⚡ Verified in: %.2fs\n📊 Monitoring: %d/%d",
		target, now.Sub(start).Seconds(), h.registry.Len(), h.registry.Capacity()))
}

func (h *Handler) remove(ctx context.Context, chatID int64, args string) {
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		h.reply(ctx, chatID, "❌ Usage: /remove <number>")
		return
	}
	url, size, ok := h.resolveIndex(n)
	if !ok {
		if size == 0 {
			h.reply(ctx, chatID, "📭 No URLs being monitored")
			return
		}
		h.reply(ctx, chatID, fmt.Sprintf("❌ Invalid number. Use 1-%d", size))
		return
	}
	if _, err := h.registry.Remove(url); err != nil {
		h.reply(ctx, chatID, "❌ That URL is no longer monitored. Send /list again.")
		return
	}
	metrics.SetTargets(h.registry.Len())
	h.logger.Info("target removed", zap.String("url", url))
	h.reply(ctx, chatID, fmt.Sprintf("✅ Removed: %s\n📊 Now monitoring: %d/%d",
		url, h.registry.Len(), h.registry.Capacity()))
}

func (h *Handler) list(ctx context.Context, chatID int64) {
	targets := h.registry.Snapshot()
	urls := make([]string, 0, len(targets))
	for _, t := range targets {
		urls = append(urls, t.URL)
	}
	h.setListed(urls)
	if len(targets) == 0 {
		h.reply(ctx, chatID, "📭 No URLs being monitored")
		return
	}

	now := h.clock.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Monitored URLs (%d/%d):\n", len(targets), h.registry.Capacity())
	for i, t := range targets {
		health := "✅"
		if !t.Healthy() {
			health = fmt.Sprintf("❌ %d failures", t.ConsecutiveFailures)
		}
		fmt.Fprintf(&b, "%d. %s %s", i+1, health, t.URL)
		if !t.LastCheckedAt.IsZero() {
			fmt.Fprintf(&b, " (checked %s ago)", formatAgo(now.Sub(t.LastCheckedAt)))
		}
		b.WriteByte('\n')
	}
	h.reply(ctx, chatID, strings.TrimRight(b.String(), "\n"))
}

func (h *Handler) status(ctx context.Context, chatID int64) {
	targets := h.registry.Snapshot()
	now := h.clock.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Status (monitoring %s)\n", h.scheduler.State())
	if len(targets) == 0 {
		b.WriteString("📭 No URLs being monitored")
		h.reply(ctx, chatID, b.String())
		return
	}
	for i, t := range targets {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, t.URL)
		fmt.Fprintf(&b, "└ Checks: %d | Failures: %d in a row, %d total\n",
			t.CheckCount, t.ConsecutiveFailures, t.TotalFailures)
		fmt.Fprintf(&b, "└ Avg response: %.2fs", t.AvgResponseTime.Seconds())
		if t.LastSource != "" {
			fmt.Fprintf(&b, " via %s", t.LastSource)
		}
		b.WriteByte('\n')
		if t.LastCheckedAt.IsZero() {
			b.WriteString("└ Last check: never\n")
		} else {
			fmt.Fprintf(&b, "└ Last check: %s ago\n", formatAgo(now.Sub(t.LastCheckedAt)))
		}
		if t.LastError != "" {
			fmt.Fprintf(&b, "└ Last error: %s\n", monitor.Truncate(t.LastError, diagnosticLimit))
		}
	}
	h.reply(ctx, chatID, strings.TrimRight(b.String(), "\n"))
}

func (h *Handler) debug(ctx context.Context, chatID int64, args string) {
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		h.reply(ctx, chatID, "❌ Usage: /debug <number>")
		return
	}
	url, size, ok := h.resolveIndex(n)
	if !ok {
		h.reply(ctx, chatID, fmt.Sprintf("❌ Invalid number. Use 1-%d", max(size, 1)))
		return
	}
	msgID := h.reply(ctx, chatID, "🔍 Checking "+url+" …")
	insp, err := h.scheduler.CheckNow(ctx, url)
	if err != nil {
		h.edit(ctx, chatID, msgID, "❌ "+monitor.Truncate(err.Error(), diagnosticLimit))
		return
	}
	h.edit(ctx, chatID, msgID, formatInspection(insp))
}

func formatInspection(insp scheduler.Inspection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 Debug: %s\n", insp.Target.URL)
	fmt.Fprintf(&b, "└ Stored digest: %s\n", shortDigest(insp.Target.Fingerprint))
	if insp.Err != nil {
		fmt.Fprintf(&b, "└ Fetch failed (%s): %s", monitor.KindOf(insp.Err), monitor.Truncate(insp.Err.Error(), diagnosticLimit))
		return b.String()
	}
	r := insp.Result
	changed := "no"
	if insp.Changed {
		changed = "YES"
	}
	fmt.Fprintf(&b, "└ Current digest: %s\n", shortDigest(r.Digest))
	fmt.Fprintf(&b, "└ Changed: %s\n", changed)
	fmt.Fprintf(&b, "└ Source: %s, selector %q, %d attempt(s), %.2fs\n", r.Source, r.Selector, r.Attempts, r.ResponseTime.Seconds())
	fmt.Fprintf(&b, "└ Sample: %s", r.Sample(diagnosticLimit))
	return b.String()
}

func (h *Handler) run(ctx context.Context, chatID int64) {
	switch err := h.scheduler.Start(ctx); {
	case err == nil:
		h.reply(ctx, chatID, fmt.Sprintf("✅ Monitoring started!\n⚡ Check interval: %s", h.scheduler.Policy().Interval))
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		h.reply(ctx, chatID, "⚠️ Already monitoring")
	case errors.Is(err, scheduler.ErrNoTargets):
		h.reply(ctx, chatID, "❌ No URLs to monitor")
	case errors.Is(err, scheduler.ErrStopping):
		h.reply(ctx, chatID, "⏳ Still stopping the previous run, try again shortly")
	default:
		h.reply(ctx, chatID, "❌ Failed to start: "+err.Error())
	}
}

func (h *Handler) stop(ctx context.Context, chatID int64) {
	if !h.scheduler.Stop() {
		h.reply(ctx, chatID, "ℹ️ Monitoring is not running")
		return
	}
	h.reply(ctx, chatID, "🛑 Stopping monitoring…")
}

func (h *Handler) purge(ctx context.Context, chatID int64) {
	n := h.registry.Purge()
	h.setListed(nil)
	metrics.SetTargets(0)
	h.logger.Info("registry purged", zap.Int("removed", n))
	h.reply(ctx, chatID, fmt.Sprintf("✅ Purged %d URLs!", n))
}

func shortDigest(d string) string {
	if d == "" {
		return "(none)"
	}
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func formatAgo(d time.Duration) string {
	d = max(d, 0)
	switch {
	case d < 2*time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < 2*time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}

func formatUptime(d time.Duration) string {
	d = max(d, 0).Truncate(time.Second)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
