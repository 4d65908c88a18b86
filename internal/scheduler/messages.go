package scheduler

import (
	"fmt"
	"time"

	"github.com/JakeFAU/zealywatch/internal/monitor"
)

func changeMessage(url string, responseTime time.Duration) string {
	return fmt.Sprintf("🚨 CHANGE DETECTED!\n%s\n⚡ Response: %.2fs", url, responseTime.Seconds())
}

func evictionMessage(t monitor.Target) string {
	msg := fmt.Sprintf("🔴 Removed due to failures: %s\n%d consecutive failures", t.URL, t.ConsecutiveFailures)
	if t.LastError != "" {
		msg += "\nLast error: " + monitor.Truncate(t.LastError, 200)
	}
	return msg
}

func warningMessage(t monitor.Target, threshold int) string {
	return fmt.Sprintf("⚠️ %s failed %d checks in a row.\nIt will be removed after %d.\nLast error: %s",
		t.URL, t.ConsecutiveFailures, threshold+1, monitor.Truncate(t.LastError, 200))
}

func startedMessage(interval time.Duration) string {
	return fmt.Sprintf("🚀 Monitoring started!\n⚡ Check every %s", interval)
}

func stoppedMessage() string {
	return "🛑 Monitoring stopped"
}
