// Package simple holds the threshold-based escalation policy applied after
// every check: change-alert cooldown, failure warnings and eviction.
package simple

import (
	"time"

	"github.com/JakeFAU/zealywatch/internal/monitor"
)

// Action is what the scheduler should do after a failed check.
type Action int

// Failure actions.
const (
	ActionNone Action = iota
	ActionWarn
	ActionEvict
)

func (a Action) String() string {
	switch a {
	case ActionWarn:
		return "warn"
	case ActionEvict:
		return "evict"
	default:
		return "none"
	}
}

// Policy evaluates target state against fixed thresholds.
type Policy struct {
	NotifyCooldown   time.Duration
	WarningCooldown  time.Duration
	FailureThreshold int
	WarningThreshold int
}

// New creates a Policy.
func New(notifyCooldown, warningCooldown time.Duration, failureThreshold, warningThreshold int) *Policy {
	return &Policy{
		NotifyCooldown:   notifyCooldown,
		WarningCooldown:  warningCooldown,
		FailureThreshold: failureThreshold,
		WarningThreshold: warningThreshold,
	}
}

// SuppressChange reports whether a change alert for t is still inside the
// notification cooldown at now.
func (p Policy) SuppressChange(t monitor.Target, now time.Time) bool {
	return !t.LastNotifiedAt.IsZero() && now.Sub(t.LastNotifiedAt) < p.NotifyCooldown
}

// OnFailure picks the action for t, whose counters already include the
// failure being handled.
func (p Policy) OnFailure(t monitor.Target, now time.Time) Action {
	switch {
	case t.ConsecutiveFailures > p.FailureThreshold:
		return ActionEvict
	case t.ConsecutiveFailures > p.WarningThreshold &&
		t.ConsecutiveSuccesses == 0 &&
		(t.LastWarnedAt.IsZero() || now.Sub(t.LastWarnedAt) >= p.WarningCooldown):
		return ActionWarn
	default:
		return ActionNone
	}
}
