package simple

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/zealywatch/internal/monitor"
)

var now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestSuppressChange(t *testing.T) {
	t.Parallel()

	p := New(90*time.Second, 10*time.Minute, 5, 3)
	require.False(t, p.SuppressChange(monitor.Target{}, now))
	require.True(t, p.SuppressChange(monitor.Target{LastNotifiedAt: now.Add(-30 * time.Second)}, now))
	require.False(t, p.SuppressChange(monitor.Target{LastNotifiedAt: now.Add(-90 * time.Second)}, now))
}

func TestOnFailure(t *testing.T) {
	t.Parallel()

	p := New(90*time.Second, 10*time.Minute, 5, 3)
	cases := []struct {
		name   string
		target monitor.Target
		want   Action
	}{
		{"below warning", monitor.Target{ConsecutiveFailures: 3}, ActionNone},
		{"first warning", monitor.Target{ConsecutiveFailures: 4}, ActionWarn},
		{"warned recently", monitor.Target{ConsecutiveFailures: 5, LastWarnedAt: now.Add(-time.Minute)}, ActionNone},
		{"warning cooldown elapsed", monitor.Target{ConsecutiveFailures: 5, LastWarnedAt: now.Add(-10 * time.Minute)}, ActionWarn},
		{"over threshold", monitor.Target{ConsecutiveFailures: 6, LastWarnedAt: now}, ActionEvict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, p.OnFailure(tc.target, now))
		})
	}
	require.Equal(t, "evict", ActionEvict.String())
}
