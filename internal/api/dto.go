package api

import (
	"time"

	"github.com/JakeFAU/zealywatch/internal/monitor"
)

type targetDTO struct {
	Position            int        `json:"position"`
	URL                 string     `json:"url"`
	Healthy             bool       `json:"healthy"`
	Fingerprint         string     `json:"fingerprint,omitempty"`
	AddedAt             time.Time  `json:"added_at"`
	LastCheckedAt       *time.Time `json:"last_checked_at,omitempty"`
	LastNotifiedAt      *time.Time `json:"last_notified_at,omitempty"`
	CheckCount          int64      `json:"check_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalFailures       int        `json:"total_failures"`
	AvgResponseMs       int64      `json:"avg_response_ms"`
	LastSource          string     `json:"last_source,omitempty"`
	LastSelector        string     `json:"last_selector,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

type statsDTO struct {
	Monitoring       string    `json:"monitoring"`
	Targets          int       `json:"targets"`
	Capacity         int       `json:"capacity"`
	StartedAt        time.Time `json:"started_at"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
	TotalChecks      int64     `json:"total_checks"`
	TotalChanges     int64     `json:"total_changes"`
	ProbeSuccess     int64     `json:"probe_success"`
	BrowserSuccess   int64     `json:"browser_success"`
	BrowserErrors    int64     `json:"browser_errors"`
	BrowserErrorRate float64   `json:"browser_error_rate"`
	DroppedEvents    int64     `json:"dropped_activity_events"`
}

// lastErrorLimit matches the diagnostic bound used in chat replies.
const lastErrorLimit = 200

func toTargetDTOs(in []monitor.Target) []targetDTO {
	out := make([]targetDTO, 0, len(in))
	for i, t := range in {
		out = append(out, targetDTO{
			Position:            i + 1,
			URL:                 t.URL,
			Healthy:             t.Healthy(),
			Fingerprint:         t.Fingerprint,
			AddedAt:             t.AddedAt,
			LastCheckedAt:       optionalTime(t.LastCheckedAt),
			LastNotifiedAt:      optionalTime(t.LastNotifiedAt),
			CheckCount:          t.CheckCount,
			ConsecutiveFailures: t.ConsecutiveFailures,
			TotalFailures:       t.TotalFailures,
			AvgResponseMs:       t.AvgResponseTime.Milliseconds(),
			LastSource:          string(t.LastSource),
			LastSelector:        t.LastSelector,
			LastError:           monitor.Truncate(t.LastError, lastErrorLimit),
		})
	}
	return out
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
