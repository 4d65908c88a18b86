package monitor

import (
	"time"
	"unicode/utf16"
)

// Source records which extraction path produced a page's text.
type Source string

// Supported extraction sources.
const (
	SourceProbe   Source = "probe"
	SourceBrowser Source = "browser"
)

// Target is one watched URL and its monitoring state.
type Target struct {
	// URL is the canonical identifier and registry key.
	URL string `json:"url"`
	// Fingerprint is the hex digest of the last accepted content; empty until
	// the first successful fetch.
	Fingerprint string `json:"fingerprint,omitempty"`

	AddedAt        time.Time `json:"added_at"`
	LastCheckedAt  time.Time `json:"last_checked_at,omitempty"`
	LastNotifiedAt time.Time `json:"last_notified_at,omitempty"`
	LastWarnedAt   time.Time `json:"last_warned_at,omitempty"`

	ConsecutiveFailures  int   `json:"consecutive_failures"`
	ConsecutiveSuccesses int   `json:"consecutive_successes"`
	TotalFailures        int   `json:"total_failures"`
	CheckCount           int64 `json:"check_count"`

	// LastError is operator-facing diagnostic text and is never parsed.
	LastError string `json:"last_error,omitempty"`
	// AvgResponseTime is an EWMA of fetch latency.
	AvgResponseTime time.Duration `json:"avg_response_time"`
	LastSelector    string        `json:"last_selector,omitempty"`
	LastSource      Source        `json:"last_source,omitempty"`
}

// Healthy reports whether the most recent check succeeded.
func (t Target) Healthy() bool {
	return t.ConsecutiveFailures == 0
}

// ewmaWeight is the share given to the newest latency sample.
const ewmaWeight = 0.3

// ObserveLatency folds a new latency sample into AvgResponseTime. The first
// sample seeds the average directly.
func (t *Target) ObserveLatency(sample time.Duration) {
	if t.AvgResponseTime <= 0 {
		t.AvgResponseTime = sample
		return
	}
	avg := ewmaWeight*float64(sample) + (1-ewmaWeight)*float64(t.AvgResponseTime)
	t.AvgResponseTime = time.Duration(avg)
}

// SelectorRule is one candidate content container and how long to wait for it.
type SelectorRule struct {
	Selector string
	Timeout  time.Duration
}

// Extraction is raw visible text pulled from a page before normalization.
type Extraction struct {
	Text     string
	Selector string
	Source   Source
}

// FetchResult is a successfully fingerprinted page.
type FetchResult struct {
	URL    string
	Digest string
	// Text is the normalized content that was hashed.
	Text         string
	Selector     string
	Source       Source
	Attempts     int
	ResponseTime time.Duration
}

// Sample returns the first n runes of the normalized text.
func (r FetchResult) Sample(n int) string {
	return Truncate(r.Text, n)
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(runes[:n-1]) + "…"
}

// TruncateUTF16 shortens s to at most n UTF-16 code units, the unit chat
// message limits are measured in. Characters outside the BMP count twice.
func TruncateUTF16(s string, n int) string {
	if n <= 0 {
		return ""
	}
	units := 0
	for _, r := range s {
		units += max(utf16.RuneLen(r), 1)
	}
	if units <= n {
		return s
	}
	// Leave one unit for the ellipsis.
	budget, cut := n-1, 0
	for i, r := range s {
		w := max(utf16.RuneLen(r), 1)
		if w > budget {
			cut = i
			break
		}
		budget -= w
	}
	return s[:cut] + "…"
}
