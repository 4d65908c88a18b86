// Package normalize strips volatile substrings from extracted page text so
// that cosmetic churn (timestamps, counters, identifiers) does not register as
// a content change.
package normalize

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
)

// Rule is one category of volatile content.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Every pattern must match at least two characters so that cutting a match
// always shrinks the text.
var defaultRules = []Rule{
	{"iso_timestamp", regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?`)},
	{"date", regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}[./]\d{1,2}[./]\d{2,4}\b`)},
	{"month_date", regexp.MustCompile(`(?i)\b(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?\b`)},
	{"relative_time", regexp.MustCompile(`(?i)\b(?:updated\s+|posted\s+|edited\s+)?(?:\d+|an?|one|few)\s*(?:s|secs?|seconds?|m|mins?|minutes?|h|hrs?|hours?|d|days?|w|wks?|weeks?|mo|months?|y|yrs?|years?)\s+ago\b`)},
	{"just_now", regexp.MustCompile(`(?i)\b(?:just now|moments? ago|a moment ago|yesterday|today)\b`)},
	{"countdown", regexp.MustCompile(`(?i)\b(?:ends\s+in\s+|starts\s+in\s+)?\d+\s*(?:d|h|m|s|days?|hours?|mins?|minutes?|secs?|seconds?)(?:\s+\d+\s*(?:d|h|m|s|days?|hours?|mins?|minutes?|secs?|seconds?))*\s+(?:left|remaining)\b`)},
	{"clock_time", regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}(?::\d{2})?(?:\s*[ap]\.?m\.?)?`)},
	{"xp_points", regexp.MustCompile(`(?i)\b\d[\d,.]*\s*[kmb]?\s*(?:xp|points?|pts|score)\b|\b(?:xp|points?|score)\s*:?\s*\d[\d,.]*[kmb]?`)},
	{"uuid", regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)},
	{"hex_digest", regexp.MustCompile(`(?i)\b(?:0x)?[0-9a-f]{16,}\b`)},
	{"engagement", regexp.MustCompile(`(?i)\b\d[\d,.]*\s*[kmb]?\s*(?:views?|likes?|comments?|replies|reply|reactions?|shares?|claimed|claims?|submissions?|completions?|completed|votes?)\b`)},
	{"membership", regexp.MustCompile(`(?i)\b\d[\d,.]*\s*[kmb]?\s*(?:members?|online|followers?|participants?|users?|holders?|joined)\b`)},
	{"percentage", regexp.MustCompile(`\d+(?:[.,]\d+)?\s*%`)},
	{"fraction", regexp.MustCompile(`\b\d+\s*/\s*\d+\b`)},
	{"rank", regexp.MustCompile(`(?i)#\d+\b|\b(?:rank|position|place|top)\s*#?\s*\d+\b|\b\d+(?:st|nd|rd|th)\b`)},
	{"session_token", regexp.MustCompile(`(?i)\b(?:token|session|sessionid|sid|csrf|nonce|auth)\s*[=:]\s*\S+`)},
	{"opaque_id", regexp.MustCompile(`\b[A-Za-z0-9_\-]{32,}\b`)},
	{"loading_state", regexp.MustCompile(`(?i)\b(?:loading|please wait|refreshing|connecting|reconnecting|fetching|syncing|updating)\b(?:\.{2,}|…)?`)},
}

// DefaultRules returns a copy of the built-in rule set.
func DefaultRules() []Rule {
	return append([]Rule(nil), defaultRules...)
}

// Normalizer applies a fixed rule set to raw text.
type Normalizer struct {
	rules []Rule
}

// New builds a Normalizer. With no rules it uses DefaultRules.
func New(rules ...Rule) *Normalizer {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Normalizer{rules: rules}
}

var std = New()

// Normalize cleans raw using the default rules.
func Normalize(raw string) string {
	return std.Normalize(raw)
}

// Normalize removes every rule's matches and collapses whitespace. Each pass
// matches all rules against the same text and cuts the union of their spans,
// so rule order never changes the outcome. Passes repeat until the text stops
// changing, which makes the result a fixed point.
func (n *Normalizer) Normalize(raw string) string {
	text := raw
	for {
		next := n.pass(text)
		if next == text {
			return next
		}
		text = next
	}
}

type span struct{ start, end int }

func (n *Normalizer) pass(text string) string {
	var spans []span
	for _, rule := range n.rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			spans = append(spans, span{loc[0], loc[1]})
		}
	}
	if len(spans) == 0 {
		return collapse(text)
	}
	slices.SortFunc(spans, func(a, b span) int { return cmp.Compare(a.start, b.start) })

	var b strings.Builder
	b.Grow(len(text))
	cur := spans[0]
	pos := 0
	for _, s := range spans[1:] {
		if s.start <= cur.end {
			cur.end = max(cur.end, s.end)
			continue
		}
		b.WriteString(text[pos:cur.start])
		b.WriteByte(' ')
		pos = cur.end
		cur = s
	}
	b.WriteString(text[pos:cur.start])
	b.WriteByte(' ')
	b.WriteString(text[cur.end:])
	return collapse(b.String())
}

func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ruleNames returns the names of the active rules in application order.
func (n *Normalizer) ruleNames() []string {
	names := make([]string, 0, len(n.rules))
	for _, r := range n.rules {
		names = append(names, r.Name)
	}
	return names
}
