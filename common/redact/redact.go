// Package redact strips credentials from text before it leaves the process,
// which for ghostai means log lines and the diagnostic replies that embed a
// raw completion-backend payload.
//
// Redaction is best-effort: it relies on callers passing the sensitive terms
// and does not replace keeping secrets out of log call-sites.
package redact

import (
	"strings"
	"unicode/utf8"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid spurious
// redaction of common substrings.
//
//	safe := redact.String(payload, apiKey)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Payload redacts s and then caps it at maxRunes characters, appending an
// ellipsis when something was cut. A non-positive maxRunes disables the cap.
func Payload(s string, maxRunes int, sensitiveValues ...string) string {
	s = String(s, sensitiveValues...)
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "…"
}
