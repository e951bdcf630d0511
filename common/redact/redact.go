// Package redact strips credential values from text before it leaves the
// process boundary.
//
// AutoBot quotes raw upstream error payloads back into chat so operators can
// diagnose failures. Those payloads occasionally echo request headers or
// query parameters, so every chat-bound error body is passed through here
// with the full set of configured credentials first.
//
// Redaction is best-effort: it operates on string representations and relies
// on callers to pass the right set of sensitive terms. It is not a substitute
// for keeping secrets out of outbound messages in the first place.
package redact

import "strings"

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid spurious
// redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}
