// Package redact strips sensitive values (generation API keys, Matrix access
// tokens, Redis passwords) from error text and configuration dumps before
// they are logged.
//
// Redaction is best-effort: it operates on string representations and relies
// on callers to pass the right set of sensitive terms.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Error returns the redacted text of err, or "" for a nil error.
func Error(err error, sensitiveValues ...string) string {
	if err == nil {
		return ""
	}
	return String(err.Error(), sensitiveValues...)
}

// Map returns a shallow copy of m with string values replaced by [REDACTED]
// for every key whose name suggests it holds a secret.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if str, ok := v.(string); ok && str != "" && IsSensitiveKey(k) {
			out[k] = placeholder
			continue
		}
		out[k] = v
	}
	return out
}

// IsSensitiveKey reports whether a configuration or field name suggests it
// holds a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "apikey", "api_key", "credential", "auth"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
