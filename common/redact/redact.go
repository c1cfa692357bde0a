// Package redact strips credentials (bot tokens, access tokens, backend API
// keys) from strings and key/value data before they are logged or served.
//
// It is best-effort string replacement; call-sites should still avoid
// passing secrets to loggers.
package redact

import "strings"

// Placeholder replaces every redacted value.
const Placeholder = "[REDACTED]"

// minSecretLen guards against redacting short, common substrings.
const minSecretLen = 4

// String replaces every occurrence of each secret in s with Placeholder.
// Secrets shorter than four bytes are ignored.
func String(s string, secrets ...string) string {
	for _, v := range secrets {
		if len(v) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, v, Placeholder)
	}
	return s
}

// Map returns a shallow copy of m in which non-empty string values under
// secret-looking keys are replaced with Placeholder.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok && s != "" && SensitiveKey(k) {
			out[k] = Placeholder
			continue
		}
		out[k] = v
	}
	return out
}

var sensitiveWords = []string{"password", "passwd", "token", "secret", "key", "credential", "auth"}

// SensitiveKey reports whether a key name suggests it holds a credential.
func SensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, w := range sensitiveWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
