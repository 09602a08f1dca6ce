// Package redact strips credentials and phone numbers from raw AMI events
// before they are mirrored to dashboards or written to captures.
package redact

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Marker replaces the value of a sensitive field.
const Marker = "[REDACTED]"

// maskPrefix is prepended to the visible suffix of a partially redacted value.
const maskPrefix = "***"

// visibleSuffix is the number of trailing characters kept by Redact.
const visibleSuffix = 4

// Field name fragments, matched as case-insensitive substrings.
var (
	sensitiveFields = []string{
		"secret",
		"password",
		"passwd",
		"token",
		"authtoken",
		"apikey",
		"api_key",
		"api-key",
		"accountcode",
		"md5secret",
	}

	piiFields = []string{
		"calleridnum",
		"callerid",
		"connectedlinenum",
		"dnid",
		"rdnis",
		"ani",
	}
)

// Redact keeps the last four characters of value. Values of four characters
// or fewer are returned unchanged. Invalid UTF-8 is cut by bytes so the
// suffix stays verbatim.
func Redact(value string) string {
	if !utf8.ValidString(value) {
		if len(value) <= visibleSuffix {
			return value
		}
		return maskPrefix + value[len(value)-visibleSuffix:]
	}
	r := []rune(value)
	if len(r) <= visibleSuffix {
		return value
	}
	return maskPrefix + string(r[len(r)-visibleSuffix:])
}

// IsSensitive reports whether a field must be fully replaced.
func IsSensitive(key string) bool {
	return containsAny(strings.ToLower(key), sensitiveFields)
}

// IsPII reports whether a field holds a number that must be partially masked.
func IsPII(key string) bool {
	return containsAny(strings.ToLower(key), piiFields)
}

// Field sanitizes a single value according to its key. Nested maps are
// sanitized recursively.
func Field(key string, value any) any {
	switch {
	case IsSensitive(key):
		return Marker
	case IsPII(key):
		if value == nil {
			return nil
		}
		if s, ok := value.(string); ok {
			return Redact(s)
		}
		return Redact(fmt.Sprint(value))
	}
	if m, ok := value.(map[string]any); ok {
		return sanitizeMap(m)
	}
	return value
}

// Sanitize returns a sanitized copy of v when it is a map[string]any.
// Any other input, including nil, is returned unchanged.
func Sanitize(v any) any {
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return v
	}
	return sanitizeMap(m)
}

func sanitizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Field(k, v)
	}
	return out
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}
