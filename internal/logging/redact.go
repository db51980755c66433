package logging

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Sensitive field names that should be redacted.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"credential",
}

// Patterns for secrets and personal data that must not reach log sinks.
var secretPatterns = []*regexp.Regexp{
	// API keys (common formats)
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9]{20,})`),
	regexp.MustCompile(`(?i)(ghp_[a-zA-Z0-9]{36})`),

	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{20,})`),

	// Generic long strings that look like secrets
	regexp.MustCompile(`(?i)(key|token|secret|password|auth)[=:]["']?([a-zA-Z0-9+/=_-]{32,})["']?`),

	// Email addresses
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// DefaultPreviewLength is the rune budget used by Preview when none is given.
const DefaultPreviewLength = 40

// Redact replaces sensitive information in a string.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// Preview returns a redacted, single-line, rune-safe excerpt of message
// content for logs and inbox rows.
func Preview(content string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultPreviewLength
	}
	flat := strings.Join(strings.Fields(Redact(content)), " ")
	if utf8.RuneCountInString(flat) <= maxRunes {
		return flat
	}
	runes := []rune(flat)
	return string(runes[:maxRunes]) + "…"
}

// RedactMap redacts sensitive fields in a map.
func RedactMap(m map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(m))

	for k, v := range m {
		if IsSensitiveField(k) {
			result[k] = RedactedValue
		} else if nested, ok := v.(map[string]interface{}); ok {
			result[k] = RedactMap(nested)
		} else if str, ok := v.(string); ok {
			result[k] = Redact(str)
		} else {
			result[k] = v
		}
	}

	return result
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}
