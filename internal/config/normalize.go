package config

import (
	"regexp"
	"strings"
)

const DefaultSessionKey = "default"

var (
	validKeyRe   = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	leadingDash  = regexp.MustCompile(`^-+`)
	trailingDash = regexp.MustCompile(`-+$`)
)

// NormalizeSessionKey converts a client-provided session name into a valid
// session key:
//   - lowercase, max 64 chars
//   - only [a-z0-9_-] allowed; invalid runs collapse to "-"
//   - leading/trailing dashes stripped
//   - empty result falls back to "default"
func NormalizeSessionKey(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultSessionKey
	}

	lower := strings.ToLower(trimmed)
	if validKeyRe.MatchString(lower) {
		return lower
	}

	result := invalidChars.ReplaceAllString(lower, "-")
	result = leadingDash.ReplaceAllString(result, "")
	result = trailingDash.ReplaceAllString(result, "")

	if len(result) > 64 {
		result = result[:64]
	}
	if result == "" {
		return DefaultSessionKey
	}
	return result
}
