package utils

import "strings"

// SanitizeIdentifier makes an identifier safe for log prefixes and filesystem
// paths. Roster agent keys are user-authored and may contain spaces, colons,
// or path separators.
func SanitizeIdentifier(id string) string {
	// Replace colons with dashes (most common issue with agent keys like "claude_sonnet4:001")
	sanitized := strings.ReplaceAll(id, ":", "-")

	// Replace any other problematic characters for filesystem safety.
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	sanitized = strings.ReplaceAll(sanitized, "/", "-")
	sanitized = strings.ReplaceAll(sanitized, "\\", "-")

	return sanitized
}
