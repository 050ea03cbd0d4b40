// Package ndwutil provides small shared helpers for text and logging.
package ndwutil

// Truncate returns s truncated to maxLen bytes, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
