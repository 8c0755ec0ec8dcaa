// Package utils provides shared helpers for logging, text, vector math and
// atomic file writes.
package utils

// Truncate returns s cut to maxLen runes with "..." appended when cut.
// A maxLen of 0 or less returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
