package memory

import (
	"regexp"
	"strings"
)

var nonKeyChars = regexp.MustCompile(`[^a-z0-9]`)

// normalizeKey is the global-bucket key: lowercase with every character
// outside [a-z0-9] replaced by '_'.
func normalizeKey(content string) string {
	return nonKeyChars.ReplaceAllString(strings.ToLower(content), "_")
}

// groupKey is the coarse consolidation key: the first three space-separated
// words of the lowercased content.
func groupKey(content string) string {
	words := strings.Split(strings.ToLower(content), " ")
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " ")
}

// derefString safely dereferences *string for structured logs.
func derefString(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

// truncateString shortens content for log safety.
func truncateString(s string, n int) string {
	rs := []rune(s)
	if len(rs) > n {
		return string(rs[:n]) + "..."
	}
	return s
}
