package llm

import "strings"

// Sanitize strips NUL bytes and truncates s to max bytes so a hostile or
// oversized completion cannot break downstream rendering. max <= 0 means
// no length cap.
func Sanitize(s string, max int) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if max > 0 && len(s) > max {
		s = s[:max]
	}
	return s
}
