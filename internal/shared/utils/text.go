package utils

import "unicode/utf8"

// TruncateUTF8 cuts s to at most limit bytes without splitting a rune.
// A non-positive limit returns s unchanged.
func TruncateUTF8(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
