package util

import (
	"strings"
	"unicode/utf8"
)

func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// NormalizeText lowercases s and collapses every run of whitespace into a
// single space. Leading and trailing whitespace is dropped.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// TruncateRunes cuts s to at most maxRunes runes. maxRunes <= 0 disables the
// limit.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}
