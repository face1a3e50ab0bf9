package string

import "strings"

// TrimStrings trims surrounding whitespace in place. Nil pointers are skipped.
func TrimStrings(ss ...*string) {
	for _, s := range ss {
		if s == nil {
			continue
		}
		*s = strings.TrimSpace(*s)
	}
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
