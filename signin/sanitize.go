package signin

import "strings"

// Sanitize strips control characters (0x00-0x1F, 0x7F), zero-width
// characters and Unicode line/paragraph separators from a field value.
// It is idempotent and runs on every field before serialization.
func Sanitize(s string) string {
	if sanitized(s) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if forbiddenRune(r) {
			return -1
		}
		return r
	}, s)
}

// sanitized reports whether s is already free of forbidden characters.
func sanitized(s string) bool {
	return strings.IndexFunc(s, forbiddenRune) < 0
}

func forbiddenRune(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d': // zero-width space and joiners
		return true
	case '\u2060', '\ufeff': // word joiner, BOM
		return true
	case '\u2028', '\u2029': // line and paragraph separators
		return true
	}
	return r < 0x20 || r == 0x7F
}
