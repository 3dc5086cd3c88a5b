package util

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

func Normalize(s string) string {
	return norm.NFKC.String(s)
}

// NormalizeEmail returns the canonical lookup form of an e-mail address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(Normalize(s)))
}

func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Truncate shortens s to at most max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
