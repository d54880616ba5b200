package util

import (
	"strings"
)

func StripQuote(s string) string {

	m := strings.TrimSpace(s)
	if len(m) > 0 && m[0] == '"' {
		m = m[1:]
	}

	if len(m) > 0 && m[len(m)-1] == '"' {
		m = m[:len(m)-1]
	}

	return m
}

// NormalizeEndpoint trims whitespace and trailing slashes from a gateway URL
func NormalizeEndpoint(e string) string {
	return strings.TrimRight(strings.TrimSpace(e), "/")
}

// ShortPrincipal renders the first and last group of a principal for logs
// and notifications, e.g. "2vxsx...-fae".
func ShortPrincipal(p Principal) string {
	s := p.String()
	if len(s) <= 16 {
		return s
	}

	return s[:5] + "..." + s[strings.LastIndex(s, "-"):]
}
