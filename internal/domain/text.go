package domain

import (
	"net/url"
	"regexp"
	"strings"
)

var unsafePathChars = regexp.MustCompile(`[^\w\-.]+`)

// NormalizeMediaURL strips query and fragment so CDN-signed variants of the
// same asset dedup to one key.
func NormalizeMediaURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// Truncate cuts text to at most max runes.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

// SanitizePathSegment makes a value safe as a single directory or file name
// segment. Empty results become "unknown".
func SanitizePathSegment(value string) string {
	sanitized := unsafePathChars.ReplaceAllString(strings.TrimSpace(value), "_")
	runes := []rune(sanitized)
	if len(runes) > 80 {
		sanitized = string(runes[:80])
	}
	if sanitized == "" {
		return "unknown"
	}
	return sanitized
}
