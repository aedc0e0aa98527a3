// Package searchkey turns caller supplied search keys into directory names and search URLs.
package searchkey

import (
	"net/url"
	"strings"

	"imgscraper/pkg/config"
)

// Key identifies one scraping job
type Key string

// Sanitize replaces every rune outside [A-Za-z0-9_.-] with an underscore.
// The empty key maps to "_" so the result is always a usable path segment.
func Sanitize(key string) string {
	if key == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		if isSafe(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '.', r == '-':
		return true
	default:
		return false
	}
}

// Sanitized returns the directory name for k
func (k Key) Sanitized() string {
	return Sanitize(string(k))
}

// BuildURL substitutes the query-escaped key into tmpl
func BuildURL(tmpl string, key Key) string {
	return strings.Replace(tmpl, config.SearchKeyPlaceholder, url.QueryEscape(string(key)), 1)
}
