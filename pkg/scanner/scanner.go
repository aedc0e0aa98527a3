// Package scanner extracts candidate image URLs from a rendered results page.
package scanner

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ImageAttributes lists the attributes inspected on each <img>, in priority order.
// Only the first attribute present on an element is used.
var ImageAttributes = []string{"src", "data-src", "data-original"}

// SeenSet holds every URL already discovered by one key scraper
type SeenSet map[string]struct{}

// NewSeenSet returns an empty set
func NewSeenSet() SeenSet {
	return make(SeenSet)
}

// Has reports whether u was already seen
func (s SeenSet) Has(u string) bool {
	_, ok := s[u]
	return ok
}

// Merge adds every URL in urls to the set
func (s SeenSet) Merge(urls []string) {
	for _, u := range urls {
		s[u] = struct{}{}
	}
}

// Scan parses html and returns the absolute image URLs that are not in seen,
// deduplicated and in document order. It does not modify seen.
func Scan(html, baseURL string, seen SeenSet) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	found := make(map[string]struct{})
	var urls []string
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		raw, ok := firstAttribute(img)
		if !ok {
			return
		}
		resolved, ok := resolve(base, raw)
		if !ok {
			return
		}
		if seen.Has(resolved) {
			return
		}
		if _, dup := found[resolved]; dup {
			return
		}
		found[resolved] = struct{}{}
		urls = append(urls, resolved)
	})

	return urls, nil
}

// firstAttribute returns the value of the first ImageAttributes entry present on img
func firstAttribute(img *goquery.Selection) (string, bool) {
	for _, attr := range ImageAttributes {
		if val, exists := img.Attr(attr); exists {
			return val, true
		}
	}
	return "", false
}

// resolve makes raw absolute against base, keeping only http(s) URLs
func resolve(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}
