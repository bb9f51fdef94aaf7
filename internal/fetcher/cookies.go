// Package fetcher holds fetch helpers shared by fetcher implementations.
package fetcher

import (
	"fmt"
	"os"
	"strings"
)

// LoadCookieFile reads a cookie file containing "name=value" pairs separated
// by semicolons or newlines, as exported from a browser session. The site
// requires an authenticated session for most detail pages.
func LoadCookieFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	return ParseCookies(string(data)), nil
}

// ParseCookies parses a cookie-header-like string into a map. Malformed
// fragments are skipped.
func ParseCookies(raw string) map[string]string {
	cookies := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		for _, pair := range strings.Split(line, ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, value, ok := strings.Cut(pair, "=")
			name = strings.TrimSpace(name)
			if !ok || name == "" {
				continue
			}
			cookies[name] = strings.TrimSpace(value)
		}
	}
	return cookies
}
