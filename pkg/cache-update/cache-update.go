package cacheupdate

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Header is the response header through which the API announces
// which cached URLs a write has made outdated.
const Header = "Cache-Update"

var delayDirective = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// CacheUpdate represents a single `Cache-Update` entry.
type CacheUpdate struct {
	// API-relative URL to update, query string included.
	URL string
	// Update delay, i.e. refetch after this duration.
	Delay time.Duration
}

// Parse gets the updates announced by a write response.
// The writeURL of the request is used to resolve relative update paths.
// Entries that cannot be parsed are skipped.
func Parse(writeURL string, header http.Header) []CacheUpdate {
	base, err := url.Parse(writeURL)
	if err != nil {
		return nil
	}
	updates := make([]CacheUpdate, 0)
	for _, value := range header.Values(Header) {
		for _, update := range strings.Split(value, ",") {
			u, ok := getURL(base, update)
			if !ok {
				continue
			}
			updates = append(updates, CacheUpdate{URL: u, Delay: getDelay(update)})
		}
	}
	return updates
}

// getURL returns the URL to update from a `Cache-Update` entry.
// The URL is the first parameter in the entry (separated by a semicolon).
func getURL(base *url.URL, update string) (string, bool) {
	ref := update
	if i := strings.Index(update, ";"); i != -1 {
		ref = update[:i]
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(r).RequestURI(), true
}

// getDelay returns the delay from the `delay=N` directive, N being seconds.
// If no delay directive is found, it returns 0.
func getDelay(update string) time.Duration {
	if matches := delayDirective.FindStringSubmatch(update); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return time.Duration(delay) * time.Second
		}
	}
	return 0
}
