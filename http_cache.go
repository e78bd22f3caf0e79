package computor

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CacheDirectives represents the parsed Cache-Control directives the client
// acts on when HTTP cache semantics are enabled.
type CacheDirectives struct {
	NoStore bool
	NoCache bool
	MaxAge  *time.Duration
	Private bool
}

// parseCacheControl parses a Cache-Control header into structured directives.
func parseCacheControl(header string) *CacheDirectives {
	directives := &CacheDirectives{}
	if header == "" {
		return directives
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if key, value, found := strings.Cut(part, "="); found {
			key = strings.TrimSpace(key)
			value = strings.Trim(strings.TrimSpace(value), "\"")
			if key == "max-age" {
				if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
					maxAge := time.Duration(seconds) * time.Second
					directives.MaxAge = &maxAge
				}
			}
			continue
		}

		switch part {
		case "no-store":
			directives.NoStore = true
		case "no-cache":
			directives.NoCache = true
		case "private":
			directives.Private = true
		}
	}

	return directives
}

// parseExpires parses an Expires header into a time.Time.
func parseExpires(header string) *time.Time {
	if header == "" {
		return nil
	}
	for _, layout := range []string{time.RFC1123, time.RFC850, time.ANSIC} {
		if t, err := time.Parse(layout, header); err == nil {
			return &t
		}
	}
	return nil
}

// headerCacheTTL derives a cache lifetime from response headers. storable is
// false when the response forbids caching (no-store, no-cache, or already
// expired). A nil TTL with storable true means the headers are silent and the
// configured TTL applies.
func headerCacheTTL(header http.Header, receivedAt time.Time) (ttl *time.Duration, storable bool) {
	directives := parseCacheControl(header.Get("Cache-Control"))
	if directives.NoStore || directives.NoCache {
		return nil, false
	}

	if directives.MaxAge != nil {
		return directives.MaxAge, true
	}

	if expires := parseExpires(header.Get("Expires")); expires != nil {
		remaining := expires.Sub(receivedAt)
		if remaining <= 0 {
			return nil, false
		}
		return &remaining, true
	}

	return nil, true
}
