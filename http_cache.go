package unireq

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// CacheDirectives represents parsed Cache-Control directives.
type CacheDirectives struct {
	NoStore        bool
	NoCache        bool
	MaxAge         *time.Duration
	SMaxAge        *time.Duration
	MustRevalidate bool
	Public         bool
	Private        bool
}

// ParseCacheControl parses a Cache-Control header into structured directives.
func ParseCacheControl(header string) CacheDirectives {
	var directives CacheDirectives
	if header == "" {
		return directives
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}

		// Handle directives with values
		if key, value, ok := strings.Cut(part, "="); ok {
			key = strings.TrimSpace(key)
			value = strings.Trim(strings.TrimSpace(value), "\"")
			seconds, err := strconv.Atoi(value)
			if err != nil || seconds < 0 {
				continue
			}
			d := time.Duration(seconds) * time.Second
			switch key {
			case "max-age":
				directives.MaxAge = &d
			case "s-maxage":
				directives.SMaxAge = &d
			}
			continue
		}

		switch part {
		case "no-store":
			directives.NoStore = true
		case "no-cache":
			directives.NoCache = true
		case "must-revalidate":
			directives.MustRevalidate = true
		case "public":
			directives.Public = true
		case "private":
			directives.Private = true
		}
	}

	return directives
}

// parseHTTPTime accepts the three date formats allowed for HTTP headers.
func parseHTTPTime(header string) (time.Time, bool) {
	if header == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC1123, time.RFC850, time.ANSIC} {
		if t, err := time.Parse(layout, header); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// responseTTL derives a lifetime for resp from its caching headers. store is
// false when the response must not be cached; ok is false when the headers
// say nothing and the caller's default applies.
func responseTTL(resp *Response, receivedAt time.Time) (ttl time.Duration, ok, store bool) {
	cc := ParseCacheControl(resp.Header.Get("Cache-Control"))
	if cc.NoStore {
		return 0, false, false
	}
	if cc.NoCache {
		return 0, true, true
	}
	if cc.MaxAge != nil {
		return *cc.MaxAge, true, true
	}
	if expires, found := parseHTTPTime(resp.Header.Get("Expires")); found {
		d := expires.Sub(receivedAt)
		if d < 0 {
			d = 0
		}
		return d, true, true
	}
	return 0, false, true
}

// CacheKey is the default cache key: the method and the normalised URL.
func CacheKey(req *Request) string {
	return req.Method + " " + NormalizeURL(req.URL)
}

// NormalizeURL lower-cases scheme and host, strips default ports, sorts the
// query and drops the fragment. Unparseable input is returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if h, port, err := net.SplitHostPort(host); err == nil {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			host = h
			if strings.Contains(h, ":") {
				host = "[" + h + "]"
			}
		}
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String()
}
