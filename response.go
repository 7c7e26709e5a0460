package unireq

import (
	"net/http"
	"time"
)

// Response is the result of a request. It is treated as immutable once
// produced; policies that transform it return a modified copy.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	// Body is the raw payload as read from the connector.
	Body []byte
	// Value holds the parsed payload when a parser policy ran.
	Value any
	// Timing is attached by the Timing policy.
	Timing *TimingInfo
	// Request is the request that produced this response.
	Request *Request
}

// TimingInfo describes the lifetime of one external call.
type TimingInfo struct {
	Start time.Time
	Total time.Duration
	// Marks are offsets from Start recorded by connectors and policies.
	Marks map[string]time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Text returns the raw body as a string.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// Clone returns a copy with its own header map and body slice.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// WithHeader returns a copy with header key set to value.
func (r *Response) WithHeader(key, value string) *Response {
	c := r.Clone()
	c.Header.Set(key, value)
	return c
}

// WithValue returns a copy carrying a parsed payload.
func (r *Response) WithValue(v any) *Response {
	c := *r
	c.Value = v
	return &c
}

// WithTiming returns a copy carrying t.
func (r *Response) WithTiming(t *TimingInfo) *Response {
	c := *r
	c.Timing = t
	return &c
}

func statusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Unknown"
}
