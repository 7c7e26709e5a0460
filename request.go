package unireq

import (
	"bytes"
	"io"
	"maps"
	"net/http"
	"strings"
)

// Request is one in-flight request travelling down a policy chain. Values are
// treated as immutable snapshots: the With* helpers return a modified copy and
// never touch the receiver, so a policy that calls next more than once can
// always start from the request it was given.
type Request struct {
	URL    string
	Method string
	Header http.Header
	// Body is nil, a string, a []byte, an io.Reader or a structured value
	// that a parser policy encodes before it reaches the connector.
	Body any

	ext map[any]any
}

// NewRequest returns a request with an empty header set.
func NewRequest(method, url string) *Request {
	return &Request{
		URL:    url,
		Method: strings.ToUpper(method),
		Header: make(http.Header),
	}
}

// Clone returns a shallow copy with its own header and extension maps.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if r.ext != nil {
		c.ext = maps.Clone(r.ext)
	}
	return &c
}

// WithHeader returns a copy with header key set to value.
func (r *Request) WithHeader(key, value string) *Request {
	c := r.Clone()
	c.Header.Set(key, value)
	return c
}

// WithoutHeader returns a copy with header key removed.
func (r *Request) WithoutHeader(key string) *Request {
	c := r.Clone()
	c.Header.Del(key)
	return c
}

// WithBody returns a copy carrying body.
func (r *Request) WithBody(body any) *Request {
	c := r.Clone()
	c.Body = body
	return c
}

// WithURL returns a copy targeting url.
func (r *Request) WithURL(url string) *Request {
	c := r.Clone()
	c.URL = url
	return c
}

// WithMethod returns a copy using method.
func (r *Request) WithMethod(method string) *Request {
	c := r.Clone()
	c.Method = strings.ToUpper(method)
	return c
}

// WithValue returns a copy with an extension slot set. Extension slots are a
// side channel between cooperating policies (timing marks, cache hand-off).
// Use unexported key types to avoid collisions.
func (r *Request) WithValue(key, value any) *Request {
	c := r.Clone()
	if c.ext == nil {
		c.ext = make(map[any]any, 1)
	}
	c.ext[key] = value
	return c
}

// Value returns the extension slot stored under key.
func (r *Request) Value(key any) any {
	if r == nil || r.ext == nil {
		return nil
	}
	return r.ext[key]
}

// BodySize reports the size of a buffered body. ok is false for streams and
// structured values whose encoded size is unknown.
func (r *Request) BodySize() (n int64, ok bool) {
	switch b := r.Body.(type) {
	case nil:
		return 0, true
	case string:
		return int64(len(b)), true
	case []byte:
		return int64(len(b)), true
	case *bytes.Reader:
		return int64(b.Len()), true
	case *strings.Reader:
		return int64(b.Len()), true
	case *bytes.Buffer:
		return int64(b.Len()), true
	default:
		return 0, false
	}
}

// Replayable reports whether the body can be sent more than once.
func (r *Request) Replayable() bool {
	switch r.Body.(type) {
	case io.Reader:
		return false
	default:
		return true
	}
}
