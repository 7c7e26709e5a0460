package unireq

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
)

// recordingConnector returns scripted outcomes and counts calls.
type recordingConnector struct {
	mu       sync.Mutex
	calls    atomic.Int64
	requests []*Request
	respond  func(n int, req *Request) (*Response, error)
}

func (c *recordingConnector) Request(ctx context.Context, req *Request) (*Response, error) {
	n := int(c.calls.Add(1))
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.respond == nil {
		return textResponse(req, http.StatusOK, "ok"), nil
	}
	return c.respond(n, req)
}

func (c *recordingConnector) Calls() int {
	return int(c.calls.Load())
}

func (c *recordingConnector) Last() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return nil
	}
	return c.requests[len(c.requests)-1]
}

func textResponse(req *Request, status int, body string) *Response {
	return &Response{
		StatusCode: status,
		Status:     statusText(status),
		Header:     make(http.Header),
		Body:       []byte(body),
		Request:    req,
	}
}

// testComposer returns a composer with stable identifiers.
func testComposer() *Composer {
	return NewComposer(WithIDGenerator(SequentialIDs()))
}

func tagged(name string, kind Kind) Policy {
	return Define(func(ctx context.Context, req *Request, next Next) (*Response, error) {
		return next(ctx, req)
	}, Descriptor{Name: name, Kind: kind})
}

func serve(t *testing.T, h *Handler, conn Connector, req *Request) (*Response, error) {
	t.Helper()
	return h.Bind(conn)(context.Background(), req)
}
