package unireq

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"
)

// Connector performs the actual transport call at the end of a chain.
type Connector interface {
	Request(ctx context.Context, req *Request) (*Response, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, req *Request) (*Response, error)

// Request implements Connector.
func (f ConnectorFunc) Request(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// DefaultMaxResponseBytes bounds how much of a response body HTTPConnector reads.
const DefaultMaxResponseBytes int64 = 32 << 20

// HTTPConnector sends requests through a net/http client.
type HTTPConnector struct {
	client           *http.Client
	maxResponseBytes int64
}

// NewHTTPConnector wraps client. A nil client gets a 30 second timeout
// default; maxResponseBytes <= 0 means DefaultMaxResponseBytes.
func NewHTTPConnector(client *http.Client, maxResponseBytes int64) *HTTPConnector {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxResponseBytes <= 0 {
		maxResponseBytes = DefaultMaxResponseBytes
	}
	return &HTTPConnector{client: client, maxResponseBytes: maxResponseBytes}
}

// Request implements Connector.
func (c *HTTPConnector) Request(ctx context.Context, req *Request) (*Response, error) {
	body, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	if tracer := traceMarks(req); tracer != nil {
		ctx = httptrace.WithClientTrace(ctx, tracer)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, newError(ErrorTypeValidation, "invalid request", req, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if n, ok := req.BodySize(); ok && body != nil {
		httpReq.ContentLength = n
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, req, err)
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, classifyTransportError(ctx, req, err)
	}
	if int64(len(payload)) > c.maxResponseBytes {
		return nil, SerializationError(req, fmt.Sprintf("response body exceeds %d bytes", c.maxResponseBytes), nil)
	}
	MarkTiming(req, "body")

	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     statusLine(httpResp),
		Header:     httpResp.Header.Clone(),
		Body:       payload,
		Request:    req,
	}, nil
}

func statusLine(r *http.Response) string {
	// net/http prefixes Status with the code.
	if s := strings.TrimSpace(strings.TrimPrefix(r.Status, fmt.Sprint(r.StatusCode))); s != "" {
		return s
	}
	return statusText(r.StatusCode)
}

func encodeBody(req *Request) (io.Reader, error) {
	switch b := req.Body.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.NewReader(b), nil
	case []byte:
		return bytes.NewReader(b), nil
	case io.Reader:
		return b, nil
	default:
		return nil, SerializationError(req, fmt.Sprintf("cannot send body of type %T without a serializer", b), nil)
	}
}

func classifyTransportError(ctx context.Context, req *Request, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return TimeoutError(req, 0, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TimeoutError(req, 0, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimeoutError(req, 0, err)
	}
	return NetworkError(req, err)
}

func traceMarks(req *Request) *httptrace.ClientTrace {
	if timingFrom(req) == nil {
		return nil
	}
	return &httptrace.ClientTrace{
		DNSDone:     func(httptrace.DNSDoneInfo) { MarkTiming(req, "dns") },
		ConnectDone: func(string, string, error) { MarkTiming(req, "connect") },
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			MarkTiming(req, "tls")
		},
		GotFirstResponseByte: func() { MarkTiming(req, "first_byte") },
	}
}
