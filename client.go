package unireq

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Client binds a composed policy chain to a connector. It is safe for
// concurrent use.
type Client struct {
	httpClient       *http.Client
	connector        Connector
	composer         *Composer
	policies         []Policy
	baseURL          string
	headers          http.Header
	timeout          time.Duration
	maxResponseBytes int64
	logger           *zap.Logger
	metrics          *MetricsCollector
	tracing          bool

	handler         *Handler
	do              Next
	validationError error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		composer:         DefaultComposer,
		headers:          make(http.Header),
		timeout:          30 * time.Second,
		maxResponseBytes: DefaultMaxResponseBytes,
	}

	for _, option := range options {
		option(client)
	}

	if client.connector == nil {
		client.connector = NewHTTPConnector(client.httpClient, client.maxResponseBytes)
	}
	client.handler = client.composer.Compose(client.chain()...)
	client.do = client.handler.Bind(client.connector)

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}
	return client
}

// chain puts the client-level observability policies outside the user's.
func (c *Client) chain() []Policy {
	var ps []Policy
	if c.metrics != nil {
		ps = append(ps, Metrics(c.metrics))
	}
	if c.tracing {
		ps = append(ps, Trace(nil))
	}
	if c.logger != nil {
		ps = append(ps, Log(c.logger))
	}
	return append(ps, c.policies...)
}

// Handler returns the composed chain.
func (c *Client) Handler() *Handler {
	return c.handler
}

// Graph returns the inspection graph of the chain.
func (c *Client) Graph() []Meta {
	return c.handler.Graph()
}

// NewRequest builds a request against the client's base URL with its
// default headers applied.
func (c *Client) NewRequest(method, target string, opts ...RequestOption) (*Request, error) {
	resolved, err := c.resolve(target)
	if err != nil {
		return nil, newError(ErrorTypeValidation, "invalid request url", &Request{Method: method, URL: target}, err)
	}
	req := NewRequest(method, resolved)
	for k, vs := range c.headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	for _, opt := range opts {
		req = opt(req)
	}
	return req, nil
}

func (c *Client) resolve(target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if c.baseURL == "" || ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// Do sends req through the chain.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, newError(ErrorTypeValidation, "nil request", nil, nil)
	}
	return c.do(ctx, req)
}

func (c *Client) send(ctx context.Context, method, target string, body any, opts []RequestOption) (*Response, error) {
	req, err := c.NewRequest(method, target, opts...)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req = req.WithBody(body)
	}
	return c.Do(ctx, req)
}

// Get performs an HTTP GET.
func (c *Client) Get(ctx context.Context, target string, opts ...RequestOption) (*Response, error) {
	return c.send(ctx, http.MethodGet, target, nil, opts)
}

// Head performs an HTTP HEAD.
func (c *Client) Head(ctx context.Context, target string, opts ...RequestOption) (*Response, error) {
	return c.send(ctx, http.MethodHead, target, nil, opts)
}

// Delete performs an HTTP DELETE.
func (c *Client) Delete(ctx context.Context, target string, opts ...RequestOption) (*Response, error) {
	return c.send(ctx, http.MethodDelete, target, nil, opts)
}

// Options performs an HTTP OPTIONS.
func (c *Client) Options(ctx context.Context, target string, opts ...RequestOption) (*Response, error) {
	return c.send(ctx, http.MethodOptions, target, nil, opts)
}

// Post performs an HTTP POST. body follows the Request.Body rules.
func (c *Client) Post(ctx context.Context, target string, body any, opts ...RequestOption) (*Response, error) {
	return c.send(ctx, http.MethodPost, target, body, opts)
}

// Put performs an HTTP PUT.
func (c *Client) Put(ctx context.Context, target string, body any, opts ...RequestOption) (*Response, error) {
	return c.send(ctx, http.MethodPut, target, body, opts)
}

// Patch performs an HTTP PATCH.
func (c *Client) Patch(ctx context.Context, target string, body any, opts ...RequestOption) (*Response, error) {
	return c.send(ctx, http.MethodPatch, target, body, opts)
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}
