package unireq

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Option configures a Client.
type Option func(*Client)

// WithConnector sets the terminal connector, replacing the HTTP one.
func WithConnector(conn Connector) Option {
	return func(c *Client) {
		c.connector = conn
	}
}

// WithHTTPClient sets a custom HTTP client for the default connector
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
		// Update timeout if it was set
		if client != nil && c.timeout != 0 {
			c.httpClient.Timeout = c.timeout
		}
	}
}

// WithTimeout sets the transport timeout of the default connector
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithMaxResponseBytes bounds response bodies read by the default connector.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		c.maxResponseBytes = n
	}
}

// WithPolicies appends policies to the chain, outermost first.
func WithPolicies(policies ...Policy) Option {
	return func(c *Client) {
		c.policies = append(c.policies, policies...)
	}
}

// WithBaseURL resolves relative request URLs against base.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = base
	}
}

// WithDefaultHeader adds a header to every request built by the client.
func WithDefaultHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Add(key, value)
	}
}

// WithComposer sets the composer, typically one with SequentialIDs for tests.
func WithComposer(composer *Composer) Option {
	return func(c *Client) {
		c.composer = composer
	}
}

// WithLogger logs every call through the Log policy.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records every call through the Metrics policy.
func WithMetrics(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithTracing opens a span per call on the global tracer provider.
func WithTracing() Option {
	return func(c *Client) {
		c.tracing = true
	}
}

// RequestOption adjusts a request built by the client.
type RequestOption func(*Request) *Request

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) *Request {
		return r.WithHeader(key, value)
	}
}

// WithQuery adds a query parameter.
func WithQuery(key, value string) RequestOption {
	return func(r *Request) *Request {
		u, err := url.Parse(r.URL)
		if err != nil {
			return r
		}
		q := u.Query()
		q.Add(key, value)
		u.RawQuery = q.Encode()
		return r.WithURL(u.String())
	}
}

// WithRequestValue sets a request extension slot.
func WithRequestValue(key, value any) RequestOption {
	return func(r *Request) *Request {
		return r.WithValue(key, value)
	}
}

// NoCache makes cache policies pass the request straight through.
func NoCache() RequestOption {
	return SkipCache
}

// CacheFor overrides the cache lifetime of the response.
func CacheFor(ttl time.Duration) RequestOption {
	return func(r *Request) *Request {
		return WithCacheTTL(r, ttl)
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateConnectorConfig()...)
	errors = append(errors, c.validateBaseURL()...)
	errors = append(errors, c.validatePolicies()...)
	errors = append(errors, c.validateExtremeValues()...)

	if len(errors) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}
	return nil
}

func (c *Client) validateConnectorConfig() []string {
	var errors []string

	if c.connector == nil {
		errors = append(errors, "connector cannot be nil")
	}
	if _, ok := c.connector.(*HTTPConnector); ok {
		if c.httpClient == nil {
			errors = append(errors, "HTTP client cannot be nil")
		}
		if c.maxResponseBytes <= 0 {
			errors = append(errors, "maxResponseBytes must be positive")
		}
		if c.timeout < 0 {
			errors = append(errors, "timeout must be non-negative")
		}
	}
	return errors
}

func (c *Client) validateBaseURL() []string {
	if c.baseURL == "" {
		return nil
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return []string{fmt.Sprintf("baseURL is invalid: %v", err)}
	}
	if u.Scheme == "" || u.Host == "" {
		return []string{"baseURL must be absolute"}
	}
	return nil
}

func (c *Client) validatePolicies() []string {
	var errors []string

	for i, p := range c.policies {
		if p.fn == nil && !p.Tagged() {
			errors = append(errors, fmt.Sprintf("policy[%d] is empty", i))
		}
	}
	return errors
}

// validateExtremeValues validates that configuration values are within reasonable bounds
func (c *Client) validateExtremeValues() []string {
	var errors []string

	if c.timeout > 10*time.Minute {
		errors = append(errors, "timeout > 10m may cause requests to hang for too long")
	}
	if c.maxResponseBytes > 1<<30 {
		errors = append(errors, "maxResponseBytes > 1GiB may cause memory issues")
	}
	return errors
}
