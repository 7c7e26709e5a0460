package unireq

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const testResponseBody = "test response"

func TestNew(t *testing.T) {
	client := New()

	if client == nil {
		t.Fatal("New() returned nil")
	}
	if !client.IsValid() {
		t.Fatalf("default client should be valid: %v", client.ValidationError())
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("Expected timeout=30s, got %v", client.httpClient.Timeout)
	}
	if _, ok := client.connector.(*HTTPConnector); !ok {
		t.Errorf("Expected the HTTP connector by default, got %T", client.connector)
	}
	if client.Handler().Len() != 0 {
		t.Errorf("Expected an empty chain, got %d policies", client.Handler().Len())
	}
}

func TestGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET method, got %s", r.Method)
		}
		if r.URL.Query().Get("page") != "2" {
			t.Errorf("Expected page=2, got %q", r.URL.RawQuery)
		}
		if r.Header.Get("X-Default") != "d" {
			t.Errorf("Expected default header, got %q", r.Header.Get("X-Default"))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(testResponseBody))
	}))
	defer server.Close()

	client := New(WithDefaultHeader("X-Default", "d"))
	resp, err := client.Get(context.Background(), server.URL, WithQuery("page", "2"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if resp.Text() != testResponseBody {
		t.Errorf("Expected body %q, got %q", testResponseBody, resp.Text())
	}
}

func TestVerbs(t *testing.T) {
	type seen struct{ method, body string }
	got := make(chan seen, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- seen{r.Method, string(b)}
	}))
	defer server.Close()

	client := New()
	ctx := context.Background()
	calls := []struct {
		method string
		body   string
		do     func() (*Response, error)
	}{
		{http.MethodGet, "", func() (*Response, error) { return client.Get(ctx, server.URL) }},
		{http.MethodHead, "", func() (*Response, error) { return client.Head(ctx, server.URL) }},
		{http.MethodDelete, "", func() (*Response, error) { return client.Delete(ctx, server.URL) }},
		{http.MethodOptions, "", func() (*Response, error) { return client.Options(ctx, server.URL) }},
		{http.MethodPost, "a", func() (*Response, error) { return client.Post(ctx, server.URL, "a") }},
		{http.MethodPut, "b", func() (*Response, error) { return client.Put(ctx, server.URL, []byte("b")) }},
		{http.MethodPatch, "c", func() (*Response, error) { return client.Patch(ctx, server.URL, strings.NewReader("c")) }},
	}
	for _, c := range calls {
		if _, err := c.do(); err != nil {
			t.Fatalf("%s error = %v", c.method, err)
		}
		s := <-got
		if s.method != c.method || s.body != c.body {
			t.Errorf("server saw %s %q, want %s %q", s.method, s.body, c.method, c.body)
		}
	}
}

func TestNewRequestResolvesBaseURL(t *testing.T) {
	client := New(WithBaseURL("https://api.example.test/v1/"), WithDefaultHeader("Accept", "text/plain"))

	tests := []struct{ target, want string }{
		{"items", "https://api.example.test/v1/items"},
		{"/root", "https://api.example.test/root"},
		{"http://other.test/x", "http://other.test/x"},
	}
	for _, tt := range tests {
		req, err := client.NewRequest("get", tt.target)
		if err != nil {
			t.Fatalf("NewRequest(%q) error = %v", tt.target, err)
		}
		if req.URL != tt.want {
			t.Errorf("NewRequest(%q).URL = %q, want %q", tt.target, req.URL, tt.want)
		}
		if req.Method != http.MethodGet {
			t.Errorf("Method = %q, want GET", req.Method)
		}
	}

	req, _ := client.NewRequest("GET", "items", WithHeader("Accept", "application/json"))
	if req.Header.Get("Accept") != "application/json" {
		t.Errorf("request header should override the default, got %q", req.Header.Get("Accept"))
	}
	if client.headers.Get("Accept") != "text/plain" {
		t.Error("request options must not change client defaults")
	}

	if _, err := client.NewRequest("GET", "http://[::1"); err == nil {
		t.Error("expected an invalid url error")
	}
}

func TestDoRunsChainAroundConnector(t *testing.T) {
	var order []string
	mark := func(name string) Policy {
		return Func(func(ctx context.Context, req *Request, next Next) (*Response, error) {
			order = append(order, name)
			return next(ctx, req)
		})
	}
	conn := &recordingConnector{}
	client := New(WithConnector(conn), WithPolicies(mark("outer"), mark("inner")))

	if _, err := client.Do(context.Background(), NewRequest("GET", "http://example.test/")); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if strings.Join(order, ",") != "outer,inner" || conn.Calls() != 1 {
		t.Errorf("order = %v, calls = %d", order, conn.Calls())
	}

	if _, err := client.Do(context.Background(), nil); err == nil {
		t.Error("Do(nil) should fail validation")
	}
}

func TestClientChainAddsObservability(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	client := New(
		WithConnector(&recordingConnector{}),
		WithComposer(testComposer()),
		WithMetrics(collector),
		WithTracing(),
		WithPolicies(Bearer("tok")),
	)
	graph := client.Graph()
	var names []string
	for _, m := range graph {
		names = append(names, m.Name)
	}
	if strings.Join(names, ",") != "metrics,trace,bearer" {
		t.Errorf("graph names = %v", names)
	}
	if graph[0].ID != "metrics#1" {
		t.Errorf("expected sequential ids, got %q", graph[0].ID)
	}
	if err := AssertHas(client, KindAuth); err != nil {
		t.Error(err)
	}
}

func TestClientWithTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := New(WithTimeout(20 * time.Millisecond))
	_, err := client.Get(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected a timeout error")
	}
	if !IsTransient(err) {
		t.Errorf("Expected a transient timeout, got %v", err)
	}
}
