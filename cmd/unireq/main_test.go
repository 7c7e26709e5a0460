package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	unireq "github.com/oorabona/unireq-sub005"
)

func init() {
	color.NoColor = true
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func quietConfig(t *testing.T, extra string) string {
	return writeFile(t, "unireq.yaml", "log:\n  output_paths: ["+filepath.Join(t.TempDir(), "log")+"]\n"+extra)
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, unireq.Version)
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := runCLI(t, "fetch")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, `unknown command "fetch"`)

	code, _, _ = runCLI(t)
	assert.Equal(t, 2, code)
}

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		w.Header().Set("X-Served", "1")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	code, out, _ := runCLI(t, "get", "-config", quietConfig(t, ""), "-i", "-H", "X-Test: yes", srv.URL+"/greet")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "200 OK")
	assert.Contains(t, out, "X-Served: 1")
	assert.Contains(t, out, "hello\n")
}

func TestPostWithDataFile(t *testing.T) {
	got := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		b, _ := io.ReadAll(r.Body)
		got <- b
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	body := writeFile(t, "body.json", `{"name":"x"}`)
	code, _, _ := runCLI(t, "post", "-config", quietConfig(t, ""), "-data", "@"+body, srv.URL)
	assert.Equal(t, 0, code)
	assert.JSONEq(t, `{"name":"x"}`, string(<-got))
}

func TestRequestExplicitMethodAndBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/items/1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := quietConfig(t, "http:\n  base_url: "+srv.URL+"/v1/\n")
	code, _, errOut := runCLI(t, "request", "-config", cfg, "-X", "put", "items/1")
	assert.Equal(t, 0, code, errOut)
}

func TestNonSuccessStatusExitsOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	code, _, _ := runCLI(t, "get", "-config", quietConfig(t, ""), srv.URL)
	assert.Equal(t, 1, code)
}

func TestRepeatServesFromCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("cached"))
	}))
	defer srv.Close()

	cfg := quietConfig(t, "cache:\n  enabled: true\n  ttl: 1m\n")
	code, out, _ := runCLI(t, "get", "-config", cfg, "-repeat", "3", srv.URL)
	assert.Equal(t, 0, code)
	assert.Equal(t, "cached\ncached\ncached\n", out)
	assert.Equal(t, int32(1), calls.Load())
}

func TestVerbosePrintsChainAndTiming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	code, _, errOut := runCLI(t, "head", "-config", quietConfig(t, ""), "-v", srv.URL)
	assert.Equal(t, 0, code)
	assert.Contains(t, errOut, "timing")
	assert.Contains(t, errOut, "total")
}

func TestRequestErrors(t *testing.T) {
	t.Run("missing url", func(t *testing.T) {
		code, _, errOut := runCLI(t, "get")
		assert.Equal(t, 2, code)
		assert.Contains(t, errOut, "exactly one url")
	})

	t.Run("bad header", func(t *testing.T) {
		code, _, _ := runCLI(t, "get", "-H", "nocolon", "http://example.com")
		assert.Equal(t, 2, code)
	})

	t.Run("network failure", func(t *testing.T) {
		cfg := quietConfig(t, "retry:\n  enabled: false\n")
		code, _, errOut := runCLI(t, "get", "-config", cfg, "http://127.0.0.1:1/")
		assert.Equal(t, 1, code)
		assert.Contains(t, errOut, "network error")
		assert.Contains(t, errOut, "request: GET http://127.0.0.1:1/")
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := quietConfig(t, "auth:\n  type: digest\n")
		code, _, errOut := runCLI(t, "get", "-config", cfg, "http://example.com")
		assert.Equal(t, 1, code)
		assert.Contains(t, errOut, "unknown auth type")
	})
}

func TestInspect(t *testing.T) {
	cfg := writeFile(t, "unireq.yaml", `
auth:
  type: bearer
  token: s3cret
cache:
  enabled: true
  backend: redis
`)
	code, out, errOut := runCLI(t, "inspect", "-config", cfg)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "retry")
	assert.Contains(t, out, "bearer")
	assert.NotContains(t, out, "s3cret")

	code, out, _ = runCLI(t, "inspect", "-config", cfg, "-format", "json")
	require.Equal(t, 0, code)
	assert.Contains(t, out, `"kind": "cache"`)
}

func TestDescribeError(t *testing.T) {
	err := &unireq.ClientError{
		Type:       unireq.ErrorTypeAuth,
		Message:    "unauthorized",
		Method:     http.MethodGet,
		URL:        "http://example.com/x",
		StatusCode: http.StatusUnauthorized,
		Attempt:    2,
		Cause:      errors.New("boom"),
	}
	got := describeError(err)
	assert.Contains(t, got, "auth error: unauthorized")
	assert.Contains(t, got, "request: GET http://example.com/x")
	assert.Contains(t, got, "status:  401")
	assert.Contains(t, got, "attempt: 2")
	assert.Contains(t, got, "cause:   boom")

	assert.Equal(t, "error: plain", describeError(errors.New("plain")))
}
