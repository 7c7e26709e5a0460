package unireq

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

// failingStore returns the configured errors.
type failingStore struct {
	getErr, setErr error
}

func (s failingStore) Get(context.Context, string) (*CacheEntry, bool, error) {
	return nil, false, s.getErr
}

func (s failingStore) Set(context.Context, string, *CacheEntry) error { return s.setErr }

func (s failingStore) Delete(context.Context, string) error { return nil }

func cachedClient(opts CacheOptions, respond func(n int, req *Request) (*Response, error)) (Next, *recordingConnector) {
	conn := &recordingConnector{respond: respond}
	return Compose(Cache(opts)).Bind(conn), conn
}

func TestCacheServesFreshEntries(t *testing.T) {
	clock := newFakeClock()
	do, conn := cachedClient(CacheOptions{TTL: time.Minute, Now: clock.Now}, nil)
	req := NewRequest("GET", "http://example.test/a")

	first, err := do(context.Background(), req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if first.Header.Get(CacheHeader) != "" {
		t.Error("A network response must not be marked as cached")
	}

	second, _ := do(context.Background(), req)
	if conn.Calls() != 1 {
		t.Errorf("Expected 1 transport call, got %d", conn.Calls())
	}
	if second.Header.Get(CacheHeader) != "HIT" || second.Text() != "ok" {
		t.Errorf("Expected a cache hit with the stored body, got %q %q", second.Header.Get(CacheHeader), second.Text())
	}
	if second.Request != req {
		t.Error("A cached response should reference the current request")
	}

	clock.Advance(time.Minute)
	_, _ = do(context.Background(), req)
	if conn.Calls() != 2 {
		t.Errorf("Expected the expired entry to be refetched, got %d calls", conn.Calls())
	}
}

func TestCacheOnlyCachesConfiguredMethods(t *testing.T) {
	do, conn := cachedClient(CacheOptions{}, nil)
	for i := 0; i < 2; i++ {
		_, _ = do(context.Background(), NewRequest("POST", "http://example.test/a"))
	}
	if conn.Calls() != 2 {
		t.Errorf("POST should never be cached, got %d calls", conn.Calls())
	}

	do, conn = cachedClient(CacheOptions{Methods: []string{"post"}}, nil)
	for i := 0; i < 2; i++ {
		_, _ = do(context.Background(), NewRequest("POST", "http://example.test/a"))
	}
	if conn.Calls() != 1 {
		t.Errorf("Expected configured methods to match case-insensitively, got %d calls", conn.Calls())
	}
}

func TestCacheSkipsNonSuccess(t *testing.T) {
	do, conn := cachedClient(CacheOptions{}, func(n int, req *Request) (*Response, error) {
		return textResponse(req, http.StatusInternalServerError, "boom"), nil
	})
	req := NewRequest("GET", "http://example.test/a")
	_, _ = do(context.Background(), req)
	resp, _ := do(context.Background(), req)
	if conn.Calls() != 2 {
		t.Errorf("Error responses must not be cached, got %d calls", conn.Calls())
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected the 500 to pass through, got %d", resp.StatusCode)
	}
}

func TestCacheKeyNormalisation(t *testing.T) {
	do, conn := cachedClient(CacheOptions{}, nil)
	_, _ = do(context.Background(), NewRequest("GET", "HTTP://Example.test:80/a?b=2&a=1#frag"))
	_, _ = do(context.Background(), NewRequest("GET", "http://example.test/a?a=1&b=2"))
	if conn.Calls() != 1 {
		t.Errorf("Expected equivalent URLs to share an entry, got %d calls", conn.Calls())
	}
}

func TestCacheRespectsCacheControl(t *testing.T) {
	clock := newFakeClock()
	tests := []struct {
		name      string
		header    map[string]string
		advance   time.Duration
		wantCalls int
	}{
		{"no-store", map[string]string{"Cache-Control": "no-store"}, 0, 2},
		{"no-cache", map[string]string{"Cache-Control": "no-cache"}, 0, 2},
		{"max-age overrides ttl", map[string]string{"Cache-Control": "max-age=10"}, 11 * time.Second, 2},
		{"max-age still fresh", map[string]string{"Cache-Control": "max-age=10"}, 9 * time.Second, 1},
		{"expires", map[string]string{"Expires": clock.Now().Add(30 * time.Second).Format(http.TimeFormat)}, 20 * time.Second, 1},
		{"no headers uses ttl", nil, 59 * time.Second, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			do, conn := cachedClient(CacheOptions{TTL: time.Minute, RespectCacheControl: true, Now: clock.Now},
				func(n int, req *Request) (*Response, error) {
					resp := textResponse(req, http.StatusOK, "ok")
					for k, v := range tt.header {
						resp.Header.Set(k, v)
					}
					return resp, nil
				})
			req := NewRequest("GET", "http://example.test/a")
			_, _ = do(context.Background(), req)
			clock.Advance(tt.advance)
			_, _ = do(context.Background(), req)
			if conn.Calls() != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, conn.Calls())
			}
		})
	}
}

func TestCacheRequestOverrides(t *testing.T) {
	clock := newFakeClock()
	do, conn := cachedClient(CacheOptions{TTL: time.Minute, Now: clock.Now}, nil)
	req := NewRequest("GET", "http://example.test/a")

	_, _ = do(context.Background(), SkipCache(req))
	_, _ = do(context.Background(), SkipCache(req))
	if conn.Calls() != 2 {
		t.Errorf("SkipCache should bypass the cache, got %d calls", conn.Calls())
	}

	_, _ = do(context.Background(), WithCacheTTL(req, time.Hour))
	clock.Advance(30 * time.Minute)
	resp, _ := do(context.Background(), req)
	if conn.Calls() != 3 || resp.Header.Get(CacheHeader) != "HIT" {
		t.Errorf("WithCacheTTL should extend the lifetime, got %d calls", conn.Calls())
	}

	if !cacheOverride(SkipCache(WithCacheTTL(req, time.Second))).skip {
		t.Error("Overrides should compose")
	}
	if cacheOverride(req).skip {
		t.Error("SkipCache must not mutate the original request")
	}
}

func TestCacheStoreErrors(t *testing.T) {
	readErr := errors.New("read down")
	do, conn := cachedClient(CacheOptions{Store: failingStore{getErr: readErr}}, nil)
	_, err := do(context.Background(), NewRequest("GET", "http://example.test/a"))
	if !errors.Is(err, readErr) {
		t.Errorf("Expected the read error to surface, got %v", err)
	}
	var ce *ClientError
	if !errors.As(err, &ce) || ce.Type != ErrorTypeCache {
		t.Errorf("Expected a Cache ClientError, got %v", err)
	}
	if conn.Calls() != 0 {
		t.Error("A failing read must not be treated as a miss")
	}

	writeErr := errors.New("write down")
	do, _ = cachedClient(CacheOptions{Store: failingStore{setErr: writeErr}}, nil)
	resp, err := do(context.Background(), NewRequest("GET", "http://example.test/a"))
	if resp != nil || !errors.As(err, &ce) || ce.Type != ErrorTypeCache {
		t.Fatalf("Expected a Cache error on write failure, got %v %v", resp, err)
	}
	if ce.Response == nil || ce.Response.Text() != "ok" {
		t.Error("Expected the fetched response to be attached to the error")
	}
}

func TestCacheSharedStore(t *testing.T) {
	store := NewMemoryStore()
	doA, connA := cachedClient(CacheOptions{Store: store}, nil)
	doB, connB := cachedClient(CacheOptions{Store: store}, nil)
	req := NewRequest("GET", "http://example.test/shared")

	_, _ = doA(context.Background(), req)
	_, _ = doB(context.Background(), req)
	if connA.Calls() != 1 || connB.Calls() != 0 {
		t.Errorf("Expected the second chain to hit the shared store, got %d/%d", connA.Calls(), connB.Calls())
	}
}

func TestCacheMetadata(t *testing.T) {
	p := Cache(CacheOptions{TTL: 2 * time.Minute})
	if p.Name() != "cache" || p.Kind() != KindCache {
		t.Errorf("Unexpected tag %s(%s)", p.Name(), p.Kind())
	}
	opts := p.Graph()[0].Options
	if opts["ttl"] != "2m0s" || opts["store"] != "memory" {
		t.Errorf("Unexpected options %v", opts)
	}
	if storeName(failingStore{}) != "custom" {
		t.Error("Stores without a Name should be reported as custom")
	}
}
