package unireq

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type staleEntryKey struct{}

// ConditionalOptions configures Conditional.
type ConditionalOptions struct {
	Store CacheStore
	// TTL is how long an entry is served without revalidation. Zero means
	// every request is revalidated.
	TTL           time.Duration
	Key           func(*Request) string
	OnCacheHit    func(key string, entry *CacheEntry)
	OnCacheMiss   func(key string)
	OnRevalidated func(key string, entry *CacheEntry)
	Now           func() time.Time
	Logger        *zap.Logger
}

// Conditional caches GET and HEAD responses that carry a validator and
// revalidates stale entries with If-None-Match and If-Modified-Since, which
// its ETag and LastModified children add. A 304 is answered from the stored
// body with the stored headers refreshed.
func Conditional(opts ConditionalOptions) Policy {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Key == nil {
		opts.Key = CacheKey
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("component", "conditional"))

	children := []Policy{ETag(), LastModified()}
	inner := fold(children)

	fn := func(ctx context.Context, req *Request, next Next) (*Response, error) {
		if (req.Method != http.MethodGet && req.Method != http.MethodHead) || cacheOverride(req).skip {
			return next(ctx, req)
		}

		key := opts.Key(req)
		entry, found, err := opts.Store.Get(ctx, key)
		if err != nil {
			return nil, cacheError(req, "cache read failed", err)
		}
		now := opts.Now()
		if found && entry.Fresh(now) {
			if opts.OnCacheHit != nil {
				opts.OnCacheHit(key, entry)
			}
			return entry.Response(req).WithHeader(CacheHeader, "HIT"), nil
		}
		if !found && opts.OnCacheMiss != nil {
			opts.OnCacheMiss(key)
		}

		forward := req
		if found && entry.HasValidator() {
			forward = req.WithValue(staleEntryKey{}, entry)
		}
		resp, err := inner(ctx, forward, next)
		if err != nil {
			return resp, err
		}

		if resp.StatusCode == http.StatusNotModified && found {
			refreshed := revalidate(entry, resp, opts.Now(), opts.TTL)
			if err := opts.Store.Set(ctx, key, refreshed); err != nil {
				return nil, cacheError(req, "cache write failed", err)
			}
			if opts.OnRevalidated != nil {
				opts.OnRevalidated(key, refreshed)
			}
			logger.Debug("revalidated", zap.String("key", key))
			return refreshed.Response(req).WithHeader(CacheHeader, "REVALIDATED"), nil
		}

		if resp.OK() {
			stored := NewCacheEntry(key, resp, opts.Now(), opts.TTL)
			switch {
			case stored.HasValidator():
				if err := opts.Store.Set(ctx, key, stored); err != nil {
					ce := cacheError(req, "cache write failed", err)
					ce.Response = resp
					return nil, ce
				}
			case found:
				// The resource no longer carries a validator; the old one
				// must not be sent again.
				if err := opts.Store.Delete(ctx, key); err != nil {
					ce := cacheError(req, "cache delete failed", err)
					ce.Response = resp
					return nil, ce
				}
				logger.Debug("validator dropped, entry removed", zap.String("key", key))
			}
		}
		return resp, nil
	}

	return Define(fn, Descriptor{
		Name:     "conditional",
		Kind:     KindCache,
		Options:  map[string]any{"ttl": opts.TTL.String(), "store": storeName(opts.Store)},
		Children: children,
	})
}

// revalidate merges the 304 headers into a copy of entry and restarts its
// lifetime. The body is never touched.
func revalidate(entry *CacheEntry, notModified *Response, now time.Time, ttl time.Duration) *CacheEntry {
	refreshed := entry.Clone()
	if refreshed.Header == nil {
		refreshed.Header = make(http.Header)
	}
	for k, vs := range notModified.Header {
		if k == "Content-Length" {
			continue
		}
		refreshed.Header[k] = append([]string(nil), vs...)
	}
	if etag := notModified.Header.Get("ETag"); etag != "" {
		refreshed.ETag = etag
	}
	if lm := notModified.Header.Get("Last-Modified"); lm != "" {
		refreshed.LastModified = lm
	}
	refreshed.StoredAt = now
	refreshed.ExpiresAt = now.Add(ttl)
	return refreshed
}

func staleEntry(req *Request) *CacheEntry {
	entry, _ := req.Value(staleEntryKey{}).(*CacheEntry)
	return entry
}

// ETag adds If-None-Match from the stale entry handed down by Conditional.
func ETag() Policy {
	return Define(func(ctx context.Context, req *Request, next Next) (*Response, error) {
		if entry := staleEntry(req); entry != nil && entry.ETag != "" && req.Header.Get("If-None-Match") == "" {
			req = req.WithHeader("If-None-Match", entry.ETag)
		}
		return next(ctx, req)
	}, Descriptor{Name: "etag", Kind: KindCache})
}

// LastModified adds If-Modified-Since from the stale entry handed down by
// Conditional.
func LastModified() Policy {
	return Define(func(ctx context.Context, req *Request, next Next) (*Response, error) {
		if entry := staleEntry(req); entry != nil && entry.LastModified != "" && req.Header.Get("If-Modified-Since") == "" {
			req = req.WithHeader("If-Modified-Since", entry.LastModified)
		}
		return next(ctx, req)
	}, Descriptor{Name: "lastModified", Kind: KindCache})
}
