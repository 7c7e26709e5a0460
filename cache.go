package unireq

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CacheHeader marks responses served from a cache.
const CacheHeader = "X-Cache"

// DefaultCacheTTL is the lifetime used when CacheOptions.TTL is zero.
const DefaultCacheTTL = 5 * time.Minute

// CacheOptions configures Cache.
type CacheOptions struct {
	// Store defaults to a new MemoryStore. Share a store to share a cache.
	Store CacheStore
	TTL   time.Duration
	// Key derives the cache key. Defaults to CacheKey.
	Key func(*Request) string
	// Methods that are cached. Defaults to GET and HEAD.
	Methods []string
	// RespectCacheControl lets no-store, no-cache, max-age and Expires on
	// the response override TTL.
	RespectCacheControl bool
	OnCacheHit          func(key string, entry *CacheEntry)
	OnCacheMiss         func(key string)
	Now                 func() time.Time
	Logger              *zap.Logger
}

func (o *CacheOptions) defaults() {
	if o.Store == nil {
		o.Store = NewMemoryStore()
	}
	if o.TTL <= 0 {
		o.TTL = DefaultCacheTTL
	}
	if o.Key == nil {
		o.Key = CacheKey
	}
	if len(o.Methods) == 0 {
		o.Methods = []string{"GET", "HEAD"}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

func (o *CacheOptions) cacheable(req *Request) bool {
	return slices.ContainsFunc(o.Methods, func(m string) bool { return strings.EqualFold(m, req.Method) })
}

// Cache serves fresh entries without calling next and stores successful
// responses on the way back.
func Cache(opts CacheOptions) Policy {
	opts.defaults()
	logger := opts.Logger.With(zap.String("component", "cache"))

	fn := func(ctx context.Context, req *Request, next Next) (*Response, error) {
		override := cacheOverride(req)
		if !opts.cacheable(req) || override.skip {
			return next(ctx, req)
		}

		key := opts.Key(req)
		entry, found, err := opts.Store.Get(ctx, key)
		if err != nil {
			return nil, cacheError(req, "cache read failed", err)
		}
		if found && entry.Fresh(opts.Now()) {
			if opts.OnCacheHit != nil {
				opts.OnCacheHit(key, entry)
			}
			logger.Debug("cache hit", zap.String("key", key))
			return entry.Response(req).WithHeader(CacheHeader, "HIT"), nil
		}
		if opts.OnCacheMiss != nil {
			opts.OnCacheMiss(key)
		}

		resp, err := next(ctx, req)
		if err != nil || !resp.OK() {
			return resp, err
		}

		ttl := opts.TTL
		if override.ttl > 0 {
			ttl = override.ttl
		} else if opts.RespectCacheControl {
			d, ok, store := responseTTL(resp, opts.Now())
			if !store {
				return resp, nil
			}
			if ok {
				ttl = d
			}
		}
		if ttl <= 0 {
			return resp, nil
		}

		if err := opts.Store.Set(ctx, key, NewCacheEntry(key, resp, opts.Now(), ttl)); err != nil {
			ce := cacheError(req, "cache write failed", err)
			ce.Response = resp
			return nil, ce
		}
		logger.Debug("cache store", zap.String("key", key), zap.Duration("ttl", ttl))
		return resp, nil
	}

	return Define(fn, Descriptor{
		Name: "cache",
		Kind: KindCache,
		Options: map[string]any{
			"ttl":                 opts.TTL.String(),
			"methods":             opts.Methods,
			"respectCacheControl": opts.RespectCacheControl,
			"store":               storeName(opts.Store),
		},
	})
}

type cacheOverrideKey struct{}

type requestCacheOverride struct {
	skip bool
	ttl  time.Duration
}

func cacheOverride(req *Request) requestCacheOverride {
	o, _ := req.Value(cacheOverrideKey{}).(requestCacheOverride)
	return o
}

// SkipCache returns a copy of req that cache policies pass straight through.
func SkipCache(req *Request) *Request {
	o := cacheOverride(req)
	o.skip = true
	return req.WithValue(cacheOverrideKey{}, o)
}

// WithCacheTTL returns a copy of req whose response Cache stores for ttl,
// ignoring the policy TTL and Cache-Control.
func WithCacheTTL(req *Request, ttl time.Duration) *Request {
	o := cacheOverride(req)
	o.ttl = ttl
	return req.WithValue(cacheOverrideKey{}, o)
}

func cacheError(req *Request, msg string, cause error) *ClientError {
	return newError(ErrorTypeCache, msg, req, cause)
}

func storeName(s CacheStore) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "custom"
}

// Name identifies the store in inspection output.
func (s *MemoryStore) Name() string { return "memory" }
