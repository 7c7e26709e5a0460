package unireq

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// KeyFunc derives a limiter key from a request.
type KeyFunc func(req *Request) string

// LimiterRegistry maps request keys to rate limiters. Keys without a
// registered limiter use the factory when one is set, else the fallback.
type LimiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	keyFunc  KeyFunc
	fallback *rate.Limiter
	factory  func(key string) *rate.Limiter
}

// NewLimiterRegistry creates a registry. keyFunc defaults to DefaultHostKeyFunc.
func NewLimiterRegistry(keyFunc KeyFunc, fallback *rate.Limiter) *LimiterRegistry {
	if keyFunc == nil {
		keyFunc = DefaultHostKeyFunc
	}
	return &LimiterRegistry{
		limiters: make(map[string]*rate.Limiter),
		keyFunc:  keyFunc,
		fallback: fallback,
	}
}

// WithFactory makes the registry create a limiter the first time a key is
// seen instead of sharing the fallback.
func (r *LimiterRegistry) WithFactory(fn func(key string) *rate.Limiter) *LimiterRegistry {
	r.mu.Lock()
	r.factory = fn
	r.mu.Unlock()
	return r
}

// Register sets the limiter for key.
func (r *LimiterRegistry) Register(key string, limiter *rate.Limiter) {
	r.mu.Lock()
	r.limiters[key] = limiter
	r.mu.Unlock()
}

// Limiter returns the limiter for req and the key it was found under.
// "default" is reported when the fallback is used. A nil limiter means the
// request is not limited.
func (r *LimiterRegistry) Limiter(req *Request) (*rate.Limiter, string) {
	key := r.keyFunc(req)

	r.mu.RLock()
	l, ok := r.limiters[key]
	factory := r.factory
	r.mu.RUnlock()
	if ok {
		return l, key
	}

	if factory != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if l, ok := r.limiters[key]; ok {
			return l, key
		}
		l = factory(key)
		r.limiters[key] = l
		return l, key
	}
	return r.fallback, "default"
}

// Keys lists the keys with a registered limiter.
func (r *LimiterRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.limiters))
	for k := range r.limiters {
		keys = append(keys, k)
	}
	return keys
}

// DefaultHostKeyFunc keys by target host.
func DefaultHostKeyFunc(req *Request) string {
	host, _ := hostAndPath(req)
	return "host:" + host
}

// DefaultRouteKeyFunc keys by method and path.
func DefaultRouteKeyFunc(req *Request) string {
	_, path := hostAndPath(req)
	return "route:" + req.Method + ":" + path
}

// DefaultHostRouteKeyFunc keys by host, method and path.
func DefaultHostRouteKeyFunc(req *Request) string {
	host, path := hostAndPath(req)
	return "host_route:" + host + ":" + req.Method + ":" + path
}

func hostAndPath(req *Request) (string, string) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return "", ""
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return u.Host, path
}

// ThrottleOptions configures Throttle and ThrottleByKey.
type ThrottleOptions struct {
	// FailFast rejects with ErrRateLimited instead of waiting for a token.
	FailFast bool
	// OnLimiter fires after a limiter was consulted, with the key it was
	// found under.
	OnLimiter func(key string, limiter *rate.Limiter)
	Logger    *zap.Logger
}

func (o ThrottleOptions) report(key string, limiter *rate.Limiter) {
	if o.OnLimiter != nil {
		o.OnLimiter(key, limiter)
	}
}

// Throttle delays each request until limiter grants a token.
func Throttle(limiter *rate.Limiter, opts ThrottleOptions) Policy {
	fn := throttleFunc(func(*Request) (*rate.Limiter, string) { return limiter, "default" }, opts)
	options := map[string]any{"failFast": opts.FailFast}
	if limiter != nil {
		options["limit"] = float64(limiter.Limit())
		options["burst"] = limiter.Burst()
	}
	return Define(fn, Descriptor{Name: "throttle", Kind: KindRateLimit, Options: options})
}

// ThrottleByKey picks a limiter per request from reg.
func ThrottleByKey(reg *LimiterRegistry, opts ThrottleOptions) Policy {
	return Define(throttleFunc(reg.Limiter, opts), Descriptor{
		Name:    "throttleByKey",
		Kind:    KindRateLimit,
		Options: map[string]any{"failFast": opts.FailFast},
	})
}

func throttleFunc(pick func(*Request) (*rate.Limiter, string), opts ThrottleOptions) PolicyFunc {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "throttle"))

	return func(ctx context.Context, req *Request, next Next) (*Response, error) {
		limiter, key := pick(req)
		if limiter == nil {
			return next(ctx, req)
		}
		if opts.FailFast {
			allowed := limiter.Allow()
			opts.report(key, limiter)
			if !allowed {
				logger.Debug("rate limit exceeded", zap.String("key", key), zap.String("url", req.URL))
				return nil, newError(ErrorTypeRateLimit, "rate limit exceeded for "+key, req, nil)
			}
			return next(ctx, req)
		}
		err := limiter.Wait(ctx)
		opts.report(key, limiter)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, TimeoutError(req, 0, ctxErr)
			}
			// Wait refuses up front when the deadline falls before the next token.
			if _, ok := ctx.Deadline(); ok {
				return nil, TimeoutError(req, 0, errors.Join(context.DeadlineExceeded, err))
			}
			return nil, newError(ErrorTypeRateLimit, "rate limit wait failed for "+key, req, err)
		}
		return next(ctx, req)
	}
}
