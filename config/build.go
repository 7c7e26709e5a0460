package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	unireq "github.com/oorabona/unireq-sub005"
	"github.com/oorabona/unireq-sub005/redisstore"
	"github.com/oorabona/unireq-sub005/sqlstore"
)

// Closer releases resources opened by Build.
type Closer func() error

// Build turns cfg into a client. Policies are stacked outermost first:
//
//	timeout, timing, audit, parser, dedupe, cache, breaker, retry, throttle, auth
//
// so cached and shared responses are still parsed and audited, and every
// attempt that reaches the network is throttled and freshly authenticated.
// registry receives the metrics when they are enabled; nil leaves them
// unregistered.
func Build(ctx context.Context, cfg *Config, logger *zap.Logger, registry prometheus.Registerer) (*unireq.Client, Closer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	var collector *unireq.MetricsCollector
	if cfg.Metrics.Enabled {
		collector = unireq.NewMetricsCollectorWithRegistry(registry)
	}

	var policies []unireq.Policy
	if cfg.HTTP.Timeout > 0 {
		policies = append(policies, unireq.Timeout(cfg.HTTP.Timeout))
	}
	if cfg.HTTP.Timing {
		policies = append(policies, unireq.Timing())
	}

	if cfg.Audit.Enabled {
		sink, closeSink, err := buildAuditSink(cfg.Audit, logger)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		if closeSink != nil {
			closers = append(closers, closeSink)
		}
		policies = append(policies, unireq.Audit(unireq.AuditOptions{
			Sink:          sink,
			RedactHeaders: cfg.Audit.RedactHeaders,
			Logger:        logger,
		}))
	}

	switch cfg.HTTP.Parser {
	case "json":
		policies = append(policies, unireq.JSON())
	case "text":
		policies = append(policies, unireq.Text())
	}

	if cfg.Dedupe.Enabled {
		opts := unireq.DedupeOptions{Logger: logger}
		if collector != nil {
			opts.OnCoalesced = collector.OnCoalesced()
		}
		policies = append(policies, unireq.Dedupe(opts))
	}

	if cfg.Cache.Enabled {
		store, closeStore, err := buildStore(ctx, cfg.Cache, logger)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		if closeStore != nil {
			closers = append(closers, closeStore)
		}
		policies = append(policies, buildCache(cfg.Cache, store, collector, logger))
	}

	if cfg.Breaker.Enabled {
		cb := unireq.NewCircuitBreaker(unireq.CircuitBreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
		})
		opts := unireq.BreakerOptions{Logger: logger}
		if collector != nil {
			opts.OnStateChange = collector.OnStateChange("default")
		}
		policies = append(policies, unireq.Breaker(cb, opts))
	}

	if cfg.Retry.Enabled {
		policies = append(policies, buildRetry(cfg.Retry, collector, logger))
	}

	if cfg.Throttle.Enabled {
		policies = append(policies, buildThrottle(cfg.Throttle, collector, logger))
	}

	if auth, ok := buildAuth(cfg.Auth); ok {
		policies = append(policies, auth)
	}

	options := []unireq.Option{
		unireq.WithHTTPClient(&http.Client{}),
		unireq.WithTimeout(cfg.HTTP.TransportTimeout),
		unireq.WithPolicies(policies...),
	}
	if cfg.HTTP.MaxResponseBytes > 0 {
		options = append(options, unireq.WithMaxResponseBytes(cfg.HTTP.MaxResponseBytes))
	}
	if cfg.HTTP.BaseURL != "" {
		options = append(options, unireq.WithBaseURL(cfg.HTTP.BaseURL))
	}
	for k, v := range cfg.HTTP.Headers {
		options = append(options, unireq.WithDefaultHeader(k, v))
	}
	if cfg.Log.Requests {
		options = append(options, unireq.WithLogger(logger))
	}
	if collector != nil {
		options = append(options, unireq.WithMetrics(collector))
	}
	if cfg.Telemetry.Enabled {
		options = append(options, unireq.WithTracing())
	}

	client := unireq.New(options...)
	if err := client.ValidationError(); err != nil {
		_ = closeAll()
		return nil, nil, err
	}
	return client, closeAll, nil
}

func buildAuditSink(cfg AuditConfig, logger *zap.Logger) (unireq.AuditSink, func() error, error) {
	switch cfg.Sink {
	case "jsonl":
		sink, err := unireq.NewJSONLAuditSink(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit log: %w", err)
		}
		return sink, sink.Close, nil
	default:
		return unireq.NewZapAuditSink(logger.Named("audit")), nil, nil
	}
}

func buildStore(ctx context.Context, cfg CacheConfig, logger *zap.Logger) (unireq.CacheStore, func() error, error) {
	switch cfg.Backend {
	case "redis":
		store, err := redisstore.New(ctx, redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Prefix:    cfg.Redis.Prefix,
			Retention: cfg.Redis.Retention,
			PoolSize:  cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect cache redis: %w", err)
		}
		return store, store.Close, nil
	case "sql":
		store, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open cache database: %w", err)
		}
		return store, store.Close, nil
	default:
		if cfg.MaxEntries > 0 {
			perShard := max(cfg.MaxEntries/unireq.DefaultShardCount, 1)
			return unireq.NewMemoryStoreWithSize(unireq.DefaultShardCount, perShard), nil, nil
		}
		return unireq.NewMemoryStore(), nil, nil
	}
}

func buildCache(cfg CacheConfig, store unireq.CacheStore, collector *unireq.MetricsCollector, logger *zap.Logger) unireq.Policy {
	var onMiss func(string)
	if collector != nil {
		onMiss = collector.OnCacheMiss()
	}
	if cfg.Mode == "conditional" {
		return unireq.Conditional(unireq.ConditionalOptions{
			Store:       store,
			TTL:         cfg.TTL,
			OnCacheMiss: onMiss,
			Logger:      logger,
		})
	}
	return unireq.Cache(unireq.CacheOptions{
		Store:               store,
		TTL:                 cfg.TTL,
		RespectCacheControl: cfg.RespectCacheControl,
		OnCacheMiss:         onMiss,
		Logger:              logger,
	})
}

func buildRetry(cfg RetryConfig, collector *unireq.MetricsCollector, logger *zap.Logger) unireq.Policy {
	backoff := unireq.BackoffOptions{
		Initial: cfg.Initial,
		Max:     cfg.Max,
		Jitter:  cfg.Jitter,
	}
	var strategies []unireq.DelayStrategy
	if cfg.RespectRetryAfter {
		strategies = append(strategies, unireq.RetryAfter(cfg.RetryAfterCap))
	}
	if cfg.Decorrelated {
		strategies = append(strategies, unireq.DecorrelatedBackoff(backoff))
	} else {
		strategies = append(strategies, unireq.Backoff(backoff))
	}

	opts := unireq.RetryOptions{
		Tries:          cfg.Tries,
		AttemptTimeout: cfg.AttemptTimeout,
		Logger:         logger,
		Name:           "http",
	}
	if cfg.Budget.MaxRetries > 0 {
		opts.Budget = unireq.NewRetryBudget(cfg.Budget.MaxRetries, cfg.Budget.Window)
	}
	if collector != nil {
		opts.OnRetry = collector.OnRetry()
		opts.OnBudgetExhausted = collector.OnBudgetExhausted()
	}

	pred := unireq.HTTPRetryPredicate(unireq.HTTPRetryOptions{StatusCodes: cfg.StatusCodes})
	return unireq.Retry(pred, strategies, opts)
}

func buildThrottle(cfg ThrottleConfig, collector *unireq.MetricsCollector, logger *zap.Logger) unireq.Policy {
	opts := unireq.ThrottleOptions{FailFast: cfg.FailFast, Logger: logger}
	if collector != nil {
		opts.OnLimiter = collector.OnLimiter()
	}
	newLimiter := func(string) *rate.Limiter {
		return rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)
	}

	var keyFunc unireq.KeyFunc
	switch cfg.Key {
	case "host":
		keyFunc = unireq.DefaultHostKeyFunc
	case "route":
		keyFunc = unireq.DefaultRouteKeyFunc
	case "host_route":
		keyFunc = unireq.DefaultHostRouteKeyFunc
	default:
		return unireq.Throttle(newLimiter(""), opts)
	}
	reg := unireq.NewLimiterRegistry(keyFunc, nil).WithFactory(newLimiter)
	return unireq.ThrottleByKey(reg, opts)
}

func buildAuth(cfg AuthConfig) (unireq.Policy, bool) {
	switch cfg.Type {
	case "bearer":
		return unireq.Bearer(cfg.Token), true
	case "basic":
		return unireq.Basic(cfg.User, cfg.Password), true
	case "apikey":
		return unireq.APIKey(cfg.Header, cfg.Key), true
	case "jwt":
		return unireq.JWT(unireq.JWTOptions{
			Key:      []byte(cfg.JWT.Secret),
			Method:   jwt.SigningMethodHS256,
			Issuer:   cfg.JWT.Issuer,
			Subject:  cfg.JWT.Subject,
			Audience: cfg.JWT.Audience,
			TTL:      cfg.JWT.TTL,
		}), true
	default:
		return unireq.Policy{}, false
	}
}
