package unireq

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// MetricsCollector provides Prometheus metrics for requests and the
// resilience policies around them. It is safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	rateLimiterTokens *prometheus.GaugeVec

	cacheEvents *prometheus.CounterVec

	dedupeCoalesced *prometheus.CounterVec

	retryBudgetExceeded *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	return &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unireq_requests_total",
				Help: "Total number of HTTP requests made",
			},
			[]string{"method", "status_code", "host"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unireq_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "host"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "unireq_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "host"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unireq_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "host", "attempt"},
		),
		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "unireq_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		rateLimiterTokens: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "unireq_rate_limiter_tokens",
				Help: "Current number of available rate limiter tokens",
			},
			[]string{"name"},
		),
		cacheEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unireq_cache_events_total",
				Help: "Cache lookups by outcome (hit, miss, revalidated)",
			},
			[]string{"event", "method", "host"},
		),
		dedupeCoalesced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unireq_dedupe_coalesced_total",
				Help: "Total number of requests served by a shared in-flight call",
			},
			[]string{"method", "host"},
		),
		retryBudgetExceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unireq_retry_budget_exceeded_total",
				Help: "Total number of times retry budget was exceeded",
			},
			[]string{"host"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unireq_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "method", "host"},
		),
		registerer: registry,
	}
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, host string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, host).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, host).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, host string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, host).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, host string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, host).Dec()
}

// RecordRetry increments retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, host string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, host, strconv.Itoa(attempt)).Inc()
}

// RecordCircuitBreakerState sets gauge to breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRateLimiterTokens sets available token gauge.
func (mc *MetricsCollector) RecordRateLimiterTokens(name string, limiter *rate.Limiter) {
	if mc == nil || limiter == nil {
		return
	}
	mc.rateLimiterTokens.WithLabelValues(name).Set(limiter.Tokens())
}

// RecordCacheEvent counts a cache outcome.
func (mc *MetricsCollector) RecordCacheEvent(event, method, host string) {
	if mc == nil {
		return
	}
	mc.cacheEvents.WithLabelValues(event, method, host).Inc()
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, host string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(errorType, method, host).Inc()
}

// RecordDedupeCoalesced increments the coalesced request counter.
func (mc *MetricsCollector) RecordDedupeCoalesced(method, host string) {
	if mc == nil {
		return
	}
	mc.dedupeCoalesced.WithLabelValues(method, host).Inc()
}

// RecordRetryBudgetExceeded increments retry budget exceeded counter.
func (mc *MetricsCollector) RecordRetryBudgetExceeded(host string) {
	if mc == nil {
		return
	}
	mc.retryBudgetExceeded.WithLabelValues(host).Inc()
}

// Registry exposes the underlying prometheus registry when the collector was
// built on one.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	r, _ := mc.registerer.(*prometheus.Registry)
	return r
}

// OnRetry returns a RetryOptions.OnRetry hook feeding the retry counter.
func (mc *MetricsCollector) OnRetry() func(Attempt, time.Duration) {
	return func(a Attempt, _ time.Duration) {
		mc.RecordRetry(a.Request.Method, requestHost(a.Request), a.Number)
	}
}

// OnCoalesced returns a DedupeOptions.OnCoalesced hook.
func (mc *MetricsCollector) OnCoalesced() func(*Request, string) {
	return func(req *Request, _ string) {
		mc.RecordDedupeCoalesced(req.Method, requestHost(req))
	}
}

// OnStateChange returns a BreakerOptions.OnStateChange hook for the named breaker.
func (mc *MetricsCollector) OnStateChange(name string) func(from, to CircuitState) {
	return func(_, to CircuitState) {
		mc.RecordCircuitBreakerState(name, to)
	}
}

// OnCacheMiss returns a CacheOptions.OnCacheMiss hook. Method and host are
// read back from keys in the CacheKey form; other keys count unlabelled.
func (mc *MetricsCollector) OnCacheMiss() func(string) {
	return func(key string) {
		method, rawURL, ok := strings.Cut(key, " ")
		if !ok {
			mc.RecordCacheEvent("miss", "", "")
			return
		}
		host := ""
		if u, err := url.Parse(rawURL); err == nil {
			host = u.Host
		}
		mc.RecordCacheEvent("miss", method, host)
	}
}

// OnBudgetExhausted returns a RetryOptions.OnBudgetExhausted hook.
func (mc *MetricsCollector) OnBudgetExhausted() func(Attempt) {
	return func(a Attempt) {
		mc.RecordRetryBudgetExceeded(requestHost(a.Request))
	}
}

// OnLimiter returns a ThrottleOptions.OnLimiter hook publishing the tokens
// left on each limiter after it is consulted.
func (mc *MetricsCollector) OnLimiter() func(string, *rate.Limiter) {
	return mc.RecordRateLimiterTokens
}

// Metrics records one request sample per call passing through it. Errors
// are counted by ClientError type, "unknown" for anything else.
func Metrics(mc *MetricsCollector) Policy {
	fn := func(ctx context.Context, req *Request, next Next) (*Response, error) {
		host := requestHost(req)
		mc.RecordRequestStart(req.Method, host)
		defer mc.RecordRequestEnd(req.Method, host)

		start := time.Now()
		resp, err := next(ctx, req)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		mc.RecordRequest(req.Method, host, status, time.Since(start))
		if err != nil {
			errType := "unknown"
			var ce *ClientError
			if errors.As(err, &ce) {
				errType = ce.Type
			}
			mc.RecordError(errType, req.Method, host)
		}
		if resp != nil {
			switch resp.Header.Get(CacheHeader) {
			case "HIT":
				mc.RecordCacheEvent("hit", req.Method, host)
			case "REVALIDATED":
				mc.RecordCacheEvent("revalidated", req.Method, host)
			}
		}
		return resp, err
	}
	return Define(fn, Descriptor{Name: "metrics", Kind: KindMetrics, Options: map[string]any{"namespace": "unireq"}})
}

func requestHost(req *Request) string {
	if req == nil {
		return ""
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return ""
	}
	return u.Host
}
