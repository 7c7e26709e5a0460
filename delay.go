package unireq

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oorabona/unireq-sub005/internal/backoff"
)

// DelayStrategy computes the wait before the next attempt. ok=false means
// the strategy has no opinion and the next strategy is asked.
type DelayStrategy interface {
	Delay(a Attempt) (d time.Duration, ok bool)
}

// DelayFunc adapts a function to DelayStrategy.
type DelayFunc func(a Attempt) (time.Duration, bool)

// Delay implements DelayStrategy.
func (f DelayFunc) Delay(a Attempt) (time.Duration, bool) { return f(a) }

func (f DelayFunc) String() string { return "func" }

// resolveDelay asks each strategy in order; the first defined delay wins.
// No defined delay means retry immediately.
func resolveDelay(strategies []DelayStrategy, a Attempt) time.Duration {
	for _, s := range strategies {
		if s == nil {
			continue
		}
		if d, ok := s.Delay(a); ok {
			if d < 0 {
				return 0
			}
			return d
		}
	}
	return 0
}

func strategyNames(strategies []DelayStrategy) []string {
	names := make([]string, 0, len(strategies))
	for _, s := range strategies {
		if st, ok := s.(fmt.Stringer); ok {
			names = append(names, st.String())
		} else if s != nil {
			names = append(names, fmt.Sprintf("%T", s))
		}
	}
	return names
}

// BackoffOptions configures exponential delays.
type BackoffOptions struct {
	Initial time.Duration
	Max     time.Duration
	// Multiplier defaults to 2.
	Multiplier float64
	// Jitter draws the delay uniformly from [0, computed] (full jitter).
	Jitter bool
	// Random overrides the jitter source; values must be in [0, 1).
	Random func() float64
}

func (o BackoffOptions) params() backoff.Params {
	p := backoff.Params{Initial: o.Initial, Max: o.Max, Multiplier: o.Multiplier}
	if p.Initial <= 0 {
		p.Initial = 100 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 10 * time.Second
	}
	return p
}

type calculatorDelay struct {
	name string
	calc *backoff.Calculator
}

func (c calculatorDelay) Delay(a Attempt) (time.Duration, bool) {
	return c.calc.Next(a.Number), true
}

func (c calculatorDelay) String() string { return c.name }

// Backoff returns min(Max, Initial*2^(n-1)) after attempt n, optionally with
// full jitter. It always yields a delay, so it belongs last in a list.
func Backoff(opts BackoffOptions) DelayStrategy {
	calc := backoff.Exponential(opts.params(), opts.Jitter).WithRandom(opts.Random)
	return calculatorDelay{name: "backoff", calc: calc}
}

// DecorrelatedBackoff returns AWS-style decorrelated jitter delays.
func DecorrelatedBackoff(opts BackoffOptions) DelayStrategy {
	calc := backoff.Decorrelated(opts.params()).WithRandom(opts.Random)
	return calculatorDelay{name: "decorrelated-backoff", calc: calc}
}

type constantDelay time.Duration

func (c constantDelay) Delay(Attempt) (time.Duration, bool) { return time.Duration(c), true }

func (c constantDelay) String() string { return "constant(" + time.Duration(c).String() + ")" }

// ConstantDelay always waits d.
func ConstantDelay(d time.Duration) DelayStrategy {
	return constantDelay(d)
}

// DefaultRetryAfterCap bounds server-requested delays.
const DefaultRetryAfterCap = time.Hour

type retryAfterDelay struct {
	max time.Duration
	now func() time.Time
}

// RetryAfter honours Retry-After (delay-seconds or HTTP-date) and
// X-RateLimit-Reset (epoch seconds) on 429 and 503 responses, capped at max.
// It has no opinion on other outcomes.
func RetryAfter(max time.Duration) DelayStrategy {
	if max <= 0 {
		max = DefaultRetryAfterCap
	}
	return retryAfterDelay{max: max, now: time.Now}
}

func (r retryAfterDelay) String() string { return "retry-after" }

func (r retryAfterDelay) Delay(a Attempt) (time.Duration, bool) {
	resp := a.Outcome.Response
	if resp == nil {
		return 0, false
	}
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return 0, false
	}

	d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), r.now())
	if !ok {
		d, ok = parseRateLimitReset(resp.Header.Get("X-RateLimit-Reset"), r.now())
	}
	if !ok {
		return 0, false
	}
	if d > r.max {
		d = r.max
	}
	return d, true
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds format and HTTP-date format.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	// Try parsing as seconds first
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}

	// Try parsing as HTTP-date
	if t, err := http.ParseTime(value); err == nil {
		delay := t.Sub(now)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}

	return 0, false
}

func parseRateLimitReset(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	epoch, err := strconv.ParseInt(value, 10, 64)
	if err != nil || epoch <= 0 {
		return 0, false
	}
	delay := time.Unix(epoch, 0).Sub(now)
	if delay < 0 {
		delay = 0
	}
	return delay, true
}
