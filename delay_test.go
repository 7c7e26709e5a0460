package unireq

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func responseAttempt(n, status int, headers map[string]string) Attempt {
	resp := &Response{StatusCode: status, Header: make(http.Header)}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return Attempt{Number: n, Outcome: Outcome{Response: resp}}
}

func TestBackoffExact(t *testing.T) {
	s := Backoff(BackoffOptions{Initial: 200 * time.Millisecond, Max: 2 * time.Second})

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1600 * time.Millisecond},
		{5, 2 * time.Second},
		{9, 2 * time.Second},
	}
	for _, tt := range tests {
		d, ok := s.Delay(Attempt{Number: tt.attempt})
		assert.True(t, ok)
		assert.Equal(t, tt.expected, d, "attempt %d", tt.attempt)
	}
}

func TestBackoffJitterUsesRandomSource(t *testing.T) {
	s := Backoff(BackoffOptions{Initial: 200 * time.Millisecond, Max: 2 * time.Second, Jitter: true, Random: func() float64 { return 0.5 }})
	d, ok := s.Delay(Attempt{Number: 3})
	assert.True(t, ok)
	assert.Equal(t, 400*time.Millisecond, d)
}

func TestBackoffDefaults(t *testing.T) {
	d, _ := Backoff(BackoffOptions{}).Delay(Attempt{Number: 1})
	assert.Equal(t, 100*time.Millisecond, d)
	d, _ = Backoff(BackoffOptions{}).Delay(Attempt{Number: 40})
	assert.Equal(t, 10*time.Second, d)
}

func TestDecorrelatedBackoff(t *testing.T) {
	s := DecorrelatedBackoff(BackoffOptions{Initial: 100 * time.Millisecond, Max: time.Second})
	for i := 0; i < 100; i++ {
		d, ok := s.Delay(Attempt{Number: 3})
		assert.True(t, ok)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 900*time.Millisecond)
	}
}

func TestRetryAfterStrategy(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s := retryAfterDelay{max: time.Minute, now: func() time.Time { return now }}

	tests := []struct {
		name    string
		a       Attempt
		want    time.Duration
		defined bool
	}{
		{name: "seconds on 429", a: responseAttempt(1, 429, map[string]string{"Retry-After": "3"}), want: 3 * time.Second, defined: true},
		{name: "zero seconds", a: responseAttempt(1, 503, map[string]string{"Retry-After": "0"}), want: 0, defined: true},
		{name: "http date on 503", a: responseAttempt(1, 503, map[string]string{"Retry-After": now.Add(10 * time.Second).Format(http.TimeFormat)}), want: 10 * time.Second, defined: true},
		{name: "past date", a: responseAttempt(1, 503, map[string]string{"Retry-After": now.Add(-time.Hour).Format(http.TimeFormat)}), want: 0, defined: true},
		{name: "capped", a: responseAttempt(1, 429, map[string]string{"Retry-After": "7200"}), want: time.Minute, defined: true},
		{name: "rate limit reset", a: responseAttempt(1, 429, map[string]string{"X-RateLimit-Reset": strconv.FormatInt(now.Add(5*time.Second).Unix(), 10)}), want: 5 * time.Second, defined: true},
		{name: "garbage", a: responseAttempt(1, 429, map[string]string{"Retry-After": "soon"}), defined: false},
		{name: "negative", a: responseAttempt(1, 429, map[string]string{"Retry-After": "-1"}), defined: false},
		{name: "no header", a: responseAttempt(1, 429, nil), defined: false},
		{name: "wrong status", a: responseAttempt(1, 500, map[string]string{"Retry-After": "3"}), defined: false},
		{name: "error outcome", a: Attempt{Number: 1, Outcome: Outcome{Err: ErrNetwork}}, defined: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := s.Delay(tt.a)
			assert.Equal(t, tt.defined, ok)
			if tt.defined {
				assert.Equal(t, tt.want, d)
			}
		})
	}
}

func TestRetryAfterBeforeBackoff(t *testing.T) {
	strategies := []DelayStrategy{RetryAfter(time.Minute), Backoff(BackoffOptions{Initial: time.Second, Max: time.Second})}

	a := responseAttempt(1, 429, map[string]string{"Retry-After": "2"})
	assert.Equal(t, 2*time.Second, resolveDelay(strategies, a))

	a = responseAttempt(1, 500, nil)
	assert.Equal(t, time.Second, resolveDelay(strategies, a))
}

func TestResolveDelayClampsNegative(t *testing.T) {
	neg := DelayFunc(func(Attempt) (time.Duration, bool) { return -time.Second, true })
	assert.Equal(t, time.Duration(0), resolveDelay([]DelayStrategy{neg}, Attempt{Number: 1}))
	assert.Equal(t, time.Duration(0), resolveDelay(nil, Attempt{Number: 1}))
}

func TestStrategyNames(t *testing.T) {
	names := strategyNames([]DelayStrategy{
		RetryAfter(0),
		Backoff(BackoffOptions{}),
		DecorrelatedBackoff(BackoffOptions{}),
		ConstantDelay(time.Second),
		DelayFunc(func(Attempt) (time.Duration, bool) { return 0, false }),
	})
	assert.Equal(t, []string{"retry-after", "backoff", "decorrelated-backoff", "constant(1s)", "func"}, names)
}
