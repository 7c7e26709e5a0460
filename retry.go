package unireq

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Outcome is the result of one attempt. Exactly one of Response and Err is set.
type Outcome struct {
	Response *Response
	Err      error
}

// Failed reports whether the attempt ended in an error.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Attempt describes a finished attempt to the retry predicate and delay
// strategies. Number is 1-based.
type Attempt struct {
	Number  int
	Request *Request
	Outcome Outcome
	// Elapsed is measured from the start of the first attempt.
	Elapsed time.Duration
}

// RetryPredicate decides whether another attempt should follow a.
type RetryPredicate func(a Attempt) bool

// RetryOptions configures Retry.
type RetryOptions struct {
	// Tries is the total number of attempts, first included. Defaults to 3.
	Tries int
	// AttemptTimeout bounds each attempt separately. Zero leaves attempts
	// bounded only by the caller's context.
	AttemptTimeout time.Duration
	// Budget caps retries across calls. When it is exhausted the current
	// outcome is returned as is.
	Budget *RetryBudget
	// OnRetry fires before each sleep with the finished attempt and the
	// chosen delay.
	OnRetry func(a Attempt, delay time.Duration)
	// OnBudgetExhausted fires when Budget refuses a retry.
	OnBudgetExhausted func(a Attempt)
	Logger            *zap.Logger
	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Name tags the predicate in inspection output.
	Name string
}

// DefaultTries is used when RetryOptions.Tries is not positive.
const DefaultTries = 3

// Retry calls next until pred declines, tries are exhausted or the budget
// runs out. Every attempt receives the original request. The last outcome is
// returned unchanged; a cancellation while sleeping yields a TimeoutError.
func Retry(pred RetryPredicate, strategies []DelayStrategy, opts RetryOptions) Policy {
	if pred == nil {
		pred = RetryOnError()
	}
	if opts.Tries <= 0 {
		opts.Tries = DefaultTries
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Name == "" {
		opts.Name = "custom"
	}
	strategies = slices.Clone(strategies)
	logger := opts.Logger.With(zap.String("component", "retry"))

	fn := func(ctx context.Context, req *Request, next Next) (*Response, error) {
		start := time.Now()
		for n := 1; ; n++ {
			resp, err := attempt(ctx, req, next, opts.AttemptTimeout)
			a := Attempt{
				Number:  n,
				Request: req,
				Outcome: Outcome{Response: resp, Err: err},
				Elapsed: time.Since(start),
			}

			if n >= opts.Tries || !pred(a) {
				return resp, err
			}
			if ctx.Err() != nil {
				return resp, err
			}
			if opts.Budget != nil && !opts.Budget.Allow() {
				logger.Warn("retry budget exhausted",
					zap.String("method", req.Method),
					zap.String("url", req.URL),
					zap.Int("attempt", n))
				if opts.OnBudgetExhausted != nil {
					opts.OnBudgetExhausted(a)
				}
				return resp, err
			}

			delay := resolveDelay(strategies, a)
			if opts.OnRetry != nil {
				opts.OnRetry(a, delay)
			}
			logger.Debug("scheduling retry",
				zap.String("method", req.Method),
				zap.String("url", req.URL),
				zap.Int("attempt", n),
				zap.Duration("delay", delay),
				zap.Error(err))

			if serr := opts.Sleep(ctx, delay); serr != nil {
				return nil, TimeoutError(req, 0, errors.Join(serr, err))
			}
		}
	}

	options := map[string]any{
		"tries":     opts.Tries,
		"predicate": opts.Name,
	}
	if names := strategyNames(strategies); len(names) > 0 {
		options["strategies"] = names
	}
	if opts.AttemptTimeout > 0 {
		options["attemptTimeout"] = opts.AttemptTimeout.String()
	}
	if opts.Budget != nil {
		options["budget"] = opts.Budget.max
	}
	return Define(fn, Descriptor{Name: "retry", Kind: KindRetry, Options: options})
}

func attempt(ctx context.Context, req *Request, next Next, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		return next(ctx, req)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := next(attemptCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		var ce *ClientError
		if errors.As(err, &ce) && ce.Type == ErrorTypeTimeout && ce.Duration > 0 {
			return resp, err
		}
		return resp, TimeoutError(req, timeout, err)
	}
	return resp, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryWhile wraps fn as a predicate.
func RetryWhile(fn func(a Attempt) bool) RetryPredicate {
	return RetryPredicate(fn)
}

// RetryOnError retries any failed attempt except caller cancellation.
func RetryOnError() RetryPredicate {
	return func(a Attempt) bool {
		return a.Outcome.Err != nil && !errors.Is(a.Outcome.Err, context.Canceled)
	}
}

// DefaultRetryStatusCodes are the statuses HTTPRetryPredicate retries by default.
var DefaultRetryStatusCodes = []int{
	http.StatusRequestTimeout,
	http.StatusTooEarly,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// DefaultMaxRetryBodyBytes is the largest buffered request body that is replayed.
const DefaultMaxRetryBodyBytes int64 = 1 << 20

// HTTPRetryOptions configures HTTPRetryPredicate.
type HTTPRetryOptions struct {
	// Methods that may be retried. Defaults to the idempotent methods.
	Methods []string
	// StatusCodes that trigger a retry. Defaults to DefaultRetryStatusCodes.
	StatusCodes []int
	// MaxBodyBytes is the body ceiling. Defaults to DefaultMaxRetryBodyBytes.
	MaxBodyBytes int64
	// SkipNetworkErrors disables retrying transient transport failures.
	SkipNetworkErrors bool
}

// HTTPRetryPredicate retries idempotent requests with replayable bodies under
// the ceiling when the status is retryable or a transient error occurred.
func HTTPRetryPredicate(opts HTTPRetryOptions) RetryPredicate {
	isAllowed := DefaultIsIdempotent
	if len(opts.Methods) > 0 {
		methods := make(map[string]struct{}, len(opts.Methods))
		for _, m := range opts.Methods {
			methods[strings.ToUpper(m)] = struct{}{}
		}
		isAllowed = func(method string) bool {
			_, ok := methods[strings.ToUpper(method)]
			return ok
		}
	}
	statuses := opts.StatusCodes
	if len(statuses) == 0 {
		statuses = DefaultRetryStatusCodes
	}
	ceiling := opts.MaxBodyBytes
	if ceiling <= 0 {
		ceiling = DefaultMaxRetryBodyBytes
	}

	return func(a Attempt) bool {
		req := a.Request
		if req == nil || !isAllowed(req.Method) || !req.Replayable() {
			return false
		}
		if n, ok := req.BodySize(); ok && n > ceiling {
			return false
		}
		if err := a.Outcome.Err; err != nil {
			return !opts.SkipNetworkErrors && IsTransient(err)
		}
		return a.Outcome.Response != nil && slices.Contains(statuses, a.Outcome.Response.StatusCode)
	}
}

// DefaultIsIdempotent returns true for idempotent HTTP methods.
func DefaultIsIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
