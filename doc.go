// Package unireq builds HTTP clients out of small composable policies.
//
// A Policy wraps the rest of the chain: it sees the request on the way in,
// calls next zero or more times and sees the response on the way out.
// Compose folds policies into a Handler; the first policy is outermost.
//
//   - Retry with pluggable delay strategies (full-jitter Backoff, RetryAfter,
//     DecorrelatedBackoff) and an optional RetryBudget
//   - Timeout bounding everything downstream of it
//   - Cache and Conditional (ETag / Last-Modified revalidation) over a
//     CacheStore (in memory here, Redis and SQL in sub-packages)
//   - Breaker, Throttle and Dedupe for upstream protection
//   - Bearer, Basic, APIKey and JWT authentication
//   - JSON and Text parsers, Audit, Timing, Log, Metrics and Trace
//
// Every policy built by this package carries metadata. Inspect renders a
// composed chain as JSON or an ASCII tree, and AssertHas checks that a kind
// of policy is present anywhere in it:
//
//	h := unireq.Compose(
//	    unireq.Bearer(token),
//	    unireq.Timeout(5*time.Second),
//	    unireq.Retry(unireq.HTTPRetryPredicate(unireq.HTTPRetryOptions{}),
//	        []unireq.DelayStrategy{unireq.RetryAfter(time.Minute), unireq.Backoff(unireq.BackoffOptions{Jitter: true})},
//	        unireq.RetryOptions{Tries: 3}),
//	    unireq.JSON(),
//	)
//	out, _ := unireq.Inspect(h, unireq.InspectOptions{Format: unireq.FormatTree})
//
// Client wraps a Handler with an HTTP connector, a base URL and default
// headers. Credentials passed to policies are redacted from inspection output.
package unireq
