package unireq

import (
	"context"
	"errors"
	"time"
)

// Timeout bounds the whole downstream chain with d. Placed outside Retry it
// limits the entire retry loop and cancels the attempt in flight through the
// shared context. A deadline surfaces as a TimeoutError carrying d.
func Timeout(d time.Duration) Policy {
	return Define(func(ctx context.Context, req *Request, next Next) (*Response, error) {
		if d <= 0 {
			return next(ctx, req)
		}
		tctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		resp, err := next(tctx, req)
		if err == nil {
			return resp, nil
		}
		// Deadline from this policy, not from the caller.
		if ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			var ce *ClientError
			if errors.As(err, &ce) && ce.Type == ErrorTypeTimeout && ce.Duration == d {
				return resp, err
			}
			return resp, TimeoutError(req, d, err)
		}
		return resp, fromContext(ctx, req, 0, err)
	}, Descriptor{Name: "timeout", Kind: KindTimeout, Options: map[string]any{"timeout": d.String()}})
}
