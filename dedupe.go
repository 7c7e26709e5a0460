package unireq

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DedupeOptions configures Dedupe.
type DedupeOptions struct {
	// Key identifies identical requests. Defaults to DefaultDedupeKey.
	Key func(*Request) string
	// Condition decides eligibility. Defaults to DefaultDedupeCondition.
	Condition func(*Request) bool
	// OnCoalesced fires for every caller that received a shared result.
	OnCoalesced func(req *Request, key string)
	Logger      *zap.Logger
}

// DefaultDedupeKey hashes the method and normalized URL, plus the body for
// methods that carry one.
func DefaultDedupeKey(req *Request) string {
	h := fnv.New64a()
	h.Write([]byte(req.Method))
	h.Write([]byte(NormalizeURL(req.URL)))

	if req.Method == http.MethodPost || req.Method == http.MethodPut || req.Method == http.MethodPatch {
		bodyHash := sha256.New()
		switch b := req.Body.(type) {
		case string:
			bodyHash.Write([]byte(b))
		case []byte:
			bodyHash.Write(b)
		}
		h.Write(bodyHash.Sum(nil))
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// DefaultDedupeCondition enables deduplication for safe methods.
func DefaultDedupeCondition(req *Request) bool {
	return req.Method == http.MethodGet || req.Method == http.MethodHead || req.Method == http.MethodOptions
}

// DedupeStats counts what a Dedupe policy did.
type DedupeStats struct {
	Executed  int64
	Coalesced int64
}

// Deduper coalesces identical concurrent requests.
type Deduper struct {
	group     singleflight.Group
	opts      DedupeOptions
	logger    *zap.Logger
	executed  atomic.Int64
	coalesced atomic.Int64
}

// NewDeduper returns a Deduper with defaults applied.
func NewDeduper(opts DedupeOptions) *Deduper {
	if opts.Key == nil {
		opts.Key = DefaultDedupeKey
	}
	if opts.Condition == nil {
		opts.Condition = DefaultDedupeCondition
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{opts: opts, logger: logger.With(zap.String("component", "dedupe"))}
}

// Stats returns the counters.
func (d *Deduper) Stats() DedupeStats {
	return DedupeStats{Executed: d.executed.Load(), Coalesced: d.coalesced.Load()}
}

// Policy returns the policy backed by d.
func (d *Deduper) Policy() Policy {
	fn := func(ctx context.Context, req *Request, next Next) (*Response, error) {
		if !d.opts.Condition(req) {
			return next(ctx, req)
		}
		key := d.opts.Key(req)

		// Only the caller whose closure runs is the leader; singleflight
		// reports Shared to it as well.
		leader := false
		ch := d.group.DoChan(key, func() (any, error) {
			leader = true
			d.executed.Add(1)
			return next(ctx, req)
		})

		select {
		case <-ctx.Done():
			return nil, TimeoutError(req, 0, ctx.Err())
		case res := <-ch:
			resp, _ := res.Val.(*Response)
			if !res.Shared {
				return resp, res.Err
			}
			if leader {
				return resp.Clone(), res.Err
			}
			// The leader was cut short by its own context; this caller is
			// still live, so it goes to the network itself.
			if leaderContextErr(res.Err) && ctx.Err() == nil {
				d.logger.Debug("leader context ended, reissuing", zap.String("key", key), zap.Error(res.Err))
				return next(ctx, req)
			}
			d.coalesced.Add(1)
			d.logger.Debug("request coalesced", zap.String("key", key), zap.String("url", req.URL))
			if d.opts.OnCoalesced != nil {
				d.opts.OnCoalesced(req, key)
			}
			return resp.Clone(), res.Err
		}
	}
	return Define(fn, Descriptor{Name: "dedupe", Kind: KindDedupe})
}

func leaderContextErr(err error) bool {
	return err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// Dedupe coalesces identical concurrent requests into one downstream call.
// Every caller receives its own copy of the response.
func Dedupe(opts DedupeOptions) Policy {
	return NewDeduper(opts).Policy()
}
