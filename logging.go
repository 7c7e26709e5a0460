package unireq

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the id Log assigns to each call.
const RequestIDHeader = "X-Request-Id"

// Log writes one structured entry per call: Debug on the way in, Info on
// completion and Warn on error. Requests without an X-Request-Id header get
// a fresh one.
func Log(logger *zap.Logger) Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "http"))

	fn := func(ctx context.Context, req *Request, next Next) (*Response, error) {
		id := req.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			req = req.WithHeader(RequestIDHeader, id)
		}
		fields := []zap.Field{
			zap.String("request_id", id),
			zap.String("method", req.Method),
			zap.String("url", req.URL),
		}
		logger.Debug("request started", fields...)

		start := time.Now()
		resp, err := next(ctx, req)
		fields = append(fields, zap.Duration("duration", time.Since(start)))

		if err != nil {
			var ce *ClientError
			if errors.As(err, &ce) {
				fields = append(fields, zap.String("error_type", ce.Type))
			}
			logger.Warn("request failed", append(fields, zap.Error(err))...)
			return resp, err
		}
		if resp != nil {
			fields = append(fields, zap.Int("status", resp.StatusCode))
			if c := resp.Header.Get(CacheHeader); c != "" {
				fields = append(fields, zap.String("cache", c))
			}
		}
		logger.Info("request completed", fields...)
		return resp, nil
	}
	return Define(fn, Descriptor{Name: "log", Kind: KindLogging})
}
