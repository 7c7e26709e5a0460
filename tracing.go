package unireq

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is used when Trace is given no tracer.
const TracerName = "github.com/oorabona/unireq-sub005"

// Trace opens a client span per call and injects the trace context into the
// outgoing headers with the global propagator.
func Trace(tracer trace.Tracer) Policy {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}

	fn := func(ctx context.Context, req *Request, next Next) (*Response, error) {
		ctx, span := tracer.Start(ctx, "HTTP "+req.Method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.request.method", req.Method),
				attribute.String("url.full", req.URL),
			),
		)
		defer span.End()

		out := req.Clone()
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.Header))

		resp, err := next(ctx, out)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			var ce *ClientError
			if errors.As(err, &ce) {
				span.SetAttributes(attribute.String("error.type", ce.Type))
			}
			return resp, err
		}
		if resp != nil {
			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
			if resp.StatusCode >= 500 {
				span.SetStatus(codes.Error, resp.Status)
			}
			if c := resp.Header.Get(CacheHeader); c != "" {
				span.SetAttributes(attribute.String("unireq.cache", c))
			}
		}
		return resp, nil
	}
	return Define(fn, Descriptor{Name: "trace", Kind: KindTracing})
}
