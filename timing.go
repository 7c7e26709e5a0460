package unireq

import (
	"context"
	"maps"
	"sync"
	"time"
)

type timingKey struct{}

type timingRecorder struct {
	start time.Time
	mu    sync.Mutex
	marks map[string]time.Duration
}

func (t *timingRecorder) mark(name string) {
	d := time.Since(t.start)
	t.mu.Lock()
	t.marks[name] = d
	t.mu.Unlock()
}

func (t *timingRecorder) snapshot() *TimingInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &TimingInfo{
		Start: t.start,
		Total: time.Since(t.start),
		Marks: maps.Clone(t.marks),
	}
}

func timingFrom(req *Request) *timingRecorder {
	if rec, ok := req.Value(timingKey{}).(*timingRecorder); ok {
		return rec
	}
	return nil
}

// MarkTiming records the elapsed time since the Timing policy started under
// name. It is a no-op when no Timing policy is upstream.
func MarkTiming(req *Request, name string) {
	if rec := timingFrom(req); rec != nil {
		rec.mark(name)
	}
}

// Timing measures the downstream chain and attaches a *TimingInfo to the
// response. Connectors and inner policies add marks through MarkTiming.
func Timing() Policy {
	return Define(func(ctx context.Context, req *Request, next Next) (*Response, error) {
		rec := &timingRecorder{start: time.Now(), marks: make(map[string]time.Duration)}
		resp, err := next(ctx, req.WithValue(timingKey{}, rec))
		if resp == nil {
			return resp, err
		}
		return resp.WithTiming(rec.snapshot()), err
	}, Descriptor{Name: "timing", Kind: KindTiming})
}
