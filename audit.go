package unireq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditRecord describes one external call.
type AuditRecord struct {
	ID              string        `json:"id"`
	Time            time.Time     `json:"time"`
	Method          string        `json:"method"`
	URL             string        `json:"url"`
	StatusCode      int           `json:"status,omitempty"`
	Duration        time.Duration `json:"durationNs"`
	Error           string        `json:"error,omitempty"`
	ErrorType       string        `json:"errorType,omitempty"`
	RequestHeaders  http.Header   `json:"requestHeaders,omitempty"`
	ResponseHeaders http.Header   `json:"responseHeaders,omitempty"`
}

// AuditSink receives audit records.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, rec AuditRecord) error

// Record calls f.
func (f AuditSinkFunc) Record(ctx context.Context, rec AuditRecord) error { return f(ctx, rec) }

// DefaultAuditRedactedHeaders are masked in every audit record.
var DefaultAuditRedactedHeaders = []string{
	"Authorization", "Proxy-Authorization", "Cookie", "Set-Cookie", "X-Api-Key",
}

// AuditOptions configures Audit.
type AuditOptions struct {
	Sink AuditSink
	// RedactHeaders extends DefaultAuditRedactedHeaders.
	RedactHeaders []string
	// IDs generates record ids. Defaults to random UUIDs.
	IDs func() string
	Now func() time.Time
	// Logger reports sink failures. A failing sink never fails the request.
	Logger *zap.Logger
}

// Audit emits one AuditRecord per call that passes through it.
func Audit(opts AuditOptions) Policy {
	if opts.Sink == nil {
		opts.Sink = NewMemoryAuditSink()
	}
	if opts.IDs == nil {
		opts.IDs = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "audit"))
	redact := append(append([]string(nil), DefaultAuditRedactedHeaders...), opts.RedactHeaders...)

	fn := func(ctx context.Context, req *Request, next Next) (*Response, error) {
		start := opts.Now()
		resp, err := next(ctx, req)

		rec := AuditRecord{
			ID:             opts.IDs(),
			Time:           start,
			Method:         req.Method,
			URL:            req.URL,
			Duration:       opts.Now().Sub(start),
			RequestHeaders: redactHeader(req.Header, redact),
		}
		if resp != nil {
			rec.StatusCode = resp.StatusCode
			rec.ResponseHeaders = redactHeader(resp.Header, redact)
		}
		if err != nil {
			rec.Error = err.Error()
			var ce *ClientError
			if errors.As(err, &ce) {
				rec.ErrorType = ce.Type
			}
		}
		if serr := opts.Sink.Record(ctx, rec); serr != nil {
			logger.Warn("audit sink failed", zap.String("id", rec.ID), zap.Error(serr))
		}
		return resp, err
	}

	return Define(fn, Descriptor{
		Name:    "audit",
		Kind:    KindAudit,
		Options: map[string]any{"redactHeaders": redact, "sink": sinkName(opts.Sink)},
	})
}

// RedactHeaders masks the named response headers.
func RedactHeaders(names ...string) Policy {
	fn := func(ctx context.Context, req *Request, next Next) (*Response, error) {
		resp, err := next(ctx, req)
		if resp == nil {
			return resp, err
		}
		masked := resp.Clone()
		masked.Header = redactHeader(resp.Header, names)
		return masked, err
	}
	return Define(fn, Descriptor{Name: "redactHeaders", Kind: KindAudit, Options: map[string]any{"headers": names}})
}

func redactHeader(h http.Header, names []string) http.Header {
	if h == nil {
		return nil
	}
	out := h.Clone()
	for _, name := range names {
		if _, ok := out[http.CanonicalHeaderKey(name)]; ok {
			out.Set(name, RedactedValue)
		}
	}
	return out
}

func sinkName(s AuditSink) string {
	switch s.(type) {
	case *MemoryAuditSink:
		return "memory"
	case *ZapAuditSink:
		return "zap"
	case *JSONLAuditSink:
		return "jsonl"
	default:
		return "custom"
	}
}

// MemoryAuditSink keeps records in memory.
type MemoryAuditSink struct {
	mu      sync.Mutex
	records []AuditRecord
}

// NewMemoryAuditSink returns an empty sink.
func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

// Record appends rec.
func (s *MemoryAuditSink) Record(_ context.Context, rec AuditRecord) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

// Records returns a copy of everything recorded so far.
func (s *MemoryAuditSink) Records() []AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditRecord(nil), s.records...)
}

// ZapAuditSink writes records as structured log entries.
type ZapAuditSink struct {
	logger *zap.Logger
}

// NewZapAuditSink logs through logger. A nil logger discards records.
func NewZapAuditSink(logger *zap.Logger) *ZapAuditSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapAuditSink{logger: logger}
}

// Record logs rec at info level, or warn when the call failed.
func (s *ZapAuditSink) Record(_ context.Context, rec AuditRecord) error {
	fields := []zap.Field{
		zap.String("audit_id", rec.ID),
		zap.String("method", rec.Method),
		zap.String("url", rec.URL),
		zap.Int("status", rec.StatusCode),
		zap.Duration("duration", rec.Duration),
	}
	if rec.Error != "" {
		fields = append(fields, zap.String("error", rec.Error), zap.String("error_type", rec.ErrorType))
		s.logger.Warn("http call", fields...)
		return nil
	}
	s.logger.Info("http call", fields...)
	return nil
}

// JSONLAuditSink appends records as JSON lines to a file.
type JSONLAuditSink struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// NewJSONLAuditSink creates or opens path for appending. Missing parent
// directories are created.
func NewJSONLAuditSink(path string) (*JSONLAuditSink, error) {
	if path == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLAuditSink{path: path, f: f}, nil
}

// Record writes rec as one line. Writes are serialised.
func (s *JSONLAuditSink) Record(_ context.Context, rec AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	_, err = s.f.Write(data)
	return err
}

// Query scans the file and returns the records match accepts. Lines that
// fail to decode are skipped.
func (s *JSONLAuditSink) Query(_ context.Context, match func(AuditRecord) bool) ([]AuditRecord, error) {
	s.mu.Lock()
	if s.f != nil {
		_ = s.f.Sync()
	}
	s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []AuditRecord
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var rec AuditRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if match == nil || match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Close closes the file. Later calls are no-ops.
func (s *JSONLAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
