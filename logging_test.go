package unireq

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogWritesOneEntryPerCall(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	conn := &recordingConnector{}
	do := Compose(Log(zap.New(core))).Bind(conn)

	resp, err := do(context.Background(), NewRequest("GET", "http://example.test/a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "ok" {
		t.Errorf("body = %q", resp.Text())
	}

	id := conn.Last().Header.Get(RequestIDHeader)
	if id == "" {
		t.Fatal("expected a request id header")
	}
	if logs.FilterMessage("request started").Len() != 1 {
		t.Error("expected one debug entry")
	}
	done := logs.FilterMessage("request completed").All()
	if len(done) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(done))
	}
	fields := done[0].ContextMap()
	if fields["request_id"] != id {
		t.Errorf("request_id = %v, want %s", fields["request_id"], id)
	}
	if fields["status"] != int64(200) {
		t.Errorf("status = %v, want 200", fields["status"])
	}
	if fields["component"] != "http" {
		t.Errorf("component = %v", fields["component"])
	}
}

func TestLogKeepsCallerRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	conn := &recordingConnector{respond: func(_ int, req *Request) (*Response, error) {
		resp := textResponse(req, 200, "ok")
		resp.Header.Set(CacheHeader, "HIT")
		return resp, nil
	}}
	do := Compose(Log(zap.New(core))).Bind(conn)

	_, _ = do(context.Background(), NewRequest("GET", "http://example.test/").WithHeader(RequestIDHeader, "req-1"))
	if got := conn.Last().Header.Get(RequestIDHeader); got != "req-1" {
		t.Errorf("request id = %q, want req-1", got)
	}
	fields := logs.All()[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["cache"] != "HIT" {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestLogWarnsOnError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	conn := &recordingConnector{respond: func(_ int, req *Request) (*Response, error) {
		return nil, NetworkError(req, nil)
	}}
	_, err := Compose(Log(zap.New(core))).Bind(conn)(context.Background(), NewRequest("GET", "http://example.test/"))
	if err == nil {
		t.Fatal("expected the error to pass through")
	}
	failed := logs.FilterMessage("request failed").All()
	if len(failed) != 1 || failed[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", logs.All())
	}
	if failed[0].ContextMap()["error_type"] != ErrorTypeNetwork {
		t.Errorf("error_type = %v", failed[0].ContextMap()["error_type"])
	}
}

func TestLogNilLogger(t *testing.T) {
	conn := &recordingConnector{}
	if _, err := Compose(Log(nil)).Bind(conn)(context.Background(), NewRequest("GET", "http://example.test/")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Log(nil).Kind() != KindLogging {
		t.Error("Log() should be tagged as logging")
	}
}
