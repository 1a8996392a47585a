package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewRespectsLevelAndFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: "warn", Writer: buf, Format: "json"})

	logger.Info("ignored")
	if buf.Len() != 0 {
		t.Fatalf("info record should be filtered at warn level: %s", buf.String())
	}

	logger.Warn("kept", "key", "value")
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if record["msg"] != "kept" || record["key"] != "value" {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestWithContextAnnotatesIDs(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Writer: buf, Format: "json"})

	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithVideoID(ctx, "vid-456")
	WithContext(ctx, logger).Info("annotated")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["request_id"] != "req-123" || record["video_id"] != "vid-456" {
		t.Fatalf("missing context IDs in %v", record)
	}
}

func TestRequestLoggerCapturesStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Writer: buf, Format: "json"})

	handler := RequestLogger(RequestLoggerConfig{Logger: logger})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/videos/abc", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["status"] != float64(http.StatusTeapot) {
		t.Fatalf("status not captured: %v", record)
	}
	if record["path"] != "/api/videos/abc" {
		t.Fatalf("path not captured: %v", record)
	}
}
