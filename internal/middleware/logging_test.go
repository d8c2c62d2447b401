package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func decodeLogEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/contacts", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, &buf)
	if entry["method"] != "GET" {
		t.Errorf("method = %q, want %q", entry["method"], "GET")
	}
	if entry["path"] != "/contacts" {
		t.Errorf("path = %q, want %q", entry["path"], "/contacts")
	}
	if status, ok := entry["status"].(float64); !ok || status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected 'duration_ms' field in log entry")
	}
}

// TestLoggingMiddleware_IncludesUserIDFromInnerMiddleware は内側で設定されたユーザーIDがログに含まれることを検証する。
func TestLoggingMiddleware_IncludesUserIDFromInnerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetLogUserID(r.Context(), 42)
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/me", nil))

	entry := decodeLogEntry(t, &buf)
	if entry["user_id"] != float64(42) {
		t.Errorf("user_id = %v, want 42", entry["user_id"])
	}
}

// TestLoggingMiddleware_NoUserID_OmitsField は未認証リクエストでuser_idが出力されないことを検証する。
func TestLoggingMiddleware_NoUserID_OmitsField(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entry := decodeLogEntry(t, &buf)
	if _, ok := entry["user_id"]; ok {
		t.Errorf("user_id should be omitted, got %v", entry["user_id"])
	}
}

// TestLoggingMiddleware_IncludesRequestID はリクエストIDミドルウェアの内側でrequest_idが出力されることを検証する。
func TestLoggingMiddleware_IncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	handler := NewRequestIDMiddleware()(NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-abc")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, &buf)
	if entry["request_id"] != "req-abc" {
		t.Errorf("request_id = %v, want req-abc", entry["request_id"])
	}
}

// TestLoggingMiddleware_LogLevelByStatus はステータスコードに応じてログレベルが変わることを検証する。
func TestLoggingMiddleware_LogLevelByStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"2xxはINFO", http.StatusOK, "INFO"},
		{"4xxはWARN", http.StatusForbidden, "WARN"},
		{"5xxはERROR", http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/contacts", nil))

			entry := decodeLogEntry(t, &buf)
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
		})
	}
}

// TestStatusRecorder_ImplicitOK はWriteのみの場合に200が記録されることを検証する。
func TestStatusRecorder_ImplicitOK(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	rec.Write([]byte("ok"))
	rec.WriteHeader(http.StatusTeapot)

	if rec.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want 200", rec.statusCode)
	}
}

// --- メトリクスミドルウェア ---

type recordingCollector struct {
	statuses    []int
	latencies   int
	rejected    []string
	rateLimited []string
}

func (c *recordingCollector) RecordLogin(string, string)         {}
func (c *recordingCollector) RecordRoleChange(string)            {}
func (c *recordingCollector) RecordAuthRejected(provider string) { c.rejected = append(c.rejected, provider) }
func (c *recordingCollector) RecordRateLimited(limit string)     { c.rateLimited = append(c.rateLimited, limit) }
func (c *recordingCollector) RecordHTTPStatus(code int)          { c.statuses = append(c.statuses, code) }
func (c *recordingCollector) RecordRequestLatency(time.Duration) { c.latencies++ }

// TestMetricsMiddleware_RecordsStatusAndLatency はステータスとレイテンシが記録されることを検証する。
func TestMetricsMiddleware_RecordsStatusAndLatency(t *testing.T) {
	collector := &recordingCollector{}
	handler := NewMetricsMiddleware(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/contacts", nil))

	if len(collector.statuses) != 1 || collector.statuses[0] != http.StatusCreated {
		t.Errorf("statuses = %v, want [201]", collector.statuses)
	}
	if collector.latencies != 1 {
		t.Errorf("latencies = %d, want 1", collector.latencies)
	}
}
