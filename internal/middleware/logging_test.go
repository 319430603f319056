package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ratioglobus/my-world/internal/model"
)

type mockStatusMetrics struct {
	statuses []int
}

func (m *mockStatusMetrics) RecordMutation(string, string, string) {}
func (m *mockStatusMetrics) RecordMovedItemLost() {}
func (m *mockStatusMetrics) RecordRealtimeEvent(string) {}
func (m *mockStatusMetrics) RecordHTTPStatus(code int) { m.statuses = append(m.statuses, code) }
func (m *mockStatusMetrics) RecordImport(int, time.Duration) {}

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})), &buf
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
	logger, buf := newTestLogger()
	mc := &mockStatusMetrics{}

	handler := NewLoggingMiddleware(logger, mc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/items/completed", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, buf)
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %q, want %q", entry["method"], "GET")
	}
	if entry["path"] != "/api/items/completed" {
		t.Errorf("path = %q, want %q", entry["path"], "/api/items/completed")
	}
	if status, ok := entry["status"].(float64); !ok || status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v, want >= 0", entry["duration_ms"])
	}
	if len(mc.statuses) != 1 || mc.statuses[0] != 200 {
		t.Errorf("recorded statuses = %v, want [200]", mc.statuses)
	}
}

// TestLoggingMiddleware_UserIDFromInnerSession は後段のセッションミドルウェアで判明したユーザーIDが記録されることを検証する。
func TestLoggingMiddleware_UserIDFromInnerSession(t *testing.T) {
	logger, buf := newTestLogger()
	repo := &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: "user-123", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}

	handler := NewLoggingMiddleware(logger, nil)(NewSessionMiddleware(repo, SessionCookieConfig{})(statusHandler()))

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, buf)
	if entry["user_id"] != "user-123" {
		t.Errorf("user_id = %v, want %q", entry["user_id"], "user-123")
	}
}

// TestLoggingMiddleware_UserIDFromOuterContext は既にコンテキストにあるユーザーIDも記録されることを検証する。
func TestLoggingMiddleware_UserIDFromOuterContext(t *testing.T) {
	logger, buf := newTestLogger()
	handler := NewLoggingMiddleware(logger, nil)(statusHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestAs("user-456"))

	if entry := decodeLogEntry(t, buf); entry["user_id"] != "user-456" {
		t.Errorf("user_id = %v, want %q", entry["user_id"], "user-456")
	}
}

// TestLoggingMiddleware_NoUserID_OmitsField はユーザーIDがない場合にフィールドが出力されないことを検証する。
func TestLoggingMiddleware_NoUserID_OmitsField(t *testing.T) {
	logger, buf := newTestLogger()
	handler := NewLoggingMiddleware(logger, nil)(statusHandler())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	if _, ok := decodeLogEntry(t, buf)["user_id"]; ok {
		t.Error("user_id should be omitted for unauthenticated request")
	}
}

// TestLoggingMiddleware_IncludesRequestID はchiのRequestIDが記録されることを検証する。
func TestLoggingMiddleware_IncludesRequestID(t *testing.T) {
	logger, buf := newTestLogger()
	handler := chimw.RequestID(NewLoggingMiddleware(logger, nil)(statusHandler()))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if entry := decodeLogEntry(t, buf); entry["request_id"] != "req-42" {
		t.Errorf("request_id = %v, want %q", entry["request_id"], "req-42")
	}
}

// TestLoggingMiddleware_LevelByStatus はステータスコードに応じたログレベルとメトリクス記録を検証する。
func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantLevel  string
	}{
		{"200 OK", http.StatusOK, "INFO"},
		{"201 Created", http.StatusCreated, "INFO"},
		{"400 Bad Request", http.StatusBadRequest, "WARN"},
		{"404 Not Found", http.StatusNotFound, "WARN"},
		{"500 Internal Server Error", http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newTestLogger()
			mc := &mockStatusMetrics{}

			handler := NewLoggingMiddleware(logger, mc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/follows", nil))

			entry := decodeLogEntry(t, buf)
			if status := int(entry["status"].(float64)); status != tt.statusCode {
				t.Errorf("status = %d, want %d", status, tt.statusCode)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if len(mc.statuses) != 1 || mc.statuses[0] != tt.statusCode {
				t.Errorf("recorded statuses = %v", mc.statuses)
			}
		})
	}
}

// TestLoggingMiddleware_BodyWriteCapture はWriteHeaderなしの書き込みで200と書き込みバイト数が記録されることを検証する。
func TestLoggingMiddleware_BodyWriteCapture(t *testing.T) {
	logger, buf := newTestLogger()

	handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
		w.Write([]byte(" world"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/quote", nil))

	entry := decodeLogEntry(t, buf)
	if status := int(entry["status"].(float64)); status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
	if n := int(entry["bytes"].(float64)); n != 11 {
		t.Errorf("bytes = %d, want 11", n)
	}
}

// TestLoggingMiddleware_ProbePaths はヘルスチェックの正常応答がINFOでは出力されず、失敗時は出力されることを検証する。
func TestLoggingMiddleware_ProbePaths(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		statusCode int
		wantLogged bool
	}{
		{"healthy", "/health", http.StatusOK, false},
		{"scrape", "/metrics", http.StatusOK, false},
		{"unhealthy", "/health", http.StatusServiceUnavailable, true},
		{"regular api", "/api/quote", http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newTestLogger()
			mc := &mockStatusMetrics{}
			handler := NewLoggingMiddleware(logger, mc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			if logged := buf.Len() > 0; logged != tt.wantLogged {
				t.Errorf("logged = %v, want %v (%s)", logged, tt.wantLogged, buf.String())
			}
			if len(mc.statuses) != 1 {
				t.Errorf("status should always be recorded, got %v", mc.statuses)
			}
		})
	}
}

// TestLoggingMiddleware_SupportsFlush はラップ後もSSE用のFlushが使えることを検証する。
func TestLoggingMiddleware_SupportsFlush(t *testing.T) {
	logger, _ := newTestLogger()

	var flusherOK bool
	handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var f http.Flusher
		f, flusherOK = w.(http.Flusher)
		if flusherOK {
			w.Write([]byte("data: {}\n\n"))
			f.Flush()
		}
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/realtime", nil))

	if !flusherOK {
		t.Fatal("wrapped ResponseWriter should implement http.Flusher")
	}
	if !w.Flushed {
		t.Error("underlying recorder should be flushed")
	}
}
