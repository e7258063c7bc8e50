package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWithLevel(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		expectedBody  string
		expectedLevel zapcore.Level
	}{
		{
			name:          "2xx success",
			statusCode:    http.StatusOK,
			expectedBody:  "success",
			expectedLevel: zapcore.DebugLevel,
		},
		{
			name:          "4xx client error",
			statusCode:    http.StatusNotFound,
			expectedBody:  "client error",
			expectedLevel: zapcore.WarnLevel,
		},
		{
			name:          "5xx server error",
			statusCode:    http.StatusInternalServerError,
			expectedBody:  "server error",
			expectedLevel: zapcore.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			middleware := LoggerWithLevel(zap.New(core))

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.expectedBody))
			})

			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			w := httptest.NewRecorder()

			middleware(handler).ServeHTTP(w, req)

			if w.Code != tt.statusCode {
				t.Errorf("expected status %v, got %v", tt.statusCode, w.Code)
			}
			if body := w.Body.String(); body != tt.expectedBody {
				t.Errorf("expected '%v', got %v", tt.expectedBody, body)
			}

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("expected 1 log entry, got %d", len(entries))
			}
			if entries[0].Level != tt.expectedLevel {
				t.Errorf("expected level %v, got %v", tt.expectedLevel, entries[0].Level)
			}
			if got := entries[0].ContextMap()["path"]; got != "/metrics" {
				t.Errorf("expected path /metrics, got %v", got)
			}
		})
	}
}

func TestLoggerWithLevel_ImplicitStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	middleware := LoggerWithLevel(zap.New(core))

	// a handler that only writes a body reports 200
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	middleware(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := logs.All()[0].ContextMap()["status"]; got != int64(http.StatusOK) {
		t.Errorf("expected logged status 200, got %v", got)
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	wrapped := wrapResponseWriter(w)

	if wrapped.Status() != http.StatusOK {
		t.Errorf("expected initial status 200, got %v", wrapped.Status())
	}

	wrapped.WriteHeader(http.StatusAccepted)
	if wrapped.Status() != http.StatusAccepted {
		t.Errorf("expected status Accepted, got %v", wrapped.Status())
	}

	// Writing header again should not change status
	wrapped.WriteHeader(http.StatusBadRequest)
	if wrapped.Status() != http.StatusAccepted {
		t.Errorf("expected status to remain Accepted, got %v", wrapped.Status())
	}
}
