package httpx

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDIsEchoedAndLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}), WithRequestID, WithAccessLog(logger))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/outbox/process", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "req-123" || rec.Header().Get(RequestIDHeader) != "req-123" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rec.Header().Get(RequestIDHeader))
	}
	line := buf.String()
	if !strings.Contains(line, `"request_id":"req-123"`) || !strings.Contains(line, `"status":202`) {
		t.Fatalf("access log = %s", line)
	}
}

func TestRequestIDGeneratedWhenMissing(t *testing.T) {
	h := WithRequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rec.Header().Get(RequestIDHeader)) != 36 {
		t.Fatalf("expected a uuid request id, got %q", rec.Header().Get(RequestIDHeader))
	}
}

func TestQuietPathsLogAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h := WithAccessLog(logger, "/healthz")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("health check logged at info: %s", buf.String())
	}
}
