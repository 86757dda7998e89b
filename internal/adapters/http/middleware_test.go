package httpadapter

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDMiddlewareKeepsValidCallerID(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "trace-123")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if seen != "trace-123" || res.Header().Get(requestIDHeader) != "trace-123" {
		t.Fatalf("expected caller request id to be kept, got context %q header %q", seen, res.Header().Get(requestIDHeader))
	}
}

func TestRequestIDMiddlewareReplacesInvalidCallerID(t *testing.T) {
	cases := map[string]string{
		"spaces":    "two words",
		"too long":  strings.Repeat("a", maxRequestIDLen+1),
		"non ascii": "идентификатор",
	}
	for name, id := range cases {
		t.Run(name, func(t *testing.T) {
			handler := requestIDMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set(requestIDHeader, id)
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)

			got := res.Header().Get(requestIDHeader)
			if got == id || !validRequestID(got) {
				t.Fatalf("expected generated request id, got %q", got)
			}
		})
	}
}

func TestAccessLogIncludesRequestAndEpisodeIDs(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(previous)

	handler := requestIDMiddleware(accessLogMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(episodeIDHeader, "ep-42")
		w.WriteHeader(http.StatusAccepted)
	})))
	req := httptest.NewRequest(http.MethodPost, "/v1/answer", nil)
	req.Header.Set(requestIDHeader, "req-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	for _, want := range []string{`"msg":"http_request"`, `"request_id":"req-7"`, `"episode_id":"ep-42"`, `"status":202`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %s in access log, got %s", want, line)
		}
	}
}
