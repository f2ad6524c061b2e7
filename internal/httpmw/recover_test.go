package httpmw

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveRecovered(t *testing.T, h http.HandlerFunc, onPanic func()) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	L := newJSONLogger(t, &buf)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/logger/level", http.NoBody)
	Chain(h, RequestID(""), Recover(L, onPanic)).ServeHTTP(rec, req)

	if buf.Len() == 0 {
		return rec, nil
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("log line is not json: %v\n%s", err, buf.String())
	}
	return rec, line
}

func TestRecover_NoPanicPassesThrough(t *testing.T) {
	calls := 0
	rec, line := serveRecovered(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}, func() { calls++ })

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if line != nil || calls != 0 {
		t.Fatalf("unexpected log %v or onPanic calls %d", line, calls)
	}
}

func TestRecover_Panics(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		wantErr string
	}{
		{"string", "controller exploded", "panic: controller exploded"},
		{"error", errors.New("nil map"), "panic: nil map"},
		{"other", 42, "panic: 42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			rec, line := serveRecovered(t, func(http.ResponseWriter, *http.Request) {
				panic(tt.value)
			}, func() { calls++ })

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			if calls != 1 {
				t.Fatalf("onPanic calls = %d, want 1", calls)
			}
			if line["msg"] != "httpserver panic recovered" {
				t.Fatalf("msg = %v", line["msg"])
			}
			if got, _ := line["err"].(string); !strings.Contains(got, tt.wantErr) {
				t.Fatalf("err = %q, want containing %q", got, tt.wantErr)
			}
			if line["url.path"] != "/api/v1/logger/level" || line["http.request.method"] != http.MethodPut {
				t.Fatalf("request fields missing: %v", line)
			}
			if id, _ := line["request_id"].(string); id == "" {
				t.Fatal("request_id missing from panic log")
			}
		})
	}
}

func TestRecover_NilLoggerAndCallback(t *testing.T) {
	rec := httptest.NewRecorder()
	h := Recover(nil, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestRecover_AbortHandlerRepanics(t *testing.T) {
	h := Recover(nil, func() { t.Error("onPanic must not run for ErrAbortHandler") })(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(http.ErrAbortHandler) }),
	)
	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want http.ErrAbortHandler", r)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
}
