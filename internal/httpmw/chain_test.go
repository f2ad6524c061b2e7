package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func tag(name string, trail *[]string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*trail = append(*trail, name+">")
			next.ServeHTTP(w, r)
			*trail = append(*trail, "<"+name)
		})
	}
}

func TestChain_Order(t *testing.T) {
	tests := []struct {
		name string
		mws  func(*[]string) []Middleware
		want string
	}{
		{"none", func(*[]string) []Middleware { return nil }, "h"},
		{"single", func(tr *[]string) []Middleware { return []Middleware{tag("a", tr)} }, "a> h <a"},
		{"first is outermost", func(tr *[]string) []Middleware {
			return []Middleware{tag("recover", tr), tag("reqid", tr), tag("log", tr)}
		}, "recover> reqid> log> h <log <reqid <recover"},
		{"nil skipped", func(tr *[]string) []Middleware {
			return []Middleware{nil, tag("a", tr), nil, tag("b", tr), nil}
		}, "a> b> h <b <a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var trail []string
			h := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { trail = append(trail, "h") })
			Chain(h, tt.mws(&trail)...).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
			if got := strings.Join(trail, " "); got != tt.want {
				t.Fatalf("trail = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChain_ShortCircuit(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	}
	called := false
	h := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	rec := httptest.NewRecorder()
	Chain(h, deny).ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/api/v1/logger", http.NoBody))
	if called || rec.Code != http.StatusForbidden {
		t.Fatalf("called=%v code=%d, want handler skipped and 403", called, rec.Code)
	}
}
