package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP_UsesRemoteAddrAndStripsForwarded(t *testing.T) {
	var got, xff string
	h := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
		xff = r.Header.Get("X-Forwarded-For")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "10.1.2.3" {
		t.Fatalf("client ip = %q, want 10.1.2.3", got)
	}
	if xff != "" {
		t.Fatalf("X-Forwarded-For should be stripped, got %q", xff)
	}
}

func TestPeerIP(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:80": "127.0.0.1",
		"[::1]:9000":   "::1",
		"192.168.0.4":  "192.168.0.4",
		"not-an-ip":    "",
		"":             "",
	}
	for in, want := range tests {
		if got := peerIP(in); got != want {
			t.Errorf("peerIP(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsNonPublic(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.0.0.1", true},
		{"172.16.5.5", true},
		{"192.168.1.1", true},
		{"fd00::1", true},
		{"169.254.10.10", true},
		{"8.8.8.8", false},
		{"203.0.113.1", false},
		{"2001:db8::1", false},
		{"", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := IsNonPublic(tt.ip); got != tt.want {
			t.Errorf("IsNonPublic(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestPrivateOnly(t *testing.T) {
	h := PrivateOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for ip, want := range map[string]int{
		"127.0.0.1":   http.StatusNoContent,
		"10.9.8.7":    http.StatusNoContent,
		"203.0.113.1": http.StatusForbidden,
		"":            http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req = req.WithContext(WithClientIP(context.Background(), ip))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("ip %q: status = %d, want %d", ip, rec.Code, want)
		}
	}
}

func TestWithClientIP_EmptyIsNoop(t *testing.T) {
	ctx := WithClientIP(context.Background(), "")
	if got := ClientIPFromContext(ctx); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
