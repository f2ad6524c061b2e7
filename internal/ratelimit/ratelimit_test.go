package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/ratelog/internal/httpmw"
)

// newTestLimiter creates a limiter with a short TTL and cancellable context for tests.
func newTestLimiter(opts ...Option) (*IPLimiter, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	defaults := []Option{
		WithRate(10, 5),
		WithTTL(100 * time.Millisecond),
	}
	return New(ctx, append(defaults, opts...)...), cancel
}

func TestDefaults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(ctx)
	if l.perSecond != 1 || l.burst != 10 {
		t.Fatalf("rate = %v burst = %d, want 1 / 10", l.perSecond, l.burst)
	}
	if l.ttl != 5*time.Minute {
		t.Fatalf("ttl = %v", l.ttl)
	}
	if l.maxVisitors != 1024 {
		t.Fatalf("maxVisitors = %d, want 1024", l.maxVisitors)
	}
}

func TestAllow_BurstThenReject(t *testing.T) {
	l, cancel := newTestLimiter(WithRate(1, 5))
	defer cancel()

	for i := 0; i < 5; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed (within burst)", i+1)
		}
	}
	if l.allow("10.0.0.1") {
		t.Fatal("request 6 should be denied (burst exhausted)")
	}
}

func TestAllow_SeparateIPsGetSeparateBuckets(t *testing.T) {
	l, cancel := newTestLimiter(WithRate(1, 3))
	defer cancel()

	for i := 0; i < 3; i++ {
		l.allow("10.0.0.1")
	}
	if l.allow("10.0.0.1") {
		t.Fatal("ip1 should be denied after burst")
	}
	if !l.allow("10.0.0.2") {
		t.Fatal("ip2 should have its own bucket")
	}
}

func TestAllow_RefillAfterTime(t *testing.T) {
	l, cancel := newTestLimiter(WithRate(20, 1))
	defer cancel()

	l.allow("10.0.0.1")
	if l.allow("10.0.0.1") {
		t.Fatal("second immediate request should be denied")
	}
	time.Sleep(100 * time.Millisecond)
	if !l.allow("10.0.0.1") {
		t.Fatal("request after refill should be allowed")
	}
}

func TestOnFirstDenied_CalledOncePerVisitor(t *testing.T) {
	var first, every atomic.Int32
	l, cancel := newTestLimiter(
		WithRate(1, 1),
		WithOnFirstDenied(func(string) { first.Add(1) }),
		WithOnDenied(func(string) { every.Add(1) }),
	)
	defer cancel()

	for i := 0; i < 4; i++ {
		l.allow("10.0.0.1")
	}
	l.allow("10.0.0.2")
	l.allow("10.0.0.2")

	if got := first.Load(); got != 2 {
		t.Fatalf("OnFirstDenied calls = %d, want 2 (one per ip)", got)
	}
	if got := every.Load(); got != 4 {
		t.Fatalf("OnDenied calls = %d, want 4", got)
	}
}

func TestCleanup_EvictsStaleVisitors(t *testing.T) {
	l, cancel := newTestLimiter(WithTTL(40 * time.Millisecond))
	defer cancel()

	l.allow("10.0.0.1")
	if l.len() != 1 {
		t.Fatalf("visitors = %d, want 1", l.len())
	}

	deadline := time.Now().Add(2 * time.Second)
	for l.len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("stale visitor was not evicted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCleanup_FirstDeniedResetsAfterEviction(t *testing.T) {
	var first atomic.Int32
	l, cancel := newTestLimiter(
		WithRate(0.001, 1),
		WithTTL(40*time.Millisecond),
		WithOnFirstDenied(func(string) { first.Add(1) }),
	)
	defer cancel()

	l.allow("10.0.0.1")
	l.allow("10.0.0.1")
	time.Sleep(200 * time.Millisecond)
	l.allow("10.0.0.1")
	l.allow("10.0.0.1")

	if got := first.Load(); got != 2 {
		t.Fatalf("OnFirstDenied calls = %d, want 2 (reset after eviction)", got)
	}
}

func TestMaxVisitors_NewIPRejectedAtCapacity(t *testing.T) {
	var capacity atomic.Int32
	l, cancel := newTestLimiter(WithMaxVisitors(2), WithOnCapacity(func() { capacity.Add(1) }))
	defer cancel()

	l.allow("10.0.0.1")
	l.allow("10.0.0.2")
	if l.allow("10.0.0.3") {
		t.Fatal("third ip should be rejected at capacity")
	}
	if l.allow("10.0.0.4") {
		t.Fatal("fourth ip should be rejected at capacity")
	}
	if !l.allow("10.0.0.1") {
		t.Fatal("known ip should still be served at capacity")
	}
	if got := capacity.Load(); got != 1 {
		t.Fatalf("OnCapacity calls = %d, want 1", got)
	}
}

func TestMaxVisitors_ZeroDisablesLimit(t *testing.T) {
	l, cancel := newTestLimiter(WithMaxVisitors(0))
	defer cancel()

	for i := 0; i < 50; i++ {
		if !l.allow(fmt.Sprintf("10.0.0.%d", i)) {
			t.Fatalf("ip %d rejected with no visitor cap", i)
		}
	}
}

func TestAllow_ConcurrentAccess(t *testing.T) {
	l, cancel := newTestLimiter(WithRate(0.001, 10))
	defer cancel()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if l.allow("10.0.0.1") {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 10 {
		t.Fatalf("allowed = %d, want exactly the burst of 10", got)
	}
}

// Middleware

func makeRequestWithIP(handler http.Handler, clientIP string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPut, "/api/v1/logger/level", http.NoBody)
	r = r.WithContext(httpmw.WithClientIP(r.Context(), clientIP))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func TestMiddleware_Returns429(t *testing.T) {
	l, cancel := newTestLimiter(WithRate(0.001, 2))
	defer cancel()

	var reached atomic.Int32
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		if w := makeRequestWithIP(handler, "127.0.0.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: got %d, want 200", i+1, w.Code)
		}
	}

	w := makeRequestWithIP(handler, "127.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("request 3: got %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}
	if got, want := w.Body.String(), `{"error":"too many requests"}`; got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if reached.Load() != 2 {
		t.Fatalf("handler reached %d times, want 2", reached.Load())
	}
}

func TestMiddleware_EmptyClientIPSharesBucket(t *testing.T) {
	l, cancel := newTestLimiter(WithRate(0.001, 1))
	defer cancel()

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	makeRequestWithIP(handler, "")
	if w := makeRequestWithIP(handler, ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("empty IP second request: got %d, want 429", w.Code)
	}
}
