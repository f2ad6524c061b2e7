package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute is the route label for requests chi did not match. Raw
// paths are never used as labels.
const unmatchedRoute = "unmatched"

// recorder captures the status and body size an admin handler produced.
type recorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *recorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recorder) Write(p []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += n
	return n, err
}

// Flush keeps streaming pprof endpoints working behind the recorder.
func (rw *recorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *recorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// code is the status the client saw; a handler that wrote nothing sent 200.
func (rw *recorder) code() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// Middleware records admin traffic: in-flight gauge, request count by
// method/route/status, latency and response size by method/route, and 5xx.
func (m *DaemonMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// chi fills the pattern in during routing; give it somewhere to write
		// when this middleware sits outside the router.
		if chi.RouteContext(r.Context()) == nil {
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
		}

		m.inflight.Inc()
		start := time.Now()
		rw := &recorder{ResponseWriter: w}
		defer func() {
			m.inflight.Dec()
			m.record(r, rw, time.Since(start))
		}()
		next.ServeHTTP(rw, r)
	})
}

func (m *DaemonMetrics) record(r *http.Request, rw *recorder, took time.Duration) {
	route := routeLabel(r)
	code := rw.code()

	m.reqTotal.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
	if code >= http.StatusInternalServerError {
		m.errorsTotal.WithLabelValues(r.Method, route).Inc()
	}
	observe(r.Context(), m.reqDur.WithLabelValues(r.Method, route), took.Seconds())
	m.respBytes.WithLabelValues(r.Method, route).Observe(float64(rw.bytes))
}

func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}

// observe links the sample to the current sampled trace when there is one.
func observe(ctx context.Context, o prometheus.Observer, v float64) {
	if ex := traceExemplar(ctx); ex != nil {
		if eo, ok := o.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(v, ex)
			return
		}
	}
	o.Observe(v)
}

func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
