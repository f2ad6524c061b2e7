package opshttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/ratelog/internal/health"
	"github.com/keithlinneman/ratelog/internal/httpmw"
	"github.com/keithlinneman/ratelog/internal/log"
	"github.com/keithlinneman/ratelog/internal/xerrors"
)

const defaultPort = 9000

// Server timeout defaults
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	// pprof profile and trace stream for up to 30s
	DefaultWriteTimeout   = 35 * time.Second
	DefaultIdleTimeout    = 60 * time.Second
	DefaultMaxHeaderBytes = 1 << 20
)

// NewHandler builds the admin router and wraps it in middleware. Exposed
// separately from Start so tests can drive it with httptest.
func NewHandler(opts *Options) http.Handler {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	r := chi.NewRouter()
	r.Use(httpmw.AccessLog())

	r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	if opts.Controller != nil {
		registerLoggerRoutes(r, opts.Controller, opts.RateLimitMW)
	}

	// unregistered /debug paths fall through to chi's 404
	if opts.EnablePprof {
		r.Mount("/debug", middleware.Profiler())
	}

	tracing := func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(
			next,
			"ops.http.server",
			otelhttp.WithFilter(func(r *http.Request) bool {
				// probes and scrapes are constant noise
				switch r.URL.Path {
				case "/-/healthy", "/-/ready", "/metrics":
					return false
				}
				return true
			}),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}

	// outermost first. Request id wraps recover so panic logs carry it; the
	// request logger sits inside so it sees the id and client ip
	return httpmw.Chain(r,
		httpmw.RequestID("X-Request-Id"),
		httpmw.Recover(L, opts.OnPanic),
		httpmw.ClientIP,
		httpmw.PrivateOnly,
		tracing,
		opts.MetricsMW,
		httpmw.WithLogger(L),
	)
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start serves the admin API in the background.
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(opts.Host, fmt.Sprint(port))

	srv := newServer(addr, NewHandler(opts))

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen for admin port on addr=%v", addr)
	}

	go func() {
		L.Info(ctx, "ops http server listening", "addr", ln.Addr().String(), "pprof", opts.EnablePprof)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
