// Command ratelogd relays log lines read on stdin through a rate limited
// logger, so a process that starts flooding its log is damped to a fixed
// number of lines per second plus a periodic count of what was dropped.
//
//	noisy-service 2>&1 | ratelogd -max-per-second=20 -prefix=[noisy]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/ratelog/internal/cfg"
	"github.com/keithlinneman/ratelog/internal/health"
	"github.com/keithlinneman/ratelog/internal/log"
	"github.com/keithlinneman/ratelog/internal/metrics"
	"github.com/keithlinneman/ratelog/internal/opshttp"
	"github.com/keithlinneman/ratelog/internal/otelx"
	"github.com/keithlinneman/ratelog/internal/prof"
	"github.com/keithlinneman/ratelog/internal/ratelimit"
	"github.com/keithlinneman/ratelog/internal/ratelog"
	"github.com/keithlinneman/ratelog/internal/relay"
	"github.com/keithlinneman/ratelog/internal/remotecfg"
	v "github.com/keithlinneman/ratelog/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		return 0
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	// Setup logging for the daemon itself, always on stderr so it never
	// mixes with relayed lines on stdout
	lvl, _ := log.ParseLevel(conf.LogLevel)
	var stackLvl slog.Leveler = log.LevelNone
	if l, err := log.ParseLevel(conf.StacktraceLevel); err == nil {
		stackLvl = l
	}
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Version:         vi.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSON:            conf.LogJSON,
		AddSource:       true,
		Writer:          os.Stderr,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return 1
	}
	// no-op for slog, here so a buffered backend would flush on exit
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", v.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"enabled", conf.Enabled,
		"level", conf.Level,
		"prefix", conf.Prefix,
		"max_per_second", conf.MaxPerSecond,
		"mode", conf.Mode,
		"sink", conf.Sink,
		"enable_admin", conf.EnableAdmin,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"remote_ssm_param", conf.RemoteSSMParam,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, v.Component, vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Reporter:      m,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": v.Component,
			"version":   vi.Version,
			"commit":    vi.Commit,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Setup otel for tracing
	// Insecure is true because we only ever write to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.Service,
		Component: v.Component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}

	sink, err := newSink(conf, vi.Version)
	if err != nil {
		L.Error(ctx, err, "failed to build sink")
		return 1
	}
	rc, mode := conf.Ratelog()
	rl := ratelog.New(
		ratelog.WithConfig(rc),
		ratelog.WithMode(mode),
		ratelog.WithSink(sink),
		ratelog.WithObserver(m),
	)
	// the observer only hears about changes, seed the config gauges
	m.ObserveConfig(rl.Config())

	// setup toggle for shutdown, readiness fails as soon as we start stopping
	var gate health.ShutdownGate
	readiness := []health.Probe{gate.Probe()}

	var watcher *remotecfg.Watcher
	if conf.RemoteSSMParam != "" {
		src, err := remotecfg.NewSSMSource(ctx, conf.RemoteSSMParam, nil)
		if err != nil {
			L.Error(ctx, err, "failed to create remote config source")
			return 1
		}
		watcher, err = remotecfg.NewWatcher(&remotecfg.Options{
			Logger:       L.With("subsystem", "remotecfg"),
			Source:       src,
			Target:       rl,
			PollInterval: conf.RemotePollInterval,
			Metrics:      m,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create remote config watcher")
			return 1
		}
		readiness = append(readiness, health.Named("remote config", watcher.Probe()))
	}

	if conf.EnableAdmin {
		opts := &opshttp.Options{
			Logger:      L.With("subsystem", "opshttp"),
			Host:        conf.AdminHost,
			Port:        conf.AdminPort,
			Controller:  rl,
			Metrics:     m.Handler(),
			MetricsMW:   m.Middleware,
			EnablePprof: conf.EnablePprof,
			Health:      health.Fixed(true, ""),
			Readiness:   health.All(readiness...),
			OnPanic:     m.IncHttpPanic,
		}
		if conf.AdminRate > 0 {
			limiter := ratelimit.New(ctx,
				ratelimit.WithRate(conf.AdminRate, conf.AdminBurst),
				ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
				// only log the first denial per client until it is evicted
				ratelimit.WithOnFirstDenied(func(ip string) {
					L.Warn(ctx, "admin rate limit triggered", "ip", ip)
				}),
				ratelimit.WithOnCapacity(func() {
					m.IncRateLimitCapacity()
					L.Warn(ctx, "admin rate limit capacity reached, rejecting new clients until some are evicted")
				}),
			)
			opts.RateLimitMW = limiter.Middleware
		}
		opsHTTPStop, err := opshttp.Start(ctx, opts)
		if err != nil {
			L.Error(ctx, err, "failed to start ops http listener")
			return 1
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := opsHTTPStop(sctx); err != nil {
				L.Error(context.Background(), err, "ops http server shutdown")
			}
		}()
	}

	rly, err := relay.New(rl, relay.Options{Logger: L.With("subsystem", "relay"), Metrics: m})
	if err != nil {
		L.Error(ctx, err, "failed to create relay")
		return 1
	}

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err)
	}

	// the relay finishing (stdin EOF) ends the run just like a signal does
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancelRun()
		res, err := rly.Run(gctx, os.Stdin)
		L.Info(ctx, "relay finished",
			"lines", res.Lines,
			"blank", res.Blank,
			"truncated", res.Truncated,
			"emitted", res.Outcomes[ratelog.Emitted],
			"dropped", res.Outcomes[ratelog.Dropped],
			"below_level", res.Outcomes[ratelog.BelowLevel],
			"disabled", res.Outcomes[ratelog.Disabled],
		)
		return ignoreCanceled(err)
	})
	if watcher != nil {
		g.Go(func() error { return ignoreCanceled(watcher.Run(gctx)) })
	}

	exit := 0
	if err := g.Wait(); err != nil {
		L.Error(context.Background(), err, "run failed")
		exit = 1
	}

	L.Info(context.Background(), "shutting down", "signal", ctx.Err() != nil)
	gate.Set("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownOTEL(sctx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	L.Info(context.Background(), "shutdown complete", "stats", rl.Stats())
	return exit
}

// newSink builds the output for relayed lines. The structured sink gets its
// own logger on stdout at debug level since the gate has already filtered.
func newSink(conf cfg.App, version string) (ratelog.Sink, error) {
	if conf.Sink != cfg.SinkStructured {
		return ratelog.NewConsoleSink(), nil
	}
	out, err := log.New(log.Options{
		App:             v.AppName,
		Version:         version,
		Level:           slog.LevelDebug,
		StacktraceLevel: log.LevelNone,
		JSON:            conf.LogJSON,
		Writer:          os.Stdout,
	})
	if err != nil {
		return nil, err
	}
	return ratelog.StructuredSink{L: out}, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
