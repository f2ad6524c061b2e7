package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/ratelog/internal/log"
	"github.com/keithlinneman/ratelog/internal/ratelog"
)

// EnvPrefix is prepended to upper-cased flag names by FillFromEnv in main.
const EnvPrefix = "RATELOG_"

// Sink names accepted by -sink.
const (
	SinkConsole    = "console"
	SinkStructured = "structured"
)

type App struct {
	// daemon's own structured logger
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string

	// rate limited logger
	Enabled      bool
	Level        string
	Prefix       string
	MaxPerSecond int
	Mode         string
	Sink         string

	// admin server
	EnableAdmin bool
	AdminHost   string
	AdminPort   int
	EnablePprof bool
	AdminRate   float64
	AdminBurst  int

	EnableTracing bool
	OTLPEndpoint  string
	TraceSample   float64

	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	RemoteSSMParam     string
	RemotePollInterval time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false) for the daemon's own log")
	fs.StringVar(&c.LogLevel, "log-level", "info", "daemon log level: debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")

	fs.BoolVar(&c.Enabled, "enabled", true, "start with the rate limited logger enabled")
	fs.StringVar(&c.Level, "level", "info", "minimum relayed level: debug|info|warn|error")
	fs.StringVar(&c.Prefix, "prefix", ratelog.DefaultPrefix, "prefix written at the start of every relayed line")
	fs.IntVar(&c.MaxPerSecond, "max-per-second", ratelog.DefaultMaxLogsPerSecond, "non-error lines admitted per second (0 drops all)")
	fs.StringVar(&c.Mode, "mode", string(ratelog.ModeWindow), "limiter mode: window|bucket")
	fs.StringVar(&c.Sink, "sink", SinkConsole, "output for relayed lines: console|structured")

	fs.BoolVar(&c.EnableAdmin, "enable-admin", true, "serve the admin API, health and metrics")
	fs.StringVar(&c.AdminHost, "admin-host", "", "admin listen host (empty for all interfaces)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.Float64Var(&c.AdminRate, "admin-rate", 1, "admin mutation requests per second per client (0 disables limiting)")
	fs.IntVar(&c.AdminBurst, "admin-burst", 10, "admin mutation burst per client")

	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")

	fs.StringVar(&c.RemoteSSMParam, "remote-ssm-param", "", "ssm parameter holding a JSON overrides document (empty disables)")
	fs.DurationVar(&c.RemotePollInterval, "remote-poll-interval", 30*time.Second, "how often to poll remote-ssm-param")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Rate limited logger
	if _, err := log.ParseLevel(c.Level); err != nil {
		errs = append(errs, fmt.Errorf("invalid LEVEL %q: %w", c.Level, err))
	}
	if c.MaxPerSecond < 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_PER_SECOND %d (must be >= 0)", c.MaxPerSecond))
	}
	if _, err := ratelog.ParseMode(c.Mode); err != nil {
		errs = append(errs, fmt.Errorf("invalid MODE: %w", err))
	}
	switch c.Sink {
	case SinkConsole, SinkStructured:
	default:
		errs = append(errs, fmt.Errorf("invalid SINK %q (must be %s|%s)", c.Sink, SinkConsole, SinkStructured))
	}

	// Admin server
	if c.EnableAdmin {
		if c.AdminPort < 1 || c.AdminPort > 65535 {
			errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
		}
		if c.AdminRate < 0 {
			errs = append(errs, fmt.Errorf("invalid ADMIN_RATE %.3f (must be >= 0)", c.AdminRate))
		}
		if c.AdminRate > 0 && c.AdminBurst < 1 {
			errs = append(errs, fmt.Errorf("invalid ADMIN_BURST %d (must be >= 1 when ADMIN_RATE > 0)", c.AdminBurst))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Remote config
	if c.RemoteSSMParam != "" {
		if !strings.HasPrefix(c.RemoteSSMParam, "/") {
			errs = append(errs, fmt.Errorf("REMOTE_SSM_PARAM must be a path starting with / (got %q)", c.RemoteSSMParam))
		}
		if c.RemotePollInterval < time.Second {
			errs = append(errs, fmt.Errorf("invalid REMOTE_POLL_INTERVAL %s (must be >= 1s)", c.RemotePollInterval))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Ratelog returns the initial logger config and limiter mode. Call after
// Validate; invalid values fall back to defaults.
func (c App) Ratelog() (ratelog.Config, ratelog.Mode) {
	rc := ratelog.DefaultConfig()
	rc.Enabled = c.Enabled
	if lvl, err := log.ParseLevel(c.Level); err == nil {
		rc.Level = lvl
	}
	rc.Prefix = c.Prefix
	if c.MaxPerSecond >= 0 {
		rc.MaxLogsPerSecond = c.MaxPerSecond
	}
	mode, err := ratelog.ParseMode(c.Mode)
	if err != nil {
		mode = ratelog.ModeWindow
	}
	return rc, mode
}
