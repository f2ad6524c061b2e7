package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/ratelog/internal/ratelog"
	"github.com/keithlinneman/ratelog/internal/version"
)

// DaemonMetrics owns a private registry. It implements ratelog.Observer so
// gate decisions show up as series next to the admin API and remote config
// metrics.
type DaemonMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// admin http
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	errorsTotal            *prometheus.CounterVec
	httpPanicTotal         prometheus.Counter
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	// limiter
	linesTotal          *prometheus.CounterVec
	dropSummariesTotal  prometheus.Counter
	summarisedDropped   prometheus.Counter
	rejectedLevelsTotal prometheus.Counter
	configEnabled       prometheus.Gauge
	configLevel         *prometheus.GaugeVec
	configMaxPerSecond  prometheus.Gauge

	// relay
	relayLinesTotal *prometheus.CounterVec

	// remote config watcher
	remotePollsTotal    prometheus.Counter
	remoteAppliesTotal  prometheus.Counter
	remoteErrorsTotal   *prometheus.CounterVec
	remoteFetchDuration prometheus.Histogram
	remoteLastSuccessTs prometheus.Gauge
	remoteStale         prometheus.Gauge
}

var _ ratelog.Observer = (*DaemonMetrics)(nil)

// New returns a fresh registry + standard collectors + daemon metrics
// safe labels only (method, route, code, level, outcome) to keep cardinality fixed
func New() *DaemonMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &DaemonMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight admin HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total admin HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Admin request latency by method and route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Admin response size by method and route",
			Buckets: []float64{64, 256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx admin HTTP errors by method and route",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered admin handler panics",
		}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total admin requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		linesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelog_lines_total",
			Help: "Log calls by level and gate outcome",
		}, []string{"level", "outcome"}),
		dropSummariesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelog_drop_summaries_total",
			Help: "Total window summaries written for dropped lines",
		}),
		summarisedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelog_summarised_dropped_lines_total",
			Help: "Total dropped lines reported by window summaries",
		}),
		rejectedLevelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelog_rejected_levels_total",
			Help: "Total level changes ignored because the name was not a known level",
		}),
		configEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelog_config_enabled",
			Help: "Whether the limiter is enabled (1) or disabled (0)",
		}),
		configLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ratelog_config_level_info",
			Help: "Current minimum level (label carries value, gauge is always 1)",
		}, []string{"level"}),
		configMaxPerSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelog_config_max_logs_per_second",
			Help: "Current per-window line ceiling for non-error lines",
		}),
		relayLinesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelog_relay_lines_total",
			Help: "Lines read by the stdin relay by detected level",
		}, []string{"level"}),
		remotePollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelog_remote_polls_total",
			Help: "Total number of remote config poll cycles",
		}),
		remoteAppliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelog_remote_applies_total",
			Help: "Total number of remote config documents applied",
		}),
		remoteErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelog_remote_errors_total",
			Help: "Total remote config errors by type",
		}, []string{"type"}),
		remoteFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratelog_remote_fetch_duration_seconds",
			Help:    "Time to fetch the remote config parameter",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		remoteLastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelog_remote_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful remote config poll",
		}),
		remoteStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelog_remote_stale",
			Help: "Whether the remote config watcher is stale (1) or healthy (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.buildInfo,
		m.profilingActive,
		m.linesTotal,
		m.dropSummariesTotal,
		m.summarisedDropped,
		m.rejectedLevelsTotal,
		m.configEnabled,
		m.configLevel,
		m.configMaxPerSecond,
		m.relayLinesTotal,
		m.remotePollsTotal,
		m.remoteAppliesTotal,
		m.remoteErrorsTotal,
		m.remoteFetchDuration,
		m.remoteLastSuccessTs,
		m.remoteStale,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *DaemonMetrics) Handler() http.Handler {
	return m.handler
}

func (m *DaemonMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *DaemonMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *DaemonMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *DaemonMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *DaemonMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

// ratelog.Observer

func (m *DaemonMetrics) ObserveOutcome(level slog.Level, o ratelog.Outcome) {
	m.linesTotal.WithLabelValues(levelLabel(level), o.String()).Inc()
}

func (m *DaemonMetrics) ObserveDropSummary(dropped int) {
	m.dropSummariesTotal.Inc()
	m.summarisedDropped.Add(float64(dropped))
}

// ObserveRejectedLevel only counts; the name is caller supplied and would
// make an unbounded label.
func (m *DaemonMetrics) ObserveRejectedLevel(string) {
	m.rejectedLevelsTotal.Inc()
}

func (m *DaemonMetrics) ObserveConfig(c ratelog.Config) {
	m.configEnabled.Set(boolGauge(c.Enabled))
	m.configLevel.Reset() // clear previous label value
	m.configLevel.WithLabelValues(levelLabel(c.Level)).Set(1)
	m.configMaxPerSecond.Set(float64(c.MaxLogsPerSecond))
}

// relay

func (m *DaemonMetrics) IncRelayLine(level slog.Level) {
	m.relayLinesTotal.WithLabelValues(levelLabel(level)).Inc()
}

// remote config watcher

func (m *DaemonMetrics) IncRemotePolls() {
	m.remotePollsTotal.Inc()
}

func (m *DaemonMetrics) IncRemoteApplies() {
	m.remoteAppliesTotal.Inc()
}

func (m *DaemonMetrics) IncRemoteError(errType string) {
	m.remoteErrorsTotal.WithLabelValues(errType).Inc()
}

func (m *DaemonMetrics) ObserveRemoteFetchDuration(d time.Duration) {
	m.remoteFetchDuration.Observe(d.Seconds())
}

func (m *DaemonMetrics) SetRemoteLastSuccess(t time.Time) {
	m.remoteLastSuccessTs.Set(float64(t.Unix()))
}

func (m *DaemonMetrics) SetRemoteStale(stale bool) {
	m.remoteStale.Set(boolGauge(stale))
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// levelLabel collapses arbitrary slog levels onto the four fixed names
func levelLabel(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
