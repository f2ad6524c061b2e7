package ratelog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// window is the length of one rate limiting window
const window = time.Second

// Outcome is what the gate decided for a single call.
type Outcome int

const (
	Emitted    Outcome = iota // written to the sink
	Disabled                  // logger disabled, non-error line
	BelowLevel                // under the configured minimum level
	Dropped                   // over the per-window ceiling
)

func (o Outcome) String() string {
	switch o {
	case Emitted:
		return "emitted"
	case Disabled:
		return "disabled"
	case BelowLevel:
		return "below_level"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Mode selects how non-error lines are admitted.
type Mode string

const (
	// ModeWindow admits up to MaxLogsPerSecond lines per fixed one second window.
	ModeWindow Mode = "window"
	// ModeBucket additionally requires a token from a bucket refilled at
	// MaxLogsPerSecond with a burst of the same size, which spreads admissions
	// across window boundaries. The per-window ceiling still holds.
	ModeBucket Mode = "bucket"
)

// ParseMode accepts "window" or "bucket", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeWindow, ModeBucket:
		return m, nil
	default:
		return "", fmt.Errorf("unknown limiter mode %q (valid modes are window|bucket)", s)
	}
}

// Observer receives gate decisions, typically to drive metrics. Calls are
// made outside the Logger's lock.
type Observer interface {
	ObserveOutcome(level slog.Level, o Outcome)
	ObserveDropSummary(dropped int)
	ObserveRejectedLevel(name string)
	ObserveConfig(c Config)
}

// Stats are self-check counters, mainly for tests and the admin API.
type Stats struct {
	Emitted            map[string]uint64 `json:"emitted"`
	Dropped            uint64            `json:"dropped"`
	SuppressedDisabled uint64            `json:"suppressedDisabled"`
	SuppressedLevel    uint64            `json:"suppressedLevel"`
	Summaries          uint64            `json:"summaries"`
	RejectedLevels     uint64            `json:"rejectedLevels"`

	// current window
	WindowCount  int       `json:"windowCount"`
	WindowStart  time.Time `json:"windowStart"`
	DroppedCount int       `json:"droppedCount"`
}

// Logger is a leveled, prefixed, rate limited logger. The zero value is not
// usable; construct with New. A nil *Logger discards everything.
type Logger struct {
	mu  sync.Mutex
	cfg Config

	// window state
	windowCount  int
	windowStart  time.Time
	droppedCount int

	mode   Mode
	bucket *rate.Limiter

	sink     Sink
	observer Observer
	now      func() time.Time

	emitted            [4]uint64
	dropped            uint64
	suppressedDisabled uint64
	suppressedLevel    uint64
	summaries          uint64
	rejectedLevels     uint64
}

// Option configures a Logger in New.
type Option func(*Logger)

// WithConfig replaces the defaults wholesale.
func WithConfig(c Config) Option {
	return func(l *Logger) {
		c.MaxLogsPerSecond = max(c.MaxLogsPerSecond, 0)
		l.cfg = c
	}
}

// WithSink sets where admitted lines go; the default is a ConsoleSink.
func WithSink(s Sink) Option {
	return func(l *Logger) { l.sink = s }
}

// WithObserver reports every gate decision and config change to o.
func WithObserver(o Observer) Option {
	return func(l *Logger) { l.observer = o }
}

// WithClock overrides time.Now, used by tests to move across windows.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithMode selects the admission mode; unknown modes fall back to ModeWindow.
func WithMode(m Mode) Option {
	return func(l *Logger) { l.mode = m }
}

// New builds a Logger with DefaultConfig, a ConsoleSink and ModeWindow unless
// overridden. The first window starts now.
func New(opts ...Option) *Logger {
	l := &Logger{
		cfg:  DefaultConfig(),
		mode: ModeWindow,
		now:  time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.sink == nil {
		l.sink = NewConsoleSink()
	}
	now := l.now()
	l.windowStart = now
	if l.mode == ModeBucket {
		n := l.cfg.MaxLogsPerSecond
		l.bucket = rate.NewLimiter(rate.Limit(n), n)
	} else {
		l.mode = ModeWindow
	}
	return l
}

// Configure shallow-merges o into the current configuration. A level name
// that does not parse is skipped (and counted), every other field applies.
func (l *Logger) Configure(o Overrides) {
	if l == nil {
		return
	}
	l.mu.Lock()
	next, levelOK := l.cfg.merge(o)
	l.applyLocked(next)
	if !levelOK {
		l.rejectedLevels++
	}
	l.mu.Unlock()

	if !levelOK {
		l.observeRejected(*o.Level)
	}
	l.observeConfig(next)
}

// SetLevel changes the minimum level if name is debug, info, warn or error.
// Anything else leaves the level alone; the return value says which happened.
func (l *Logger) SetLevel(name string) bool {
	if l == nil {
		return false
	}
	lvl, ok := parseLevel(name)
	l.mu.Lock()
	if !ok {
		l.rejectedLevels++
		l.mu.Unlock()
		l.observeRejected(name)
		return false
	}
	l.cfg.Level = lvl
	cfg := l.cfg
	l.mu.Unlock()
	l.observeConfig(cfg)
	return true
}

// Enable and Disable toggle non-error output. Error lines are unaffected.
func (l *Logger) Enable()  { l.setEnabled(true) }
func (l *Logger) Disable() { l.setEnabled(false) }

func (l *Logger) setEnabled(v bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.cfg.Enabled = v
	cfg := l.cfg
	l.mu.Unlock()
	l.observeConfig(cfg)
}

// Config returns a snapshot of the current configuration.
func (l *Logger) Config() Config {
	if l == nil {
		return Config{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Mode reports the admission mode chosen at construction.
func (l *Logger) Mode() Mode {
	if l == nil {
		return ""
	}
	return l.mode
}

// Stats returns a snapshot of the counters and the current window.
func (l *Logger) Stats() Stats {
	if l == nil {
		return Stats{Emitted: map[string]uint64{}}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Emitted: map[string]uint64{
			"debug": l.emitted[0],
			"info":  l.emitted[1],
			"warn":  l.emitted[2],
			"error": l.emitted[3],
		},
		Dropped:            l.dropped,
		SuppressedDisabled: l.suppressedDisabled,
		SuppressedLevel:    l.suppressedLevel,
		Summaries:          l.summaries,
		RejectedLevels:     l.rejectedLevels,
		WindowCount:        l.windowCount,
		WindowStart:        l.windowStart,
		DroppedCount:       l.droppedCount,
	}
}

// Debug, Info, Warn and Error call Log at the matching level.
func (l *Logger) Debug(ctx context.Context, msg string, data ...any) {
	l.Log(ctx, slog.LevelDebug, msg, data...)
}
func (l *Logger) Info(ctx context.Context, msg string, data ...any) {
	l.Log(ctx, slog.LevelInfo, msg, data...)
}
func (l *Logger) Warn(ctx context.Context, msg string, data ...any) {
	l.Log(ctx, slog.LevelWarn, msg, data...)
}
func (l *Logger) Error(ctx context.Context, msg string, data ...any) {
	l.Log(ctx, slog.LevelError, msg, data...)
}

// Log runs the gate for one line at level and writes it if admitted. Levels
// between the four named ones are ranked with the one below them.
func (l *Logger) Log(ctx context.Context, level slog.Level, msg string, data ...any) Outcome {
	if l == nil {
		return Disabled
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := l.now()
	l.mu.Lock()
	out, summary := l.admitLocked(level, now)
	prefix := l.cfg.Prefix
	l.mu.Unlock()

	// summary goes out before the line that rolled the window
	if summary > 0 {
		l.emit(ctx, summaryEntry(now, prefix, summary))
		if l.observer != nil {
			l.observer.ObserveDropSummary(summary)
		}
	}
	if out == Emitted {
		l.emit(ctx, Entry{Time: now, Level: level, Prefix: prefix, Message: msg, Data: data})
	}
	if l.observer != nil {
		l.observer.ObserveOutcome(level, out)
	}
	return out
}

// admitLocked is the gate. summary is the number of lines to report as
// dropped for the window that just closed, 0 when nothing is due.
func (l *Logger) admitLocked(level slog.Level, now time.Time) (out Outcome, summary int) {
	if level >= slog.LevelError {
		l.emitted[3]++
		return Emitted, 0
	}
	if !l.cfg.Enabled {
		l.suppressedDisabled++
		return Disabled, 0
	}
	if level < l.cfg.Level {
		l.suppressedLevel++
		return BelowLevel, 0
	}

	if now.Sub(l.windowStart) > window {
		l.windowCount = 0
		l.windowStart = now
		if l.droppedCount > 0 {
			summary = l.droppedCount
			l.droppedCount = 0
			l.summaries++
		}
	}

	if !l.allowLocked(now) {
		l.droppedCount++
		l.dropped++
		return Dropped, summary
	}
	l.windowCount++
	l.emitted[levelIndex(level)]++
	return Emitted, summary
}

// allowLocked checks the window ceiling before the bucket so a full window
// does not spend tokens.
func (l *Logger) allowLocked(now time.Time) bool {
	if l.windowCount >= l.cfg.MaxLogsPerSecond {
		return false
	}
	if l.mode == ModeBucket && l.bucket != nil {
		return l.bucket.AllowN(now, 1)
	}
	return true
}

func (l *Logger) applyLocked(next Config) {
	if l.bucket != nil && next.MaxLogsPerSecond != l.cfg.MaxLogsPerSecond {
		now := l.now()
		l.bucket.SetLimitAt(now, rate.Limit(next.MaxLogsPerSecond))
		l.bucket.SetBurstAt(now, next.MaxLogsPerSecond)
	}
	l.cfg = next
}

// emit never lets a misbehaving sink escape to the caller
func (l *Logger) emit(ctx context.Context, e Entry) {
	defer func() { _ = recover() }()
	l.sink.Emit(ctx, e)
}

func (l *Logger) observeRejected(name string) {
	if l.observer != nil {
		l.observer.ObserveRejectedLevel(name)
	}
}

func (l *Logger) observeConfig(c Config) {
	if l.observer != nil {
		l.observer.ObserveConfig(c)
	}
}
