package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the structured logger used by the daemon's own components
// (config, admin server, remote config watcher) and by ratelog's
// structured sink. Errors are a first class argument so they get enriched.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App     string
	Version string
	// Level is the minimum level written. A *slog.LevelVar may be passed
	// to change it at runtime.
	Level slog.Leveler
	// StacktraceLevel attaches stacks at or above it; nil means error and
	// LevelNone turns them off.
	StacktraceLevel slog.Leveler
	JSON            bool
	// AddSource includes file:line of the caller. Off for relayed lines,
	// where the caller is always the sink.
	AddSource bool
	Writer    io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

// LevelNone is above every real level.
const LevelNone = slog.Level(1 << 30)

// LevelNames lists the accepted level names in severity order.
var LevelNames = []string{"debug", "info", "warn", "error"}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %s (valid levels are %s)", s, strings.Join(LevelNames, "|"))
	}
}
