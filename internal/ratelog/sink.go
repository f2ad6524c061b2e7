package ratelog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/keithlinneman/ratelog/internal/log"
)

// Sink receives admitted entries. Implementations must be safe for
// concurrent use; the Logger calls Emit without holding its own lock.
type Sink interface {
	Emit(ctx context.Context, e Entry)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(ctx context.Context, e Entry)

func (f SinkFunc) Emit(ctx context.Context, e Entry) { f(ctx, e) }

// ConsoleSink writes rendered lines to one writer per level so a consumer
// can still separate streams, e.g. warn/error on stderr.
type ConsoleSink struct {
	mu    sync.Mutex
	debug io.Writer
	info  io.Writer
	warn  io.Writer
	err   io.Writer
}

// NewConsoleSink: debug and info to stdout, warn and error to stderr.
func NewConsoleSink() *ConsoleSink {
	return NewConsoleSinkWriters(os.Stdout, os.Stdout, os.Stderr, os.Stderr)
}

// NewConsoleSinkWriters takes explicit writers; a nil writer discards that level.
func NewConsoleSinkWriters(debug, info, warn, err io.Writer) *ConsoleSink {
	return &ConsoleSink{
		debug: orDiscard(debug),
		info:  orDiscard(info),
		warn:  orDiscard(warn),
		err:   orDiscard(err),
	}
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func (c *ConsoleSink) writerFor(l slog.Level) io.Writer {
	switch levelIndex(l) {
	case 3:
		return c.err
	case 2:
		return c.warn
	case 1:
		return c.info
	default:
		return c.debug
	}
}

func (c *ConsoleSink) Emit(_ context.Context, e Entry) {
	line := e.Line() + "\n"
	c.mu.Lock()
	defer c.mu.Unlock()
	// write errors are swallowed, a broken sink must not break the caller
	_, _ = io.WriteString(c.writerFor(e.Level), line)
}

// StructuredSink forwards entries to the structured logger, keeping the
// message and data as fields instead of a pre-rendered line. The target
// logger should be built at debug level, filtering already happened here.
type StructuredSink struct {
	L log.Logger
}

func (s StructuredSink) Emit(ctx context.Context, e Entry) {
	if s.L == nil {
		return
	}
	kv := make([]any, 0, 6)
	if e.Prefix != "" {
		kv = append(kv, "prefix", e.Prefix)
	}
	if len(e.Data) > 0 {
		data := make([]string, len(e.Data))
		for i, d := range e.Data {
			data[i] = formatValue(d)
		}
		kv = append(kv, "data", data)
	}
	if e.Dropped > 0 {
		kv = append(kv, "dropped", e.Dropped)
	}

	switch levelIndex(e.Level) {
	case 3:
		s.L.Error(ctx, nil, e.Message, kv...)
	case 2:
		s.L.Warn(ctx, e.Message, kv...)
	case 1:
		s.L.Info(ctx, e.Message, kv...)
	default:
		s.L.Debug(ctx, e.Message, kv...)
	}
}

// MultiSink fans an entry out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, e Entry) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}
