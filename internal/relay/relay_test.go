package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/ratelog/internal/ratelog"
)

type logged struct {
	level slog.Level
	msg   string
	data  []any
}

type recordEmitter struct {
	mu      sync.Mutex
	lines   []logged
	outcome ratelog.Outcome
}

func (r *recordEmitter) Log(_ context.Context, level slog.Level, msg string, data ...any) ratelog.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, logged{level, msg, data})
	return r.outcome
}

type levelCounter map[slog.Level]int

func (c levelCounter) IncRelayLine(l slog.Level) { c[l]++ }

func newTestRelay(t *testing.T, dst Emitter, opts Options) *Relay {
	t.Helper()
	r, err := New(dst, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestNew_RequiresEmitter(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Fatal("expected error for nil emitter")
	}
}

func TestRun_RelaysAndCounts(t *testing.T) {
	in := strings.Join([]string{
		`{"level":"warn","msg":"slow","ms":812}`,
		"",
		"   ",
		"level=debug msg=tick",
		"ERROR: broken pipe\r",
		"plain line",
	}, "\n")
	dst := &recordEmitter{outcome: ratelog.Emitted}
	metrics := levelCounter{}
	res, err := newTestRelay(t, dst, Options{Metrics: metrics}).Run(context.Background(), strings.NewReader(in))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Lines != 4 || res.Blank != 2 {
		t.Fatalf("lines=%d blank=%d, want 4 and 2", res.Lines, res.Blank)
	}
	if res.Outcomes[ratelog.Emitted] != 4 {
		t.Fatalf("outcomes = %v", res.Outcomes)
	}

	wantLevels := []slog.Level{slog.LevelWarn, slog.LevelDebug, slog.LevelError, slog.LevelInfo}
	for i, w := range wantLevels {
		if dst.lines[i].level != w {
			t.Errorf("line %d level = %v, want %v", i, dst.lines[i].level, w)
		}
	}
	if dst.lines[0].msg != "slow" || len(dst.lines[0].data) != 1 {
		t.Errorf("json line = %+v", dst.lines[0])
	}
	if dst.lines[2].msg != "ERROR: broken pipe" {
		t.Errorf("carriage return not trimmed: %q", dst.lines[2].msg)
	}
	if metrics[slog.LevelWarn] != 1 || metrics[slog.LevelInfo] != 1 || metrics[slog.LevelDebug] != 1 || metrics[slog.LevelError] != 1 {
		t.Errorf("metrics = %v", metrics)
	}
}

func TestRun_LastLineWithoutNewline(t *testing.T) {
	dst := &recordEmitter{}
	res, err := newTestRelay(t, dst, Options{}).Run(context.Background(), strings.NewReader("a\nb"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Lines != 2 || dst.lines[1].msg != "b" {
		t.Fatalf("res=%+v lines=%+v", res, dst.lines)
	}
}

func TestRun_TruncatesLongLines(t *testing.T) {
	long := strings.Repeat("x", 100)
	in := long + "\nshort\n"
	dst := &recordEmitter{}
	res, err := newTestRelay(t, dst, Options{MaxLineBytes: 10}).Run(context.Background(), strings.NewReader(in))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Truncated != 1 || res.Lines != 2 {
		t.Fatalf("res = %+v", res)
	}
	if dst.lines[0].msg != strings.Repeat("x", 10) {
		t.Fatalf("truncated msg = %q", dst.lines[0].msg)
	}
	if len(dst.lines[0].data) != 1 || dst.lines[0].data[0] != "[truncated]" {
		t.Fatalf("truncated data = %v", dst.lines[0].data)
	}
	if dst.lines[1].msg != "short" || len(dst.lines[1].data) != 0 {
		t.Fatalf("line after truncation = %+v", dst.lines[1])
	}
}

func TestRun_LineLongerThanReadBuffer(t *testing.T) {
	long := strings.Repeat("y", 200*1024)
	dst := &recordEmitter{}
	res, err := newTestRelay(t, dst, Options{}).Run(context.Background(), strings.NewReader(long+"\n"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Truncated != 0 || len(dst.lines[0].msg) != len(long) {
		t.Fatalf("truncated=%d len=%d", res.Truncated, len(dst.lines[0].msg))
	}
}

func TestRun_ThroughRealLogger(t *testing.T) {
	var out bytes.Buffer
	var mu sync.Mutex
	sink := ratelog.SinkFunc(func(_ context.Context, e ratelog.Entry) {
		mu.Lock()
		defer mu.Unlock()
		out.WriteString(e.Line())
		out.WriteByte('\n')
	})
	fixed := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	l := ratelog.New(
		ratelog.WithSink(sink),
		ratelog.WithClock(func() time.Time { return fixed }),
	)

	var in strings.Builder
	for i := 0; i < 8; i++ {
		in.WriteString("INFO: tick\n")
	}
	in.WriteString("ERROR: still here\n")

	res, err := newTestRelay(t, l, Options{}).Run(context.Background(), strings.NewReader(in.String()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcomes[ratelog.Emitted] != 6 || res.Outcomes[ratelog.Dropped] != 3 {
		t.Fatalf("outcomes = %v, want 6 emitted (5 + error) and 3 dropped", res.Outcomes)
	}
	if !strings.Contains(out.String(), "[ratelog] [08:00:00] [ERROR] ERROR: still here") {
		t.Fatalf("output missing error line:\n%s", out.String())
	}
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func TestRun_ReadError(t *testing.T) {
	boom := errors.New("boom")
	_, err := newTestRelay(t, &recordEmitter{}, Options{}).Run(context.Background(), errReader{boom})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping boom", err)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	r := newTestRelay(t, &recordEmitter{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, pr)
		done <- err
	}()

	if _, err := pw.Write([]byte("first\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
