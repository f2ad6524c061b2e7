package relay

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/keithlinneman/ratelog/internal/log"
	"github.com/keithlinneman/ratelog/internal/ratelog"
	"github.com/keithlinneman/ratelog/internal/xerrors"
)

// MaxLineBytes is the longest line relayed intact; the rest of a longer line
// is discarded.
const MaxLineBytes = 1 << 20

// Emitter is the gate lines go through, normally *ratelog.Logger.
type Emitter interface {
	Log(ctx context.Context, level slog.Level, msg string, data ...any) ratelog.Outcome
}

// Metrics counts relayed lines by classified level.
type Metrics interface {
	IncRelayLine(level slog.Level)
}

type Options struct {
	Logger  log.Logger
	Metrics Metrics
	// MaxLineBytes overrides the package default when > 0.
	MaxLineBytes int
}

// Result summarises a relay run.
type Result struct {
	Lines     int // non-blank lines relayed
	Blank     int
	Truncated int
	Outcomes  map[ratelog.Outcome]int
}

type Relay struct {
	dst     Emitter
	logger  log.Logger
	metrics Metrics
	maxLine int
}

func New(dst Emitter, opts Options) (*Relay, error) {
	if dst == nil {
		return nil, xerrors.New("relay: emitter is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	maxLine := opts.MaxLineBytes
	if maxLine <= 0 {
		maxLine = MaxLineBytes
	}
	return &Relay{dst: dst, logger: opts.Logger, metrics: opts.Metrics, maxLine: maxLine}, nil
}

type readLine struct {
	text      string
	truncated bool
}

// Run relays r until EOF or ctx is done. A read blocked in r when ctx is
// cancelled is abandoned; closing r releases it. EOF returns a nil error.
func (rl *Relay) Run(ctx context.Context, r io.Reader) (Result, error) {
	res := Result{Outcomes: make(map[ratelog.Outcome]int, 4)}

	lines := make(chan readLine)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		readErr <- rl.read(ctx, r, lines)
	}()

	for {
		select {
		case <-ctx.Done():
			rl.logger.Info(ctx, "relay stopping", "reason", ctx.Err(), "lines", res.Lines)
			return res, ctx.Err()
		case ln, ok := <-lines:
			if !ok {
				err := <-readErr
				if err != nil {
					rl.logger.Error(ctx, err, "relay read failed", "lines", res.Lines)
					return res, err
				}
				rl.logger.Info(ctx, "relay reached end of input",
					"lines", res.Lines,
					"dropped", res.Outcomes[ratelog.Dropped],
				)
				return res, nil
			}
			rl.handle(ctx, ln, &res)
		}
	}
}

func (rl *Relay) handle(ctx context.Context, ln readLine, res *Result) {
	text := strings.TrimRight(ln.text, "\r")
	if strings.TrimSpace(text) == "" {
		res.Blank++
		return
	}
	res.Lines++
	if ln.truncated {
		res.Truncated++
	}

	c := Classify(text)
	if rl.metrics != nil {
		rl.metrics.IncRelayLine(c.Level)
	}
	var data []any
	if c.Fields != nil {
		data = append(data, c.Fields)
	}
	if ln.truncated {
		data = append(data, "[truncated]")
	}
	res.Outcomes[rl.dst.Log(ctx, c.Level, c.Msg, data...)]++
}

// read splits r into lines, cutting each at maxLine bytes.
func (rl *Relay) read(ctx context.Context, r io.Reader, out chan<- readLine) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var buf []byte
	truncated := false
	for {
		chunk, isPrefix, err := br.ReadLine()
		if len(chunk) > 0 {
			if room := rl.maxLine - len(buf); room > 0 {
				if len(chunk) > room {
					chunk = chunk[:room]
					truncated = true
				}
				buf = append(buf, chunk...)
			} else {
				truncated = true
			}
		}
		if err != nil {
			if len(buf) > 0 {
				select {
				case out <- readLine{text: string(buf), truncated: truncated}:
				case <-ctx.Done():
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return xerrors.Wrap(err, "read input")
		}
		if isPrefix {
			continue
		}
		select {
		case out <- readLine{text: string(buf), truncated: truncated}:
		case <-ctx.Done():
			return nil
		}
		buf, truncated = buf[:0], false
	}
}
