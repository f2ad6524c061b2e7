package remotecfg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/ratelog/internal/health"
	"github.com/keithlinneman/ratelog/internal/log"
	"github.com/keithlinneman/ratelog/internal/ratelog"
	"github.com/keithlinneman/ratelog/internal/xerrors"
)

const (
	DefaultPollInterval   = 30 * time.Second
	DefaultStaleThreshold = 30 * time.Minute

	// maxBackoff caps exponential backoff on consecutive fetch errors.
	maxBackoff = 5 * time.Minute
)

// pollResult describes what happened during a single poll cycle.
type pollResult int

const (
	pollNoChange   pollResult = iota // document matches the one last seen
	pollApplied                      // new document parsed and applied
	pollFetchError                   // source failed, caller backs off
	pollParseError                   // new document could not be used
)

// Configurer is what the watcher drives, normally *ratelog.Logger.
type Configurer interface {
	Configure(o ratelog.Overrides)
}

// Metrics is implemented by the metrics package.
type Metrics interface {
	IncRemotePolls()
	IncRemoteApplies()
	IncRemoteError(errType string)
	ObserveRemoteFetchDuration(d time.Duration)
	SetRemoteLastSuccess(t time.Time)
	SetRemoteStale(stale bool)
}

type Options struct {
	Logger         log.Logger
	Source         Source
	Target         Configurer
	PollInterval   time.Duration
	StaleThreshold time.Duration
	Metrics        Metrics

	// OnApply is called after a document is applied, on the poll goroutine.
	OnApply func(o ratelog.Overrides, version int64)
}

// Watcher polls a Source and applies changed documents to a Configurer.
type Watcher struct {
	source   Source
	target   Configurer
	logger   log.Logger
	interval time.Duration
	metrics  Metrics
	onApply  func(ratelog.Overrides, int64)
	now      func() time.Time

	// last document seen, applied or not
	current        string
	currentVersion int64

	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	stale          atomic.Bool

	pollCount  int64
	applyCount int64
}

func NewWatcher(opts *Options) (*Watcher, error) {
	if opts == nil {
		return nil, xerrors.New("remotecfg: options are required")
	}
	if opts.Source == nil {
		return nil, xerrors.New("remotecfg: Source is required")
	}
	if opts.Target == nil {
		return nil, xerrors.New("remotecfg: Target is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	staleThreshold := opts.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	w := &Watcher{
		source:         opts.Source,
		target:         opts.Target,
		logger:         opts.Logger,
		interval:       interval,
		metrics:        opts.Metrics,
		onApply:        opts.OnApply,
		now:            time.Now,
		staleThreshold: staleThreshold,
	}
	w.lastSuccessAt = w.now()
	return w, nil
}

// Run polls once immediately and then on the interval until ctx is done.
// Intended to be launched as: go w.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "remote config watcher starting",
		"poll_interval", w.interval.String(),
		"stale_threshold", w.staleThreshold.String(),
	)

	next := w.step(ctx)
	timer := time.NewTimer(next)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "remote config watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"applies", w.applyCount,
			)
			return ctx.Err()
		case <-timer.C:
			timer.Reset(w.step(ctx))
		}
	}
}

// step runs one poll and the bookkeeping around it, returning the delay
// before the next poll.
func (w *Watcher) step(ctx context.Context) time.Duration {
	result := w.checkOnce(ctx)

	next := w.interval
	if result == pollFetchError {
		w.consecutiveErrs++
		next = w.backoffDuration()
		w.logger.Warn(ctx, "remote config watcher: backing off",
			"consecutive_errors", w.consecutiveErrs,
			"next_poll_in", next.String(),
		)
	} else if w.consecutiveErrs > 0 {
		w.logger.Info(ctx, "remote config watcher: recovered, resuming normal interval",
			"had_consecutive_errors", w.consecutiveErrs,
		)
		w.consecutiveErrs = 0
	}

	w.updateStaleness(ctx, result)
	return next
}

// updateStaleness logs once per transition in either direction.
func (w *Watcher) updateStaleness(ctx context.Context, result pollResult) {
	if result != pollFetchError {
		if w.stale.Swap(false) {
			w.logger.Info(ctx, "remote config watcher: staleness recovered")
			if w.metrics != nil {
				w.metrics.SetRemoteStale(false)
			}
		}
		return
	}
	since := w.now().Sub(w.lastSuccessAt)
	if since <= w.staleThreshold || w.stale.Load() {
		return
	}
	w.stale.Store(true)
	w.logger.Error(ctx, fmt.Errorf("last successful poll was %s ago", since.Truncate(time.Second)),
		"remote config watcher: config is stale, unable to verify it is current",
	)
	if w.metrics != nil {
		w.metrics.SetRemoteStale(true)
	}
}

// checkOnce performs a single fetch-compare-apply cycle.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncRemotePolls()
	}

	start := w.now()
	doc, version, err := w.source.Fetch(ctx)
	if w.metrics != nil {
		w.metrics.ObserveRemoteFetchDuration(w.now().Sub(start))
	}
	if err != nil {
		w.logger.Error(ctx, err, "remote config watcher: fetch failed")
		if w.metrics != nil {
			w.metrics.IncRemoteError("fetch")
		}
		return pollFetchError
	}

	now := w.now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetRemoteLastSuccess(now)
	}

	if doc == w.current {
		return pollNoChange
	}
	oldVersion := w.currentVersion
	w.current, w.currentVersion = doc, version

	o, err := parseOverrides(doc)
	if err != nil {
		w.logger.Error(ctx, err, "remote config watcher: document rejected, keeping current config",
			"version", version,
		)
		if w.metrics != nil {
			w.metrics.IncRemoteError("parse")
		}
		return pollParseError
	}

	w.target.Configure(o)
	w.applyCount++
	if w.metrics != nil {
		w.metrics.IncRemoteApplies()
	}
	w.logger.Info(ctx, "remote config watcher: overrides applied",
		"old_version", oldVersion,
		"new_version", version,
		"total_applies", w.applyCount,
	)

	if w.onApply != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, fmt.Errorf("OnApply panic: %v", r),
						"remote config watcher: OnApply callback panicked, continuing",
					)
				}
			}()
			w.onApply(o, version)
		}()
	}
	return pollApplied
}

// backoffDuration: consecutiveErrs=1 is 2x interval, 2 is 4x, and so on up
// to maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	d := time.Duration(float64(w.interval) * mult)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}

// Probe fails while the watcher is stale. Intended for readiness.
func (w *Watcher) Probe() health.CheckFunc {
	return func(context.Context) error {
		if w.stale.Load() {
			return xerrors.New("stale")
		}
		return nil
	}
}

// parseOverrides accepts a JSON object with at least one known key.
func parseOverrides(doc string) (ratelog.Overrides, error) {
	var o ratelog.Overrides
	if err := json.Unmarshal([]byte(doc), &o); err != nil {
		return ratelog.Overrides{}, xerrors.Wrap(err, "decode overrides document")
	}
	if o.IsZero() {
		return ratelog.Overrides{}, xerrors.New("overrides document has no recognised keys")
	}
	return o, nil
}
