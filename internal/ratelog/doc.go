// Package ratelog is a leveled, prefixed logger with a per-second emission
// ceiling, meant to sit in front of a noisy producer so a flood of
// debug/info/warn lines cannot overwhelm the output sink.
//
// The gate evaluated on every call:
//   - error lines are always written and never counted
//   - everything else is suppressed while the logger is disabled or when the
//     line is below the configured level
//   - at most MaxLogsPerSecond lines are written per one second window; excess
//     lines are dropped and counted
//   - the first admitted call after a window expires starts a new window and,
//     if anything was dropped, writes a single summary warning first
//
// The window is evaluated lazily on the next call, there is no timer. A quiet
// period therefore never produces output by itself.
//
// Nothing in this package panics or returns an error to the caller. Invalid
// level names are ignored, and the fact is visible through Stats and the
// Observer hook rather than through a failure.
//
// A Logger is constructed explicitly and shared by pointer. WithContext and
// FromContext carry it to components that were not handed one directly.
package ratelog
