package log

import "context"

type ctxKey struct{}

// WithContext attaches l to ctx for FromContext.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext never returns nil: with nothing attached the caller gets Nop.
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
			return l
		}
	}
	return Nop()
}

// Nop discards everything. Packages fall back to it when no logger was wired.
func Nop() Logger { return discard{} }

type discard struct{}

func (discard) Debug(context.Context, string, ...any)        {}
func (discard) Info(context.Context, string, ...any)         {}
func (discard) Warn(context.Context, string, ...any)         {}
func (discard) Error(context.Context, error, string, ...any) {}
func (discard) Sync() error                                  { return nil }
func (d discard) With(...any) Logger                         { return d }
