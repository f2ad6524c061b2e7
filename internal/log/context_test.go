package log

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	stored, err := New(Options{Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		ctx     context.Context
		wantNop bool
	}{
		{"stored", WithContext(context.Background(), stored), false},
		{"empty", context.Background(), true},
		{"nil logger stored", WithContext(context.Background(), nil), true},
		{"nil ctx", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromContext(tt.ctx)
			if tt.wantNop {
				if _, ok := got.(discard); !ok {
					t.Fatalf("got %T, want Nop", got)
				}
				return
			}
			if got != stored {
				t.Fatal("FromContext returned a different logger")
			}
		})
	}
}

func TestNop_Discards(t *testing.T) {
	ctx := context.Background()
	l := Nop().With("sink", "console").With()
	l.Debug(ctx, "dropped", "k", "v")
	l.Info(ctx, "dropped")
	l.Warn(ctx, "dropped")
	l.Error(ctx, errors.New("boom"), "dropped")
	l.Error(ctx, nil, "dropped")
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync = %v", err)
	}
}
