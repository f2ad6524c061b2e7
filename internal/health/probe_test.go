package health

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func pass() CheckFunc { return func(context.Context) error { return nil } }

func fail(reason string) CheckFunc {
	return func(context.Context) error { return errors.New(reason) }
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func TestFixed(t *testing.T) {
	tests := []struct {
		ok     bool
		reason string
		want   string
	}{
		{true, "", ""},
		{true, "ignored", ""},
		{false, "logger: closed", "logger: closed"},
		{false, "", "unhealthy"},
	}
	for _, tt := range tests {
		if got := errText(Fixed(tt.ok, tt.reason).Check(context.Background())); got != tt.want {
			t.Errorf("Fixed(%v, %q) = %q, want %q", tt.ok, tt.reason, got, tt.want)
		}
	}
}

func TestAll(t *testing.T) {
	tests := []struct {
		name   string
		probes []Probe
		want   string
	}{
		{"empty", nil, ""},
		{"all pass", []Probe{pass(), pass()}, ""},
		{"first failure wins", []Probe{pass(), fail("a"), fail("b")}, "a"},
		{"nil skipped", []Probe{nil, pass(), nil}, ""},
		{"nil before failure", []Probe{nil, fail("stale")}, "stale"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errText(All(tt.probes...).Check(context.Background())); got != tt.want {
				t.Fatalf("All = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAll_ShortCircuits(t *testing.T) {
	calls := 0
	counted := CheckFunc(func(context.Context) error { calls++; return nil })
	_ = All(fail("first"), counted).Check(context.Background())
	if calls != 0 {
		t.Fatalf("probe after failure evaluated %d times", calls)
	}
}

func TestNamed(t *testing.T) {
	ctx := context.Background()
	if got := errText(Named("remote config", fail("stale")).Check(ctx)); got != "remote config: stale" {
		t.Fatalf("Named = %q", got)
	}
	if err := Named("remote config", pass()).Check(ctx); err != nil {
		t.Fatalf("passing probe: %v", err)
	}
	if err := Named("x", nil).Check(ctx); err != nil {
		t.Fatalf("nil probe: %v", err)
	}
}

func TestShutdownGate(t *testing.T) {
	ctx := context.Background()
	var g ShutdownGate
	probe := g.Probe()

	if err := probe(ctx); err != nil {
		t.Fatalf("zero gate should be open: %v", err)
	}
	g.Set("")
	if got := errText(probe(ctx)); got != "draining" {
		t.Fatalf("empty reason = %q, want draining", got)
	}
	g.Set("shutting down")
	if got := errText(probe(ctx)); got != "shutting down" {
		t.Fatalf("reason = %q, want shutting down", got)
	}
}

func TestShutdownGate_WithRemoteConfigReadiness(t *testing.T) {
	ctx := context.Background()
	var g ShutdownGate
	stale := false
	remote := CheckFunc(func(context.Context) error {
		if stale {
			return errors.New("stale")
		}
		return nil
	})
	ready := All(g.Probe(), Named("remote config", remote))

	if err := ready(ctx); err != nil {
		t.Fatalf("ready: %v", err)
	}
	stale = true
	if got := errText(ready(ctx)); got != "remote config: stale" {
		t.Fatalf("stale = %q", got)
	}
	g.Set("shutting down")
	if got := errText(ready(ctx)); got != "shutting down" {
		t.Fatalf("gate should win once closed, got %q", got)
	}
}

func TestShutdownGate_Concurrent(t *testing.T) {
	var g ShutdownGate
	probe := g.Probe()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); g.Set("draining") }()
		go func() { defer wg.Done(); _ = probe(context.Background()) }()
	}
	wg.Wait()
	if probe(context.Background()) == nil {
		t.Fatal("gate should be closed")
	}
}
