package opshttp

import (
	"net/http"

	"github.com/keithlinneman/ratelog/internal/health"
	"github.com/keithlinneman/ratelog/internal/log"
	"github.com/keithlinneman/ratelog/internal/ratelog"
)

// Controller is the part of *ratelog.Logger the admin API drives.
type Controller interface {
	Config() ratelog.Config
	Stats() ratelog.Stats
	Mode() ratelog.Mode
	Configure(o ratelog.Overrides)
	SetLevel(name string) bool
	Enable()
	Disable()
}

type Options struct {
	Logger log.Logger
	// Host defaults to all interfaces, Port to 9000. Public clients are
	// rejected regardless.
	Host string
	Port int

	Controller Controller

	Metrics     http.Handler
	MetricsMW   func(http.Handler) http.Handler
	RateLimitMW func(http.Handler) http.Handler // mutating routes only
	EnablePprof bool

	Health    health.Probe
	Readiness health.Probe

	OnPanic func() // called after a recovered panic is logged, e.g. to bump a counter
}
