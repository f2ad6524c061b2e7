package ratelog

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/keithlinneman/ratelog/internal/log"
)

const (
	DefaultPrefix           = "[ratelog]"
	DefaultMaxLogsPerSecond = 5
)

// Config is the runtime configuration of a Logger.
type Config struct {
	Enabled          bool       `json:"enabled"`
	Level            slog.Level `json:"logLevel"`
	Prefix           string     `json:"prefix"`
	MaxLogsPerSecond int        `json:"maxLogsPerSecond"`
}

// DefaultConfig: enabled, info, "[ratelog]", 5 lines per second.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Level:            slog.LevelInfo,
		Prefix:           DefaultPrefix,
		MaxLogsPerSecond: DefaultMaxLogsPerSecond,
	}
}

// MarshalJSON writes the level by its lower-case name, the same form
// Overrides accepts.
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Enabled          bool   `json:"enabled"`
		Level            string `json:"logLevel"`
		Prefix           string `json:"prefix"`
		MaxLogsPerSecond int    `json:"maxLogsPerSecond"`
	}{c.Enabled, levelName(c.Level), c.Prefix, c.MaxLogsPerSecond})
}

// Overrides is a partial Config. Nil fields are left untouched by Configure.
// Keys not listed here are ignored when decoding JSON.
type Overrides struct {
	Enabled          *bool   `json:"enabled,omitempty"`
	Level            *string `json:"logLevel,omitempty"`
	Prefix           *string `json:"prefix,omitempty"`
	MaxLogsPerSecond *int    `json:"maxLogsPerSecond,omitempty"`
}

// IsZero reports whether o carries no fields at all.
func (o Overrides) IsZero() bool {
	return o.Enabled == nil && o.Level == nil && o.Prefix == nil && o.MaxLogsPerSecond == nil
}

// merge applies o onto c. The returned bool is false when o named a level
// that could not be parsed; that field is skipped and the rest still apply.
func (c Config) merge(o Overrides) (Config, bool) {
	levelOK := true
	if o.Enabled != nil {
		c.Enabled = *o.Enabled
	}
	if o.Level != nil {
		if lvl, ok := parseLevel(*o.Level); ok {
			c.Level = lvl
		} else {
			levelOK = false
		}
	}
	if o.Prefix != nil {
		c.Prefix = *o.Prefix
	}
	if o.MaxLogsPerSecond != nil {
		// a negative ceiling admits nothing, same as zero
		c.MaxLogsPerSecond = max(*o.MaxLogsPerSecond, 0)
	}
	return c, levelOK
}

func parseLevel(name string) (slog.Level, bool) {
	lvl, err := log.ParseLevel(name)
	return lvl, err == nil
}

// levelName is the lower-case name used in JSON and metrics labels.
func levelName(l slog.Level) string {
	return strings.ToLower(levelTag(l))
}

// levelTag collapses arbitrary slog levels onto the four known ranks.
func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func levelIndex(l slog.Level) int {
	switch {
	case l >= slog.LevelError:
		return 3
	case l >= slog.LevelWarn:
		return 2
	case l >= slog.LevelInfo:
		return 1
	default:
		return 0
	}
}
