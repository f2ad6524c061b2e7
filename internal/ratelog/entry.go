package ratelog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Entry is one admitted line, handed to the Sink.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Prefix  string
	Message string
	Data    []any

	// Dropped is set only on window summary entries
	Dropped int
}

// Line renders "{prefix} [HH:MM:SS] [LEVEL] message data..." using UTC time
// truncated to the second.
func (e Entry) Line() string {
	var b strings.Builder
	if e.Prefix != "" {
		b.WriteString(e.Prefix)
		b.WriteByte(' ')
	}
	b.WriteByte('[')
	b.WriteString(e.Time.UTC().Format(time.TimeOnly))
	b.WriteString("] [")
	b.WriteString(levelTag(e.Level))
	b.WriteString("] ")
	b.WriteString(e.Message)
	for _, d := range e.Data {
		b.WriteByte(' ')
		b.WriteString(formatValue(d))
	}
	return b.String()
}

// formatValue never fails: anything json can't encode falls back to %v.
// Errors and Stringers go through fmt, which contains panics from nil
// receivers and broken methods.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return x
	case error, fmt.Stringer:
		return fmt.Sprint(x)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x)
	}
	if raw, err := json.Marshal(v); err == nil {
		return string(raw)
	}
	return fmt.Sprintf("%v", v)
}

func summaryEntry(now time.Time, prefix string, dropped int) Entry {
	return Entry{
		Time:    now,
		Level:   slog.LevelWarn,
		Prefix:  prefix,
		Message: fmt.Sprintf("rate limit: dropped %d log messages in the last window", dropped),
		Dropped: dropped,
	}
}
