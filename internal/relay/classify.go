package relay

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// Keys tried, in order, when a line is a JSON object.
var (
	jsonLevelKeys = []string{"level", "severity", "lvl"}
	jsonMsgKeys   = []string{"msg", "message"}
)

// tagScanTokens bounds how far into a plain line a [LEVEL] or LEVEL: tag is
// looked for; it usually follows a timestamp or a program name.
const tagScanTokens = 4

// Line is a classified input line.
type Line struct {
	Level slog.Level
	Msg   string
	// Fields holds the leftover keys of a JSON line, nil otherwise.
	Fields map[string]any
}

// Classify picks a severity for raw using, in order: a JSON object with a
// level and message key, a logfmt level= token, a bracket or colon tag.
// Anything else, including unrecognised level words, is info.
func Classify(raw string) Line {
	if l, ok := classifyJSON(raw); ok {
		return l
	}
	if lvl, ok := logfmtLevel(raw); ok {
		return Line{Level: lvl, Msg: raw}
	}
	if lvl, ok := tagLevel(raw); ok {
		return Line{Level: lvl, Msg: raw}
	}
	return Line{Level: slog.LevelInfo, Msg: raw}
}

func classifyJSON(raw string) (Line, bool) {
	s := strings.TrimSpace(raw)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return Line{}, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return Line{}, false
	}
	levelKey, levelWord := firstString(obj, jsonLevelKeys)
	msgKey, msg := firstString(obj, jsonMsgKeys)
	if levelKey == "" || msgKey == "" {
		return Line{}, false
	}
	delete(obj, levelKey)
	delete(obj, msgKey)

	lvl, _ := levelFromWord(levelWord)
	l := Line{Level: lvl, Msg: msg}
	if len(obj) > 0 {
		l.Fields = obj
	}
	return l, true
}

func firstString(obj map[string]any, keys []string) (string, string) {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok {
			return k, v
		}
	}
	return "", ""
}

// logfmtLevel finds a level= or lvl= token, optionally quoted.
func logfmtLevel(raw string) (slog.Level, bool) {
	for _, tok := range strings.Fields(raw) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(k) {
		case "level", "lvl", "severity":
			lvl, _ := levelFromWord(strings.Trim(v, `"'`))
			return lvl, true
		}
	}
	return slog.LevelInfo, false
}

// tagLevel looks at the first few tokens for "[WARN]" or "ERROR:".
func tagLevel(raw string) (slog.Level, bool) {
	toks := strings.Fields(raw)
	if len(toks) > tagScanTokens {
		toks = toks[:tagScanTokens]
	}
	for _, tok := range toks {
		var word string
		switch {
		case len(tok) > 2 && tok[0] == '[' && tok[len(tok)-1] == ']':
			word = tok[1 : len(tok)-1]
		case len(tok) > 1 && tok[len(tok)-1] == ':':
			word = tok[:len(tok)-1]
		default:
			continue
		}
		if lvl, ok := levelFromWord(word); ok {
			return lvl, true
		}
	}
	return slog.LevelInfo, false
}

// levelFromWord maps the usual spellings onto the four levels. Unknown words
// are info with ok false.
func levelFromWord(w string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(w)) {
	case "trace", "debug", "dbg":
		return slog.LevelDebug, true
	case "info", "inf", "notice":
		return slog.LevelInfo, true
	case "warn", "warning", "wrn":
		return slog.LevelWarn, true
	case "error", "err", "eror", "fatal", "crit", "critical", "panic", "alert", "emerg":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}
