package config

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
)

// LevelTrace is a custom log level below Debug for wire-level forensics
// (raw frame dumps, redo-log record tracing).
const LevelTrace = slog.Level(-8)

// ParseLogLevel converts the DSA configuration's log-level vocabulary
// (spec.md §6: none, fatal, error, warning, info, debug) to a slog.Level.
// slog has no native fatal/silent level: "none" suppresses everything by
// mapping to a level above Error that no record will ever reach, and
// "fatal" is treated as an alias for "error", mapping to slog.LevelError
// (the link never os.Exits on a log call).
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	case "warning", "warn":
		return slog.LevelWarn, nil
	case "error", "fatal":
		return slog.LevelError, nil
	case "none":
		return slog.Level(math.MaxInt32), nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: none, fatal, error, warning, info, debug, trace)", s)
	}
}

// ReplaceLogLevelNames renders LevelTrace as "TRACE" in structured log
// output; every other level keeps slog's own name.
func ReplaceLogLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// NewLogger builds a slog.Logger writing to w at the given level, with
// TRACE level names rendered correctly. Handler choice mirrors the
// teacher's plain text-on-stderr default.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: ReplaceLogLevelNames,
	})
	return slog.New(h)
}
