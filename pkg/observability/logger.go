package observability

import (
	"log/slog"
	"os"
)

// Logger builds the process logger: a text handler on stderr so journald
// and container log collectors pick lines up as-is.
func Logger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a
// slog level. Unknown strings fall back to info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
