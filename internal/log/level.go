package log

import (
	"log/slog"
	"strings"
)

// Level is a log severity. It mirrors slog's levels so handlers need no
// translation table.
type Level slog.Level

const (
	LevelDebug = Level(slog.LevelDebug)
	LevelInfo  = Level(slog.LevelInfo)
	// LevelWarn is for conditions that do not change a run's outcome,
	// such as a failed publish or cleanup.
	LevelWarn  = Level(slog.LevelWarn)
	LevelError = Level(slog.LevelError)
)

func (l Level) String() string {
	return slog.Level(l).String()
}

// ToSlogLevel converts l for use in slog.HandlerOptions.
func (l Level) ToSlogLevel() slog.Level {
	return slog.Level(l)
}

// ParseLevel accepts the slog level names in any case, plus "warning".
// Anything unrecognised is LevelInfo.
func ParseLevel(s string) Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return LevelInfo
	}
	return Level(l)
}
