package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Level is the build-wide log severity. Lower values are more severe; the
// five levels are ordered from least to most verbose.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelVerbose
	LevelDebug
)

// slog has no verbose level; it sits between info and debug.
const (
	SlogVerbose = slog.Level(-4)
	SlogDebug   = slog.Level(-8)
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warning"
	case LevelInfo:
		return "info"
	case LevelVerbose:
		return "verbose"
	case LevelDebug:
		return "debug"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Slog maps the level onto the slog scale.
func (l Level) Slog() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelInfo:
		return slog.LevelInfo
	case LevelVerbose:
		return SlogVerbose
	default:
		return SlogDebug
	}
}

// ParseLevel accepts level names case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "err":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "", "info":
		return LevelInfo, nil
	case "verbose", "trace":
		return LevelVerbose, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// MarshalText lets levels appear by name in JSON and TOML.
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// LineFunc receives one line of process output at a severity.
type LineFunc func(line string, level Level)

// SlogLineFunc forwards lines to l as records with the line in the message.
func SlogLineFunc(l *slog.Logger, attrs ...any) LineFunc {
	if l == nil {
		l = slog.Default()
	}
	if len(attrs) > 0 {
		l = l.With(attrs...)
	}
	return func(line string, level Level) {
		l.Log(context.Background(), level.Slog(), line)
	}
}
