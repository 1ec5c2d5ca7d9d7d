// Package logging provides the small leveled logger shared by every ropforge
// component. It is intentionally independent of the rest of the module so
// that any package can depend on it without risking an import cycle.
package logging

import (
	"fmt"
	"io"
	"log"
)

// Level gates which messages reach the underlying writer.
type Level int

const (
	// LevelOff discards everything, including warnings.
	LevelOff Level = iota
	// LevelWarn surfaces only discard-class warnings (e.g. NoBaseAddress).
	LevelWarn
	// LevelDebug surfaces per-candidate tracing in addition to warnings.
	LevelDebug
)

// Logger is a minimal leveled wrapper around a standard library *log.Logger,
// mirroring the `-v`-gated verbosity of the original tool's CLIs.
type Logger struct {
	level Level
	std   *log.Logger
}

// New returns a Logger writing to w at the given level. A nil w discards all
// output regardless of level.
func New(w io.Writer, level Level) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{level: level, std: log.New(w, "", 0)}
}

// Level reports the logger's current verbosity.
func (l *Logger) Level() Level { return l.level }

// Warnf logs a discard-class or recoverable condition (NoBaseAddress and
// similar) regardless of debug verbosity, as long as the logger isn't off.
func (l *Logger) Warnf(format string, args ...interface{}) {
	if l == nil || l.level < LevelWarn {
		return
	}
	l.std.Output(2, "WARN "+fmt.Sprintf(format, args...)) //nolint:errcheck
}

// Debugf logs fine-grained tracing (dropped candidates, discovered gadgets)
// only when the logger is at LevelDebug.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l == nil || l.level < LevelDebug {
		return
	}
	l.std.Output(2, "DEBUG "+fmt.Sprintf(format, args...)) //nolint:errcheck
}
