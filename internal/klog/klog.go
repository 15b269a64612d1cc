// Package klog provides the kernel's structured logging seam.
//
// Kernel packages never import a concrete logging backend directly; they
// take a Logger interface so the default zerolog-backed implementation can
// be swapped for a test spy or a host-program's own logger, without
// touching the scheduler, IPC, or timer code.
package klog

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's severity levels, kept as its own type so callers
// of this package never need to import zerolog directly.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Fields carries structured key/value pairs attached to a single log call.
// Kept as a plain map (rather than zerolog.Context) so the interface below
// stays independent of the backend.
type Fields map[string]any

// Logger is the kernel-wide logging interface. Category is a short
// lower-case tag identifying the subsystem ("task", "timer", "sem",
// "queue", "event", "hal"), matching the category field used throughout
// the scheduler and IPC packages.
type Logger interface {
	Log(level Level, category, msg string, fields Fields)
	Enabled(level Level) bool
}

// noopLogger discards everything; it is the zero value default so tests
// and short-lived kernels stay silent unless a Logger is configured.
type noopLogger struct{}

func (noopLogger) Log(Level, string, string, Fields) {}
func (noopLogger) Enabled(Level) bool                { return false }

// Noop returns a Logger that discards all log entries.
func Noop() Logger { return noopLogger{} }

// zerologLogger is the default production Logger, backed by
// github.com/rs/zerolog.
type zerologLogger struct {
	mu  sync.Mutex
	log zerolog.Logger
	lvl zerolog.Level
}

// NewZerolog builds the default Logger, writing leveled, structured JSON
// records to os.Stderr at minLevel and above.
func NewZerolog(minLevel Level) Logger {
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(minLevel.zerolog())
	return &zerologLogger{log: zl, lvl: minLevel.zerolog()}
}

func (z *zerologLogger) Enabled(level Level) bool {
	return level.zerolog() >= z.lvl
}

func (z *zerologLogger) Log(level Level, category, msg string, fields Fields) {
	if !z.Enabled(level) {
		return
	}
	z.mu.Lock()
	defer z.mu.Unlock()

	ev := z.log.WithLevel(level.zerolog()).Str("category", category)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
