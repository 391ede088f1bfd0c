// Package xlog is the structured logging façade used throughout this
// module, mirroring the call shape of go-ethereum's log package
// (Crit/Error/Warn/Info/Debug with alternating key/value pairs) over the
// standard library's slog handler rather than a bespoke logging stack.
package xlog

import (
	"log/slog"
	"os"
)

var root = slog.New(slog.NewTextHandler(os.Stderr, nil))

// SetHandler swaps the underlying slog handler, e.g. for JSON output or a
// higher verbosity threshold. Tests may install a discard handler.
func SetHandler(h slog.Handler) {
	root = slog.New(h)
}

func Debug(msg string, kv ...any) { root.Debug(msg, kv...) }
func Info(msg string, kv ...any)  { root.Info(msg, kv...) }
func Warn(msg string, kv ...any)  { root.Warn(msg, kv...) }
func Error(msg string, kv ...any) { root.Error(msg, kv...) }

// Crit logs at error level and terminates the process, for unrecoverable
// storage failures.
func Crit(msg string, kv ...any) {
	root.Error(msg, kv...)
	os.Exit(1)
}

// Discard silences all logging output; used by tests that exercise error
// paths on purpose and don't want them polluting test output.
func Discard() {
	SetHandler(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
