// Package log provides the process-wide structured logger.
//
// All packages log through Logger() so level configuration and output
// destination stay in one place. Handlers are slog-based; worker and
// calculation code uses the Context variants so trace correlation survives
// across goroutines.
package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	level  = new(slog.LevelVar)
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
)

// Logger returns the process logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLevel adjusts the minimum level from a configuration string. Unknown
// values fall back to info. The {trace, fatal} levels of the configuration
// surface map onto slog's debug and error since slog has no direct analog.
func SetLevel(s string) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error", "fatal":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// SetLogger replaces the process logger. Intended for tests and for the CLI,
// which prefers human-readable text output over JSON.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// TextLogger builds a text-format logger at the current level, writing to
// stderr. Used by the CLI entry points.
func TextLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
