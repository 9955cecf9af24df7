// Package logger wraps log/slog with a small multi-output handler, the way
// the rest of this lineage's daemons set up logging: one global level floor,
// one or more writers, and convenience top-level functions so call sites
// don't have to carry a *slog.Logger around.
package logger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

var (
	globalLevel  = slog.LevelInfo
	handlerMutex sync.RWMutex
)

// SetLevel sets the global log level from a string ("debug", "info", "warn", "error").
func SetLevel(levelStr string) {
	level := ParseLevel(levelStr)
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	globalLevel = level
}

// GetLevel returns the current log level as a string.
func GetLevel() string {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	switch globalLevel {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelInfo:
		return "info"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel parses a string to an slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MultiHandler fans a record out to several slog.Handlers, each honoring
// the shared global level floor plus its own. cmd/btmediad installs it with
// a single pretty console handler; further handlers (for example a
// structured JSON file handler) can sit beside it.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler builds a handler that dispatches to all of handlers.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	handlerMutex.RLock()
	below := level < globalLevel
	handlerMutex.RUnlock()
	if below {
		return false
	}
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	handlerMutex.RLock()
	below := record.Level < globalLevel
	handlerMutex.RUnlock()
	if below {
		return nil
	}
	var firstErr error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, record.Level) {
			continue
		}
		if err := hh.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: next}
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &MultiHandler{handlers: next}
}

// Init installs handler as the slog default logger.
func Init(handler slog.Handler) {
	slog.SetDefault(slog.New(handler))
}

// Convenience wrappers so call sites needn't import log/slog directly.
func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }
