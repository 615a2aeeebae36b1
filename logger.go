package rhi

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

// adapterLoggers holds the adapters of live devices so SetLogger can reach them.
var adapterLoggers atomic.Pointer[[]loggerSetter]

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger configures the logger for rhi and the adapters of its devices.
// By default, rhi produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by rhi:
//   - [slog.LevelDebug]: bookkeeping (pool growth, recycled command buffers, deletions)
//   - [slog.LevelWarn]: protocol violations handled best-effort, fence timeouts
//   - [slog.LevelError]: device loss, native allocation failures
//
// Example:
//
//	rhi.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	if list := adapterLoggers.Load(); list != nil {
		for _, s := range *list {
			s.SetLogger(l)
		}
	}
}

// Logger returns the current logger used by rhi.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by adapters that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to an adapter if it implements the
// loggerSetter interface and remembers it for later SetLogger calls.
func propagateLogger(a any, l *slog.Logger) {
	ls, ok := a.(loggerSetter)
	if !ok {
		return
	}
	ls.SetLogger(l)
	for {
		old := adapterLoggers.Load()
		var next []loggerSetter
		if old != nil {
			next = append(next, *old...)
		}
		next = append(next, ls)
		if adapterLoggers.CompareAndSwap(old, &next) {
			return
		}
	}
}

// forgetLogger removes an adapter registered by propagateLogger.
func forgetLogger(a any) {
	ls, ok := a.(loggerSetter)
	if !ok {
		return
	}
	for {
		old := adapterLoggers.Load()
		if old == nil {
			return
		}
		next := make([]loggerSetter, 0, len(*old))
		for _, s := range *old {
			if s != ls {
				next = append(next, s)
			}
		}
		if adapterLoggers.CompareAndSwap(old, &next) {
			return
		}
	}
}
