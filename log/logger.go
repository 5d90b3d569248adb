package log

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"time"
)

const (
	levelMaxVerbosity slog.Level = math.MinInt
	LevelTrace        slog.Level = -8
	LevelDebug                   = slog.LevelDebug
	LevelInfo                    = slog.LevelInfo
	LevelWarn                    = slog.LevelWarn
	LevelError                   = slog.LevelError
	LevelCrit         slog.Level = 12
)

// Logger is the sink behind the package-level functions and Module loggers.
type Logger interface {
	// Write emits one record tagged with module.
	Write(level slog.Level, module string, msg string, attrs ...any)
	With(ctx ...interface{}) Logger
	Enabled(ctx context.Context, level slog.Level) bool
	Handler() slog.Handler
}

type logger struct {
	inner *slog.Logger
}

func NewLogger(h slog.Handler) Logger {
	return &logger{inner: slog.New(h)}
}

func (l *logger) Handler() slog.Handler {
	return l.inner.Handler()
}

// Write attaches the module as the first attribute so lines can be grepped
// by subsystem. The recorded PC skips Write and its wrapper.
func (l *logger) Write(level slog.Level, module string, msg string, attrs ...any) {
	if !l.inner.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	if module != "" {
		r.AddAttrs(slog.String("module", module))
	}
	r.Add(attrs...)
	l.inner.Handler().Handle(context.Background(), r)
}

func (l *logger) With(ctx ...interface{}) Logger {
	return &logger{l.inner.With(ctx...)}
}

func (l *logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.inner.Enabled(ctx, level)
}

// Module is a logger bound to one subsystem. It resolves the root logger on
// every call, so package-level Module values follow SetDefault. Trace and
// Debug obey EnableModule like the package-level functions.
type Module struct {
	name  string
	attrs []any
}

func NewModule(name string, ctx ...any) Module {
	return Module{name: name, attrs: ctx}
}

func (m Module) Name() string { return m.name }

// With returns a copy carrying extra key/value pairs on every record.
func (m Module) With(ctx ...any) Module {
	attrs := make([]any, 0, len(m.attrs)+len(ctx))
	attrs = append(append(attrs, m.attrs...), ctx...)
	return Module{name: m.name, attrs: attrs}
}

func (m Module) write(level slog.Level, msg string, ctx []any) {
	if len(m.attrs) > 0 {
		ctx = append(append(make([]any, 0, len(m.attrs)+len(ctx)), m.attrs...), ctx...)
	}
	Root().Write(level, m.name, msg, ctx...)
}

func (m Module) Trace(msg string, ctx ...any) {
	if isModuleEnabled(m.name) {
		m.write(LevelTrace, msg, ctx)
	}
}

func (m Module) Debug(msg string, ctx ...any) {
	if isModuleEnabled(m.name) {
		m.write(LevelDebug, msg, ctx)
	}
}

func (m Module) Info(msg string, ctx ...any)  { m.write(LevelInfo, msg, ctx) }
func (m Module) Warn(msg string, ctx ...any)  { m.write(LevelWarn, msg, ctx) }
func (m Module) Error(msg string, ctx ...any) { m.write(LevelError, msg, ctx) }
