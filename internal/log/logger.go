// Package log provides structured logging for winemu using zap.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with emulator-specific helpers.
type Logger struct {
	*zap.Logger
	onTrace func(pc uint32, category, name, detail string) // trace callback for API events
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	// Shorter timestamps in development
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fallback to no-op if config fails
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Or returns l, or the global logger when l is nil, or a no-op logger.
func Or(l *Logger) *Logger {
	if l != nil {
		return l
	}
	if L != nil {
		return L
	}
	return NewNop()
}

// SetOnTrace sets the trace callback for API events.
func (l *Logger) SetOnTrace(fn func(pc uint32, category, name, detail string)) {
	l.onTrace = fn
}

// Trace logs an API call and calls the trace callback if set.
// pc is the guest return address of the call.
func (l *Logger) Trace(pc uint32, category, name, detail string) {
	if l.onTrace != nil {
		l.onTrace(pc, category, name, detail)
	}

	l.Debug("api",
		zap.String("dll", category),
		zap.String("fn", name),
		zap.String("detail", detail),
		zap.String("ret", Hex(pc)),
	)
}

// StubInstall logs when a stub is bound to a sentinel address.
func (l *Logger) StubInstall(category, name string, addr uint32, source string) {
	l.Debug("installed",
		zap.String("dll", category),
		zap.String("fn", name),
		Addr(addr),
		zap.String("src", source),
	)
}

// StubFallback logs a call to an import that has no stub.
func (l *Logger) StubFallback(name string, ret uint32) {
	l.Warn("missing export",
		zap.String("fn", name),
		zap.String("ret", Hex(ret)),
		zap.String("eax", "0"),
	)
}

// Skip logs an instruction that was stepped over without being executed.
func (l *Logger) Skip(eip uint32, opcode []byte, reason string) {
	l.Info("skip",
		Addr(eip),
		zap.Binary("op", opcode),
		zap.String("reason", reason),
	)
}

// Halt logs a normal end of execution.
func (l *Logger) Halt(eip uint32, reason string, instructions uint64) {
	l.Info("halt",
		Addr(eip),
		zap.String("reason", reason),
		zap.Uint64("insns", instructions),
	)
}

// Fault logs a fatal guest fault.
func (l *Logger) Fault(eip uint32, opcode []byte, err error) {
	l.Error("fault",
		Addr(eip),
		zap.Binary("op", opcode),
		zap.Error(err),
	)
}

// WithCategory returns a logger with the category field preset.
func (l *Logger) WithCategory(category string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(zap.String("cat", category)),
		onTrace: l.onTrace,
	}
}

// WithProcess returns a logger tagged with an emulated process id.
func (l *Logger) WithProcess(id string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(zap.String("pid", id)),
		onTrace: l.onTrace,
	}
}

// Hex formats a 32-bit value as a fixed-width hex string for logging.
func Hex(v uint32) string {
	const digits = "0123456789abcdef"
	buf := []byte("0x00000000")
	for i := len(buf) - 1; i >= 2; i-- {
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

// Field helpers for common patterns.

// Addr creates an address field.
func Addr(addr uint32) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Size creates a size field.
func Size(size uint32) zap.Field {
	return zap.Uint32("size", size)
}

// Ptr creates a pointer field.
func Ptr(name string, ptr uint32) zap.Field {
	return zap.String(name, Hex(ptr))
}

// Fn creates a function name field.
func Fn(name string) zap.Field {
	return zap.String("fn", name)
}
