package logger

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/leandrodaf/midibridge/sdk/contracts"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapLogger implements contracts.Logger on top of the Uber zap logger.
type ZapLogger struct {
	logger  atomic.Pointer[zap.Logger]
	level   zap.AtomicLevel
	encoder zapcore.EncoderConfig
	console bool
}

// NewZapLogger creates a production (JSON) logger writing to stderr.
func NewZapLogger() contracts.Logger {
	return newZapLogger(zap.NewProductionEncoderConfig(), false)
}

// NewDevelopmentLogger creates a human readable console logger writing to stderr.
func NewDevelopmentLogger() contracts.Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return newZapLogger(cfg, true)
}

// NewNopLogger discards everything.
func NewNopLogger() contracts.Logger {
	return NewFromZap(zap.NewNop())
}

// NewFromZap wraps an existing zap logger. SetLevel filters on top of whatever level l
// already enforces. SetDestination replaces l with a logger of the wrapper's own.
func NewFromZap(l *zap.Logger) contracts.Logger {
	z := &ZapLogger{
		level:   zap.NewAtomicLevelAt(zapcore.DebugLevel),
		encoder: zap.NewProductionEncoderConfig(),
	}
	z.logger.Store(l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return levelCore{Core: c, level: z.level}
	})))
	return z
}

// levelCore drops entries below level before they reach the wrapped core. Unlike
// zap.IncreaseLevel it also accepts a level lower than the core's own.
type levelCore struct {
	zapcore.Core
	level zapcore.LevelEnabler
}

func (c levelCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l) && c.Core.Enabled(l)
}

func (c levelCore) With(fields []zapcore.Field) zapcore.Core {
	return levelCore{Core: c.Core.With(fields), level: c.level}
}

func (c levelCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func newZapLogger(cfg zapcore.EncoderConfig, console bool) *ZapLogger {
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	z := &ZapLogger{
		level:   zap.NewAtomicLevelAt(zapcore.InfoLevel),
		encoder: cfg,
		console: console,
	}
	z.logger.Store(z.build(zapcore.Lock(os.Stderr)))
	return z
}

func (z *ZapLogger) build(ws zapcore.WriteSyncer) *zap.Logger {
	var enc zapcore.Encoder
	if z.console {
		enc = zapcore.NewConsoleEncoder(z.encoder)
	} else {
		enc = zapcore.NewJSONEncoder(z.encoder)
	}
	return zap.New(zapcore.NewCore(enc, ws, z.level), zap.AddCaller(), zap.AddCallerSkip(1))
}

// Info logs a message at the INFO level
func (z *ZapLogger) Info(msg string, fields ...contracts.Field) {
	z.logger.Load().Info(msg, toZap(fields)...)
}

// Error logs a message at the ERROR level
func (z *ZapLogger) Error(msg string, fields ...contracts.Field) {
	z.logger.Load().Error(msg, toZap(fields)...)
}

// Debug logs a message at the DEBUG level
func (z *ZapLogger) Debug(msg string, fields ...contracts.Field) {
	z.logger.Load().Debug(msg, toZap(fields)...)
}

// Warn logs a message at the WARN level
func (z *ZapLogger) Warn(msg string, fields ...contracts.Field) {
	z.logger.Load().Warn(msg, toZap(fields)...)
}

// Fatal logs a message at the FATAL level and terminates the application
func (z *ZapLogger) Fatal(msg string, fields ...contracts.Field) {
	z.logger.Load().Fatal(msg, toZap(fields)...)
}

// Field returns a new instance of Field
func (z *ZapLogger) Field() contracts.Field {
	return zapField{}
}

// SetLevel sets the logging level
func (z *ZapLogger) SetLevel(level contracts.LogLevel) {
	z.level.SetLevel(toZapLevel(level))
}

// SetDestination switches output between stderr and a rotated log file.
func (z *ZapLogger) SetDestination(dest contracts.LogDestination, filePath ...string) {
	switch dest {
	case contracts.FileLog:
		if len(filePath) == 0 || filePath[0] == "" {
			z.Warn("file log destination requested without a path; keeping current destination")
			return
		}
		z.logger.Store(z.build(zapcore.AddSync(&lumberjack.Logger{
			Filename:   filePath[0],
			MaxSize:    20, // megabytes
			MaxBackups: 3,
		})))
	default:
		z.logger.Store(z.build(zapcore.Lock(os.Stderr)))
	}
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	return z.logger.Load().Sync()
}

func toZapLevel(level contracts.LogLevel) zapcore.Level {
	switch level {
	case contracts.DebugLevel:
		return zapcore.DebugLevel
	case contracts.WarnLevel:
		return zapcore.WarnLevel
	case contracts.ErrorLevel:
		return zapcore.ErrorLevel
	case contracts.FatalLevel:
		return zapcore.FatalLevel
	}
	return zapcore.InfoLevel
}

func toZap(fields []contracts.Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		if f, ok := field.(zapField); ok && f.set {
			out = append(out, f.f)
		}
	}
	return out
}

// zapField implements contracts.Field
type zapField struct {
	f   zap.Field
	set bool
}

func (zapField) Bool(key string, val bool) contracts.Field {
	return zapField{zap.Bool(key, val), true}
}

func (zapField) Int(key string, val int) contracts.Field {
	return zapField{zap.Int(key, val), true}
}

func (zapField) Float64(key string, val float64) contracts.Field {
	return zapField{zap.Float64(key, val), true}
}

func (zapField) String(key string, val string) contracts.Field {
	return zapField{zap.String(key, val), true}
}

func (zapField) Time(key string, val time.Time) contracts.Field {
	return zapField{zap.Time(key, val), true}
}

func (zapField) Duration(key string, val time.Duration) contracts.Field {
	return zapField{zap.Duration(key, val), true}
}

func (zapField) Int64(key string, val int64) contracts.Field {
	return zapField{zap.Int64(key, val), true}
}

func (zapField) Error(key string, val error) contracts.Field {
	return zapField{zap.NamedError(key, val), true}
}

func (zapField) Uint64(key string, val uint64) contracts.Field {
	return zapField{zap.Uint64(key, val), true}
}

func (zapField) Uint8(key string, val uint8) contracts.Field {
	return zapField{zap.Uint8(key, val), true}
}
