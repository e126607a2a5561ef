// Package logging provides the structured logger shared by every session
// component. It wraps a zap.SugaredLogger behind a small interface so call
// sites depend on behaviour, not on zap directly.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the sugared, structured logging surface used throughout the
// bridge. Session components share the process logger; call sites that
// log per-call events pass a "call_id" key/value pair on the line itself.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	// With returns a child logger carrying the given key/value pairs on
	// every subsequent line.
	With(keysAndValues ...interface{}) Logger
	Sync() error
}

type sugaredLogger struct {
	*zap.SugaredLogger
}

func (s *sugaredLogger) With(keysAndValues ...interface{}) Logger {
	return &sugaredLogger{s.SugaredLogger.With(keysAndValues...)}
}

// Options configures NewLogger. The zero value produces a development
// console logger at info level with no file rotation.
type Options struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// FilePath, if set, additionally writes JSON lines to a rotated file
	// via lumberjack (matching the teacher's gopkg.in/natefinch/lumberjack.v2
	// dependency). MaxSizeMB/MaxBackups/MaxAgeDays follow lumberjack's
	// own field semantics.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func (o Options) level() zapcore.Level {
	switch o.Level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds the application-wide logger. Console output always goes
// to stderr; file output is additive and optional.
func NewLogger(opts Options) (Logger, error) {
	lvl := opts.level()
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.Lock(os.Stderr),
			lvl,
		),
	}

	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 7),
			MaxAge:     orDefault(opts.MaxAgeDays, 14),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.AddSync(rotator),
			lvl,
		))
	}

	core := zapcore.NewTee(cores...)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &sugaredLogger{base.Sugar()}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// NewNop returns a Logger that discards everything; used by tests that do
// not care about log output.
func NewNop() Logger {
	return &sugaredLogger{zap.NewNop().Sugar()}
}
