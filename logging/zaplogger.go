package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var nopLogger Logger = &ZapLogger{z: zap.NewNop().Sugar()}

// NewDevLogger returns a zap logger that prints dev friendly output.
func NewDevLogger() Logger {
	l, _ := zap.NewDevelopment(zap.AddCallerSkip(2))
	return &ZapLogger{z: l.Sugar()}
}

// NewProdLogger returns a zap logger that outputs JSON.
func NewProdLogger() Logger {
	l, _ := zap.NewProduction(zap.AddCallerSkip(2))
	return &ZapLogger{z: l.Sugar()}
}

// NewLogger returns a logger for the given mode, "dev" or "prod". Unknown
// modes fall back to dev output.
func NewLogger(mode string) Logger {
	if mode == "prod" {
		return NewProdLogger()
	}
	return NewDevLogger()
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return nopLogger
}

// FromZap adapts an existing zap core, useful in tests with zaptest/observer.
func FromZap(core zapcore.Core) Logger {
	return &ZapLogger{z: zap.New(core).Sugar()}
}

// ZapLogger is a logging adapter for a zap SugaredLogger.
type ZapLogger struct {
	z *zap.SugaredLogger
}

func (z *ZapLogger) Debug(args ...any) {
	z.z.Debug(args...)
}

func (z *ZapLogger) Debugw(msg string, keysAndValues ...any) {
	z.z.Debugw(msg, keysAndValues...)
}

func (z *ZapLogger) Debugf(msg string, args ...any) {
	z.z.Debugf(msg, args...)
}

func (z *ZapLogger) Info(args ...any) {
	z.z.Info(args...)
}

func (z *ZapLogger) Infow(msg string, keysAndValues ...any) {
	z.z.Infow(msg, keysAndValues...)
}

func (z *ZapLogger) Infof(msg string, args ...any) {
	z.z.Infof(msg, args...)
}

func (z *ZapLogger) Warn(args ...any) {
	z.z.Warn(args...)
}

func (z *ZapLogger) Warnw(msg string, keysAndValues ...any) {
	z.z.Warnw(msg, keysAndValues...)
}

func (z *ZapLogger) Warnf(msg string, args ...any) {
	z.z.Warnf(msg, args...)
}

func (z *ZapLogger) Error(args ...any) {
	z.z.Error(args...)
}

func (z *ZapLogger) Errorw(msg string, keysAndValues ...any) {
	z.z.Errorw(msg, keysAndValues...)
}

func (z *ZapLogger) Errorf(msg string, args ...any) {
	z.z.Errorf(msg, args...)
}

func (z *ZapLogger) Named(name string) Logger {
	return &ZapLogger{z: z.z.Named(name)}
}

func (z *ZapLogger) With(field string, value any) Logger {
	return &ZapLogger{z: z.z.With(field, value)}
}
