// Package logging provides context scoped, structured logging. The Logger
// interface is shaped after uber-go/zap's sugared logger, which is the only
// bundled implementation.
//
// Components pull their logger from the context rather than holding one, so
// that callers can scope log output to an operation:
//
//	ctx = logging.Scope(ctx, "caps")
//	logging.Infow(ctx, "role added", "site", site, "role", key)
package logging

import "context"

type ctxkey struct {
	logger Logger
}

// With attaches a logger to the context.
//
// This can be used to create logging scopes like so:
//
//	for _, u := range users {
//	  ctx := With(ctx, logger.Named(u.Login))
//	  processUser(ctx, u)
//	}
func With(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, ctxkey{}, &ctxkey{
		logger: logger,
	})
}

// FromContext returns the scoped logger, or a no-op logger if none is set.
func FromContext(ctx context.Context) Logger {
	if c, ok := ctx.Value(ctxkey{}).(*ctxkey); ok {
		return c.logger
	}
	return nopLogger
}

// EnsureLogger returns a context that carries a logger, attaching a
// development logger if the context doesn't have one yet.
func EnsureLogger(ctx context.Context) context.Context {
	if _, ok := ctx.Value(ctxkey{}).(*ctxkey); ok {
		return ctx
	}
	return With(ctx, NewDevLogger())
}

// Scope returns a context with a child logger of the given name.
func Scope(ctx context.Context, name string) context.Context {
	return With(ctx, FromContext(ctx).Named(name))
}

// Track a field across the lifetime of the context. Tracked values persist
// back up the call-chain to whoever created the scope, so do not use this in
// loops without creating a new scope first.
func Track(ctx context.Context, field string, value any) {
	if c, ok := ctx.Value(ctxkey{}).(*ctxkey); ok {
		c.logger = c.logger.With(field, value)
	}
}

// Logger provides an abstract logging interface.
type Logger interface {
	Debug(args ...any)
	Debugw(msg string, keysAndValues ...any)
	Debugf(msg string, args ...any)
	Info(args ...any)
	Infow(msg string, keysAndValues ...any)
	Infof(msg string, args ...any)
	Warn(args ...any)
	Warnw(msg string, keysAndValues ...any)
	Warnf(msg string, args ...any)
	Error(args ...any)
	Errorw(msg string, keysAndValues ...any)
	Errorf(msg string, args ...any)

	// Named creates a child logger with the given name.
	Named(name string) Logger

	// With creates a child logger and attaches structured context to it.
	With(field string, value any) Logger
}

func Debug(ctx context.Context, msg string) {
	FromContext(ctx).Debug(msg)
}

func Debugw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Debugw(msg, fields...)
}

func Debugf(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Debugf(msg, args...)
}

func Info(ctx context.Context, msg string) {
	FromContext(ctx).Info(msg)
}

func Infow(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Infow(msg, fields...)
}

func Infof(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Infof(msg, args...)
}

func Warn(ctx context.Context, msg string) {
	FromContext(ctx).Warn(msg)
}

func Warnw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Warnw(msg, fields...)
}

func Warnf(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Warnf(msg, args...)
}

func Error(ctx context.Context, msg string) {
	FromContext(ctx).Error(msg)
}

func Errorw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Errorw(msg, fields...)
}

func Errorf(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Errorf(msg, args...)
}
