package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	assert.IsType(t, &ZapLogger{}, NewLogger("dev"))
	assert.IsType(t, &ZapLogger{}, NewLogger("prod"))
	assert.IsType(t, &ZapLogger{}, NewLogger("unknown"))
	assert.IsType(t, &ZapLogger{}, NewNopLogger())
}

func TestZapLoggerLevels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(Logger)
		msg   string
		level zapcore.Level
	}{
		{"Debug", func(l Logger) { l.Debug("debug message") }, "debug message", zap.DebugLevel},
		{"Debugf", func(l Logger) { l.Debugf("debug: %s %d", "test", 42) }, "debug: test 42", zap.DebugLevel},
		{"Info", func(l Logger) { l.Info("info message") }, "info message", zap.InfoLevel},
		{"Infof", func(l Logger) { l.Infof("info: %s", "test") }, "info: test", zap.InfoLevel},
		{"Warn", func(l Logger) { l.Warn("warn message") }, "warn message", zap.WarnLevel},
		{"Warnf", func(l Logger) { l.Warnf("warn: %d", 7) }, "warn: 7", zap.WarnLevel},
		{"Error", func(l Logger) { l.Error("error message") }, "error message", zap.ErrorLevel},
		{"Errorf", func(l Logger) { l.Errorf("error: %v", true) }, "error: true", zap.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, obs := observer.New(zap.DebugLevel)
			tt.log(FromZap(core))
			require.Equal(t, 1, obs.Len())
			assert.Equal(t, tt.msg, obs.All()[0].Message)
			assert.Equal(t, tt.level, obs.All()[0].Level)
		})
	}
}

func TestZapLoggerStructured(t *testing.T) {
	core, obs := observer.New(zap.DebugLevel)
	logger := FromZap(core)

	logger.Debugw("debug message", "key", "value")
	logger.Infow("info message", "count", 3)
	logger.Warnw("warn message", "flag", true)
	logger.Errorw("error message", "key", "value")

	require.Equal(t, 4, obs.Len())
	entries := obs.All()
	assert.Contains(t, entries[0].Context, zap.String("key", "value"))
	assert.Contains(t, entries[1].Context, zap.Int("count", 3))
	assert.Contains(t, entries[2].Context, zap.Bool("flag", true))
	assert.Equal(t, zap.ErrorLevel, entries[3].Level)
}

func TestZapLoggerNamed(t *testing.T) {
	core, obs := observer.New(zap.InfoLevel)
	logger := FromZap(core).Named("caps").Named("resolver")

	logger.Info("named message")
	require.Equal(t, 1, obs.Len())
	assert.Equal(t, "caps.resolver", obs.All()[0].LoggerName)
}

func TestZapLoggerWith(t *testing.T) {
	core, obs := observer.New(zap.InfoLevel)
	logger := FromZap(core).With("site", "main")

	logger.Info("with message")
	require.Equal(t, 1, obs.Len())
	assert.Contains(t, obs.All()[0].Context, zap.String("site", "main"))
}
