package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedZapLogger() (*ZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &ZapLogger{zap.New(core)}, logs
}

func TestLevelMethods(t *testing.T) {
	tests := []struct {
		name  string
		log   func(l *ZapLogger)
		level zapcore.Level
	}{
		{"debug", func(l *ZapLogger) { l.Debug("resolution started") }, zapcore.DebugLevel},
		{"info", func(l *ZapLogger) { l.Info("resolution started") }, zapcore.InfoLevel},
		{"warn", func(l *ZapLogger) { l.Warn("resolution started") }, zapcore.WarnLevel},
		{"error", func(l *ZapLogger) { l.Error("resolution started") }, zapcore.ErrorLevel},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			l, logs := newObservedZapLogger()
			test.log(l)

			entries := logs.All()
			require.Len(t, entries, 1)
			require.Equal(t, "resolution started", entries[0].Message)
			require.Equal(t, test.level, entries[0].Level)
			require.Empty(t, entries[0].ContextMap())
		})
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "panic", "fatal"} {
		t.Run(level, func(t *testing.T) {
			logger, err := NewLogger("json", level)
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}

	t.Run("none_is_noop", func(t *testing.T) {
		logger, err := NewLogger("json", "none")
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("unknown_level_errors", func(t *testing.T) {
		_, err := NewLogger("json", "loud")
		require.EqualError(t, err, "unknown log level: loud")
	})
}

func TestWithReturnsChild(t *testing.T) {
	l, logs := newObservedZapLogger()

	child := l.With(zap.String("source", "directory"))
	child.Info("resolved")
	l.Info("resolved")

	entries := logs.All()
	require.Len(t, entries, 2)

	// The child carries the field, the parent stays untouched.
	require.Equal(t, map[string]any{"source": "directory"}, entries[0].ContextMap())
	require.Empty(t, entries[1].ContextMap())
}
