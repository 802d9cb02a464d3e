package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestToZap(t *testing.T) {
	base := NewTestLogger()
	zapLogger := ToZap(base)
	assert.NotNil(t, zapLogger)

	zapLogger.Info("test message", zap.String("key", "value"))
	zapLogger.Debug("debug message", zap.Int("count", 42))
	zapLogger.Warn("warning message")
	zapLogger.Error("error message", zap.Bool("flag", true))

	entries := base.Entries()
	if assert.Len(t, entries, 4) {
		assert.Equal(t, "INFO", entries[0].Severity)
		assert.Equal(t, "test message", entries[0].String())
		assert.Equal(t, "value", entries[0].Metadata["key"])
		assert.Equal(t, int64(42), entries[1].Metadata["count"])
		assert.Equal(t, "WARNING", entries[2].Severity)
		assert.Equal(t, "ERROR", entries[3].Severity)
	}
}

func TestZapBridgeWith(t *testing.T) {
	base := NewTestLogger()
	child := ToZap(base).With(zap.String("component", "test"))
	child.Info("child logger message")

	entries := base.Entries()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "test", entries[0].Metadata["component"])
	}
}
