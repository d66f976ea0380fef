package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestFromZapWithFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core)).With(String("component", "scheduler"))

	log.Info("schedule armed", String("schedule_id", "s1"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "schedule armed", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "scheduler", fields["component"])
	assert.Equal(t, "s1", fields["schedule_id"])
}

func TestNewBuildsLogger(t *testing.T) {
	log, err := New(Config{Level: "debug", Development: true, OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	log.Debug("hello")
}

func TestNopLogger(t *testing.T) {
	log := NewNop().With(String("k", "v"))
	log.Error("ignored")
	assert.NoError(t, log.Sync())
}
