package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestLoggerWritesJSONWithTabField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Config{Level: "info", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Component("runtime").Info("tab hibernated", Tab(7), zap.String("reason", "inactivity"))
	logger.Debug("hidden")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"message":"tab hibernated"`)
	assert.Contains(t, out, `"logger":"runtime"`)
	assert.Contains(t, out, `"tab_id":7`)
	assert.NotContains(t, out, "hidden")
}

func TestSetLevel(t *testing.T) {
	logger, err := New(Config{Level: "warn", OutputPaths: []string{filepath.Join(t.TempDir(), "x.log")}})
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, logger.Level())

	require.NoError(t, logger.SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, logger.Level())
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, logger.SetLevel("nope"))
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()
	logger.Info("discarded")
	assert.NoError(t, logger.Sync())
}
