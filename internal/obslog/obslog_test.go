package obslog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewJSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: zapcore.InfoLevel, Console: true, Format: "json", Stdout: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("engine_session_start", zap.String("session_id", "abc"))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "engine_session_start", entry["msg"])
	assert.Equal(t, "abc", entry["session_id"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "analysisd.log")
	logger, err := New(Options{Level: zapcore.DebugLevel, File: path, Format: "legacy"})
	require.NoError(t, err)

	logger.Warn("engine_stop_error")
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "WARN | ")
	assert.Contains(t, string(raw), "engine_stop_error")
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warning")
	t.Setenv("LOG_TO_FILE", "false")
	t.Setenv("LOG_FORMAT", "yaml")

	opts := OptionsFromEnv()
	assert.Equal(t, zapcore.WarnLevel, opts.Level)
	assert.Empty(t, opts.File)
	assert.Equal(t, "legacy", opts.Format)
	assert.True(t, opts.Console)
}

func TestInitFromEnvReplacesGlobal(t *testing.T) {
	prev := globalLogger
	t.Cleanup(func() { globalLogger = prev })

	require.NotNil(t, L())
	t.Setenv("LOG_TO_FILE", "false")
	t.Setenv("LOG_LEVEL", "error")

	require.NoError(t, InitFromEnv())
	assert.NotSame(t, prev, L())
	assert.False(t, L().Core().Enabled(zapcore.WarnLevel))
	assert.True(t, L().Core().Enabled(zapcore.ErrorLevel))
}
