package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/suture-cli/internal/config"
)

// syncBuffer adapts bytes.Buffer to zapcore.WriteSyncer.
type syncBuffer struct {
	bytes.Buffer
}

func (b *syncBuffer) Sync() error { return nil }

func TestInitializeConsoleFormat(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf syncBuffer
	Initialize(config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "suture-test",
	}, zapcore.Lock(&buf))

	GetLogger().Info("repair loop started")
	Sync()

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "repair loop started")
	assert.Contains(t, out, colorGreen, "info level should be colorized")
	assert.Contains(t, out, "suture-test.")
}

func TestInitializeJSONFileSink(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logFile := filepath.Join(t.TempDir(), "suture.log")
	var buf syncBuffer
	Initialize(config.LoggerConfig{
		Level:       "info",
		Format:      "json",
		ServiceName: "suture-test",
		LogFile:     logFile,
		MaxSizeMB:   1,
	}, zapcore.Lock(&buf))

	GetLogger().Warn("stagnation detected")
	Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, `"level":"WARN"`)
	assert.Contains(t, line, `"stagnation detected"`)
	assert.True(t, strings.HasPrefix(line, "{"), "file sink must be JSON")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf syncBuffer
	Initialize(config.LoggerConfig{Level: "shouting", Format: "console", ServiceName: "s"}, zapcore.Lock(&buf))

	GetLogger().Debug("invisible")
	GetLogger().Info("visible")
	Sync()

	out := buf.String()
	assert.NotContains(t, out, "invisible")
	assert.Contains(t, out, "visible")
}

func TestInitializeRunsOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var first, second syncBuffer
	Initialize(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "one"}, zapcore.Lock(&first))
	Initialize(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "two"}, zapcore.Lock(&second))

	GetLogger().Info("routed")
	Sync()

	assert.Contains(t, first.String(), "routed")
	assert.Empty(t, second.String(), "second Initialize must be a no-op")
}

func TestGetLoggerBeforeInitialization(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	// Must be safe to use without panicking.
	logger.Info("pre-init message")
}
