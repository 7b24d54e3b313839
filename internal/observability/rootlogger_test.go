package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseloom/caseloom/internal/config"
)

func TestNewRootLoggerHonorsFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, level := NewRootLogger(config.MonitoringLogging{
		Level:  config.LogLevelDebug,
		Format: config.LogFormatJSON,
	}, &buf)

	logger.Debug("catalog opened")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "catalog opened", line["msg"])
	assert.Equal(t, "DEBUG", line["level"])

	// Raising the shared level var silences derived loggers too.
	buf.Reset()
	level.Set(slog.LevelWarn)
	logger.With("component", "janitor").Info("suppressed")
	assert.Zero(t, buf.Len())
}

func TestNewRootLoggerDefaultsToTextAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewRootLogger(config.MonitoringLogging{}, &buf)

	logger.Debug("hidden")
	logger.Info("workspace ready")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `msg="workspace ready"`)
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestSlogLevelMapping(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, SlogLevel(config.LogLevelDebug))
	assert.Equal(t, slog.LevelInfo, SlogLevel(config.LogLevelInfo))
	assert.Equal(t, slog.LevelWarn, SlogLevel(config.LogLevelWarn))
	assert.Equal(t, slog.LevelError, SlogLevel(config.LogLevelError))
	assert.Equal(t, slog.LevelInfo, SlogLevel("verbose"), "unknown levels fall back to info")
}
