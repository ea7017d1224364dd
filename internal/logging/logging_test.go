package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-uplink/internal/config"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "uploader").Msg("visible")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "uploader", entry["component"])
	assert.Equal(t, "visible", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "debug", Format: "console"}, &buf)
	require.NoError(t, err)

	logger.Debug().Msg("polling")
	assert.Contains(t, buf.String(), "polling")
	assert.Contains(t, buf.String(), "DBG")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)
}
