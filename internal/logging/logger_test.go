package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONWithServiceNameWhenFormatIsJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.Output = &buf

	logger := New(cfg)
	logger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "specsyncd", entry["service"])
	assert.Equal(t, "hello", entry["message"])
}

func TestNewFallsBackToInfoLevelOnUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.Level = "not-a-level"
	cfg.Output = &buf

	logger := New(cfg)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestNewSuppressesDebugWhenLevelIsWarn(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.Level = "warn"
	cfg.Output = &buf

	logger := New(cfg)
	logger.Debug().Msg("should not appear")
	assert.Empty(t, buf.Bytes())

	logger.Warn().Msg("should appear")
	assert.NotEmpty(t, buf.Bytes())
}

func TestNewDefaultsOutputToStderrWhenNil(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = "json"
	assert.NotPanics(t, func() {
		New(cfg).Info().Msg("noop")
	})
}
