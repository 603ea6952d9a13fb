package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreGlobal(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
}

func TestNew(t *testing.T) {
	t.Run("create logger with console output", func(t *testing.T) {
		restoreGlobal(t)
		var buf bytes.Buffer

		logger, err := New(Config{Level: "info", Console: true, Out: &buf})
		require.NoError(t, err)
		defer logger.Close()

		logger.Info().Msg("hello console")
		logger.Debug().Msg("hidden")
		assert.Contains(t, buf.String(), "hello console")
		assert.NotContains(t, buf.String(), "hidden")
	})

	t.Run("create logger with file output", func(t *testing.T) {
		restoreGlobal(t)
		logFile := filepath.Join(t.TempDir(), "logs", "test.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		logger.Info().Msg("test message")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "test message")
	})

	t.Run("rotating file output", func(t *testing.T) {
		restoreGlobal(t)
		logFile := filepath.Join(t.TempDir(), "test.log")

		logger, err := New(Config{Level: "info", File: logFile, MaxSize: 1, MaxBackups: 2})
		require.NoError(t, err)
		_, ok := logger.closer.(*RotatingWriter)
		assert.True(t, ok)
		require.NoError(t, logger.Close())
	})

	t.Run("create logger with redaction", func(t *testing.T) {
		restoreGlobal(t)
		var buf bytes.Buffer

		logger, err := New(Config{Level: "info", Console: true, Out: &buf, Redaction: true})
		require.NoError(t, err)
		assert.NotNil(t, logger.redactor)

		logger.Info().Str("api_key", "sk-abcdefghijklmnopqrstuvwxyz123456").Msg("calling provider")
		assert.NotContains(t, buf.String(), "sk-abcdefghijklmnopqrstuvwxyz123456")
		assert.Contains(t, buf.String(), "[REDACTED]")
	})

	t.Run("sets global logger", func(t *testing.T) {
		restoreGlobal(t)
		var buf bytes.Buffer

		_, err := New(Config{Level: "warn", Console: true, Out: &buf})
		require.NoError(t, err)

		log.Warn().Msg("through global")
		log.Info().Msg("below level")
		assert.Contains(t, buf.String(), "through global")
		assert.NotContains(t, buf.String(), "below level")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		restoreGlobal(t)
		logger, err := New(Config{Level: "chatty"})
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, logger.Zerolog().GetLevel())
	})
}

func TestLoggerWith(t *testing.T) {
	restoreGlobal(t)
	var buf bytes.Buffer

	logger, err := New(Config{Level: "debug", Console: true, Out: &buf})
	require.NoError(t, err)

	child := logger.With().Str("session", "r2d2").Logger()
	child.Info().Msg("child message")
	assert.Contains(t, buf.String(), `"session":"r2d2"`)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 3, cfg.MaxBackups)
	assert.True(t, cfg.Compress)
}
