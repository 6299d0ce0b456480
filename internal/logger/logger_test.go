package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console only", func(t *testing.T) {
		logger, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		require.NotNil(t, logger)
		assert.NoError(t, logger.Close())
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "lynx.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		logger.Info().Str("tool", "vpm.domain.vendor.read").Msg("tool registered")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "vpm.domain.vendor.read")
	})

	t.Run("creates missing log directory", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nested", "dir", "lynx.log")

		logger, err := New(Config{Level: "info", File: logFile})
		require.NoError(t, err)
		logger.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "lynx.log")

		logger, err := New(Config{Level: "chatty", File: logFile})
		require.NoError(t, err)

		logger.Debug().Msg("should be suppressed")
		logger.Info().Msg("should be written")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "suppressed")
		assert.Contains(t, string(data), "should be written")
	})

	t.Run("redaction scrubs file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "lynx.log")

		logger, err := New(Config{Level: "info", File: logFile, Redaction: true})
		require.NoError(t, err)
		require.NotNil(t, logger.redactor)

		logger.Info().Msg("using key sk-ant-REDACTED")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "sk-ant-api03")
		assert.Contains(t, string(data), "[REDACTED]")
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Empty(t, cfg.File)
}

func TestWithChildLogger(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "lynx.log")

	logger, err := New(Config{Level: "info", File: logFile})
	require.NoError(t, err)

	child := logger.With().Str("tenant_id", "tenant-1").Logger()
	child.Info().Msg("scoped line")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, "tenant-1") && strings.Contains(line, "scoped line"))
}
