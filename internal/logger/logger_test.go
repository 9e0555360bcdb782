package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should create a logger with defaults", func(t *testing.T) {
		l, err := New(Config{Level: "info"})
		require.NoError(t, err)
		defer l.Close()
		assert.NotNil(t, l.GetZerolog())
	})

	t.Run("should fall back to info on an unknown level", func(t *testing.T) {
		l, err := New(Config{Level: "nonsense"})
		require.NoError(t, err)
		defer l.Close()
		assert.Equal(t, "info", l.GetZerolog().GetLevel().String())
	})

	t.Run("should write json lines to the log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "quizora.log")
		l, err := New(Config{Level: "debug", File: path})
		require.NoError(t, err)

		l.Info().Str("chain", "https://quiz.test/start").Msg("Starting quiz chain")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &entry))
		assert.Equal(t, "Starting quiz chain", entry["message"])
		assert.Equal(t, "https://quiz.test/start", entry["chain"])
		assert.Equal(t, "info", entry["level"])
	})

	t.Run("should redact secrets in log output when enabled", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "quizora.log")
		l, err := New(Config{Level: "info", File: path, Redaction: true})
		require.NoError(t, err)

		l.Info().Str("key", "sk-abcdefghijklmnopqrstuvwxyz123456").Msg("Provider configured")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "[REDACTED]")
		assert.NotContains(t, string(data), "sk-abcdefghijklmnopqrstuvwxyz123456")
	})

	t.Run("should suppress entries below the configured level", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "quizora.log")
		l, err := New(Config{Level: "warn", File: path})
		require.NoError(t, err)

		l.Info().Msg("quiet")
		l.Warn().Msg("loud")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "quiet")
		assert.Contains(t, string(data), "loud")
	})

	t.Run("should tolerate close without a file sink", func(t *testing.T) {
		l, err := New(Config{Level: "info"})
		require.NoError(t, err)
		assert.NoError(t, l.Close())
	})
}

func TestDefaultConfig(t *testing.T) {
	t.Run("should enable console, redaction and rotation", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.Equal(t, "info", cfg.Level)
		assert.True(t, cfg.Console)
		assert.True(t, cfg.Redaction)
		assert.Equal(t, 100, cfg.MaxSize)
		assert.Equal(t, 7, cfg.MaxAge)
	})
}
