package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func writeConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestWatcher(t *testing.T) {
	t.Run("should require a loader and a callback", func(t *testing.T) {
		_, err := NewWatcher(nil, func(*Config) {}, testLogger())
		assert.ErrorContains(t, err, "loader is required")

		_, err = NewWatcher(NewLoader(""), nil, testLogger())
		assert.ErrorContains(t, err, "callback is required")
	})

	t.Run("should fire the callback when the config changes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "quizora.json")
		writeConfig(t, path, validConfig())

		reloaded := make(chan *Config, 4)
		w, err := NewWatcher(NewLoader(path), func(cfg *Config) { reloaded <- cfg }, testLogger())
		require.NoError(t, err)
		require.NoError(t, w.Start())
		defer w.Stop()

		updated := validConfig()
		updated.Credentials = append(updated.Credentials, CredentialConfig{
			ID: "gem-2", Provider: "gemini", APIKey: "key-new", Priority: 1,
		})
		writeConfig(t, path, updated)

		select {
		case cfg := <-reloaded:
			assert.Len(t, cfg.Credentials, 3)
		case <-time.After(3 * time.Second):
			t.Fatal("reload callback never fired")
		}
	})

	t.Run("should swallow invalid config changes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "quizora.json")
		writeConfig(t, path, validConfig())

		reloaded := make(chan *Config, 4)
		w, err := NewWatcher(NewLoader(path), func(cfg *Config) { reloaded <- cfg }, testLogger())
		require.NoError(t, err)
		require.NoError(t, w.Start())
		defer w.Stop()

		broken := validConfig()
		broken.Credentials = nil
		writeConfig(t, path, broken)

		select {
		case <-reloaded:
			t.Fatal("invalid config should not reach the callback")
		case <-time.After(700 * time.Millisecond):
		}
	})

	t.Run("should ignore unrelated files in the directory", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "quizora.json")
		writeConfig(t, path, validConfig())

		reloaded := make(chan *Config, 4)
		w, err := NewWatcher(NewLoader(path), func(cfg *Config) { reloaded <- cfg }, testLogger())
		require.NoError(t, err)
		require.NoError(t, w.Start())
		defer w.Stop()

		require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644))

		select {
		case <-reloaded:
			t.Fatal("unrelated file should not trigger a reload")
		case <-time.After(700 * time.Millisecond):
		}
	})

	t.Run("should tolerate a double stop", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "quizora.json")
		writeConfig(t, path, validConfig())

		w, err := NewWatcher(NewLoader(path), func(*Config) {}, testLogger())
		require.NoError(t, err)
		require.NoError(t, w.Start())
		require.NoError(t, w.Stop())
		w.Stop()
	})
}
