package cli

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizora/quizora/internal/config"
	"github.com/quizora/quizora/pkg/keypool"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Quiz.Email = "solver@example.com"
	cfg.Quiz.Secret = "s3cret"
	cfg.Credentials = []config.CredentialConfig{
		{ID: "gem-1", Provider: "gemini", APIKey: "key-a", Priority: 0},
		{ID: "oai-1", Provider: "openai", APIKey: "key-b", Priority: 0},
	}
	cfg.DataDir = t.TempDir()
	cfg.Logging.File = filepath.Join(cfg.DataDir, "quizora.log")
	cfg.Tools.NoBrowser = true
	return cfg
}

func TestBuildApp(t *testing.T) {
	t.Run("should wire the full stack from config", func(t *testing.T) {
		app, err := buildApp(testConfig(t), nil)
		require.NoError(t, err)
		defer app.Close()

		assert.NotNil(t, app.Driver)
		assert.NotNil(t, app.Store)
		assert.NotNil(t, app.Archiver)
		assert.Equal(t, 1, app.Pool.Size("gemini"))
		assert.Equal(t, 1, app.Pool.Size("openai"))

		names := app.Registry.Names()
		assert.Contains(t, names, "render_page")
		assert.Contains(t, names, "extract_context")
		assert.Contains(t, names, "run_code")
		assert.Contains(t, names, "download_file")
		assert.Contains(t, names, "analyze_image")
		assert.Contains(t, names, "create_chart")
		assert.Contains(t, names, "submit_answer")
		assert.Contains(t, names, "get_quiz_status")
	})

	t.Run("should leave disabled tools out of the registry", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Tools.Disabled = []string{"render_page", "create_chart"}

		app, err := buildApp(cfg, nil)
		require.NoError(t, err)
		defer app.Close()

		names := app.Registry.Names()
		assert.NotContains(t, names, "render_page")
		assert.NotContains(t, names, "create_chart")
		assert.Contains(t, names, "run_code")
	})

	t.Run("should keep one media tool when only the other is disabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Tools.Disabled = []string{"analyze_image"}

		app, err := buildApp(cfg, nil)
		require.NoError(t, err)
		defer app.Close()

		names := app.Registry.Names()
		assert.NotContains(t, names, "analyze_image")
		assert.Contains(t, names, "transcribe_audio")
	})
}

func TestProviderChain(t *testing.T) {
	t.Run("should keep configured order and skip disabled providers", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Providers[1].Enabled = false

		chain := providerChain(cfg)
		require.Len(t, chain, 1)
		assert.Equal(t, "gemini", chain[0].Name)
		assert.Equal(t, "gemini-2.5-flash", chain[0].Model)
	})
}

func TestPoolCredentials(t *testing.T) {
	t.Run("should convert config credentials", func(t *testing.T) {
		cfg := testConfig(t)
		creds := poolCredentials(cfg)
		require.Len(t, creds, 2)
		assert.Equal(t, "gem-1", creds[0].ID)
		assert.Equal(t, "gemini", creds[0].Provider)
		assert.Equal(t, "key-a", creds[0].APIKey)
	})
}

func TestBuildCatalog(t *testing.T) {
	t.Run("should share the scratch dir between downloads and code", func(t *testing.T) {
		cfg := testConfig(t)
		catalog, err := buildCatalog(cfg, mustPool(t, cfg), nil, zerolog.Nop())
		require.NoError(t, err)
		assert.NotNil(t, catalog.Downloader)
		assert.NotNil(t, catalog.Executor)
	})
}

func mustPool(t *testing.T, cfg *config.Config) *keypool.Pool {
	t.Helper()
	pool, err := keypool.New(poolCredentials(cfg))
	require.NoError(t, err)
	return pool
}
