package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quizora/quizora/internal/config"
	"github.com/quizora/quizora/pkg/keypool"
	"github.com/quizora/quizora/pkg/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inbound HTTP server",
	Long: `Run the HTTP server that accepts solve triggers on POST /quiz and
streams progress over /ws/progress. The config file is watched; credential
changes apply without a restart.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Server.Enabled {
		return fmt.Errorf("server is disabled in the configuration")
	}

	app, err := buildApp(cfg, nil)
	if err != nil {
		return err
	}
	defer app.Close()
	zl := app.Log.GetZerolog()

	broadcaster := webhook.NewBroadcaster(zl)
	app.Driver.SetNotifier(broadcaster)

	server, err := webhook.NewServer(webhook.ServerOptions{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		Secret:             cfg.Server.Secret,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
	}, app.Driver, broadcaster, zl)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Idle transcripts are swept into the archive while the server runs.
	if err := app.Archiver.Start(); err != nil {
		zl.Warn().Err(err).Msg("Session archiver failed to start, continuing without sweeps")
	} else {
		defer app.Archiver.Stop()
	}

	// Reload credentials into the running pool on config change.
	watcher, err := config.NewWatcher(config.NewLoader(cfgFile), func(next *config.Config) {
		creds := make([]keypool.Credential, 0, len(next.Credentials))
		for _, c := range next.Credentials {
			creds = append(creds, keypool.Credential{
				ID:       c.ID,
				Provider: c.Provider,
				APIKey:   c.APIKey,
				Priority: c.Priority,
			})
		}
		if err := app.Pool.Replace(creds); err != nil {
			zl.Warn().Err(err).Msg("Failed to apply reloaded credentials")
			return
		}
		zl.Info().Int("credentials", len(creds)).Msg("Credentials reloaded")
	}, zl)
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Start(); err != nil {
		zl.Warn().Err(err).Msg("Config watcher failed to start, continuing without reloads")
	} else {
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zl.Info().Str("signal", sig.String()).Msg("Shutting down")
		return server.Stop()
	case err := <-errCh:
		return err
	}
}
