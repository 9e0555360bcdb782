package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/quizora/quizora/internal/config"
	"github.com/quizora/quizora/internal/logger"
	"github.com/quizora/quizora/pkg/agent"
	"github.com/quizora/quizora/pkg/keypool"
	"github.com/quizora/quizora/pkg/quiz"
	"github.com/quizora/quizora/pkg/session"
	"github.com/quizora/quizora/pkg/toolkit"
)

// App bundles the assembled solver stack.
type App struct {
	Config    *config.Config
	Log       *logger.Logger
	Pool      *keypool.Pool
	Registry  *toolkit.Registry
	Charter   *toolkit.Charter
	Tracker   *quiz.Tracker
	Submitter *quiz.Submitter
	Store     *quiz.Store
	Driver    *quiz.Driver
	Archiver  *session.Archiver
}

// Close releases the app's resources.
func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Log != nil {
		a.Log.Close()
	}
}

// loadConfig loads and validates the config honoring global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildApp wires the full stack from config. The notifier may be nil.
func buildApp(cfg *config.Config, notifier quiz.Notifier) (*App, error) {
	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	zl := log.GetZerolog()

	pool, err := keypool.New(poolCredentials(cfg))
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create credential pool: %w", err)
	}

	invoker, err := agent.NewInvoker(agent.InvokerConfig{
		Pool:             pool,
		Chain:            providerChain(cfg),
		Logger:           zl,
		TransientRetries: cfg.Agent.TransientRetries,
		RequestsPerKey:   cfg.Agent.RequestsPerKey,
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create invoker: %w", err)
	}

	registry := toolkit.NewRegistry()
	charter := toolkit.NewCharter(zl)
	catalog, err := buildCatalog(cfg, pool, charter, zl)
	if err != nil {
		log.Close()
		return nil, err
	}
	if err := catalog.RegisterAll(registry); err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	tracker := quiz.NewTracker()
	identity := quiz.Identity{Email: cfg.Quiz.Email, Secret: cfg.Quiz.Secret}
	submitter := quiz.NewSubmitter(identity, tracker, charter, nil, zl)
	if err := quiz.RegisterQuizTools(registry, submitter); err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to register quiz tools: %w", err)
	}

	sessions, err := session.New(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}
	archiver := session.NewArchiver(sessions,
		time.Duration(cfg.Sessions.IdleTimeout)*time.Minute,
		cfg.Sessions.SweepSchedule)

	loop, err := agent.NewLoop(agent.LoopConfig{
		Invoker:     invoker,
		Registry:    registry,
		Sessions:    sessions,
		Logger:      zl,
		StepLimit:   cfg.Agent.StepLimit,
		ToolTimeout: time.Duration(cfg.Agent.ToolTimeout) * time.Second,
		Progress:    quiz.ChainProgress,
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create agent loop: %w", err)
	}

	store, err := quiz.NewStore(filepath.Join(cfg.DataDir, "results.db"))
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open results store: %w", err)
	}

	driver, err := quiz.NewDriver(quiz.DriverConfig{
		Loop:        loop,
		Tracker:     tracker,
		Submitter:   submitter,
		Charter:     charter,
		Store:       store,
		Notifier:    notifier,
		Pool:        pool,
		Identity:    identity,
		Logger:      zl,
		RetrySweeps: cfg.Quiz.RetrySweeps,
	})
	if err != nil {
		store.Close()
		log.Close()
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	return &App{
		Config:    cfg,
		Log:       log,
		Pool:      pool,
		Registry:  registry,
		Charter:   charter,
		Tracker:   tracker,
		Submitter: submitter,
		Store:     store,
		Driver:    driver,
		Archiver:  archiver,
	}, nil
}

// buildCatalog assembles the tool catalog, leaving out disabled tools.
func buildCatalog(cfg *config.Config, pool *keypool.Pool, charter *toolkit.Charter, zl zerolog.Logger) (*toolkit.Catalog, error) {
	disabled := make(map[string]bool, len(cfg.Tools.Disabled))
	for _, name := range cfg.Tools.Disabled {
		disabled[name] = true
	}

	httpClient := resty.New().SetTimeout(30 * time.Second)

	scratch := cfg.Tools.DownloadDir
	if scratch == "" {
		scratch = filepath.Join(cfg.DataDir, "workdir")
	}

	catalog := &toolkit.Catalog{}

	if !disabled["render_page"] {
		catalog.Renderer = toolkit.NewRenderer(toolkit.RendererConfig{
			Logger:     zl,
			HTTPClient: httpClient,
			ChromePath: cfg.Tools.ChromePath,
			NoBrowser:  cfg.Tools.NoBrowser,
		})
	}
	if !disabled["extract_context"] {
		catalog.Extractor = toolkit.NewExtractor(httpClient, zl)
	}
	if !disabled["run_code"] {
		executor, err := toolkit.NewExecutor(toolkit.ExecutorConfig{
			WorkDir:    scratch,
			PythonPath: cfg.Tools.PythonPath,
			Timeout:    time.Duration(cfg.Tools.ExecTimeout) * time.Second,
			Logger:     zl,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create code executor: %w", err)
		}
		catalog.Executor = executor
	}

	var downloader *toolkit.Downloader
	if !disabled["download_file"] {
		// Downloads land in the code executor's working directory so
		// scripts can reference them by bare filename.
		downloader = toolkit.NewDownloader(scratch, httpClient, zl)
		catalog.Downloader = downloader
	}
	if !disabled["analyze_image"] || !disabled["transcribe_audio"] {
		catalog.Media = toolkit.NewMediaAnalyzer(pool, "gemini", downloader, zl)
		catalog.NoImageAnalysis = disabled["analyze_image"]
		catalog.NoTranscription = disabled["transcribe_audio"]
	}
	if !disabled["create_chart"] {
		catalog.Charter = charter
	}

	return catalog, nil
}

func poolCredentials(cfg *config.Config) []keypool.Credential {
	creds := make([]keypool.Credential, 0, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		creds = append(creds, keypool.Credential{
			ID:       c.ID,
			Provider: c.Provider,
			APIKey:   c.APIKey,
			Priority: c.Priority,
		})
	}
	return creds
}

func providerChain(cfg *config.Config) []agent.ProviderSpec {
	enabled := cfg.EnabledProviders()
	chain := make([]agent.ProviderSpec, 0, len(enabled))
	for _, p := range enabled {
		chain = append(chain, agent.ProviderSpec{
			Name:        p.Name,
			Model:       p.Model,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
		})
	}
	return chain
}
