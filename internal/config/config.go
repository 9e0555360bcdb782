package config

import (
	"encoding/json"
)

// Config represents the main Quizora configuration.
type Config struct {
	// Quiz identity stamped on every submission
	Quiz QuizConfig `json:"quiz" mapstructure:"quiz"`

	// Providers, in fallback order
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`

	// Credentials across all providers
	Credentials []CredentialConfig `json:"credentials" mapstructure:"credentials"`

	// Agent loop limits
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Inbound HTTP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tool execution settings
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Transcript retention
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// QuizConfig holds the solver identity and chain retry policy.
type QuizConfig struct {
	Email       string `json:"email" mapstructure:"email"`
	Secret      string `json:"secret" mapstructure:"secret"`
	RetrySweeps int    `json:"retry_sweeps" mapstructure:"retry_sweeps"`
}

// ProviderConfig is one link of the model fallback chain.
type ProviderConfig struct {
	Name        string  `json:"name" mapstructure:"name"` // gemini, openai, anthropic
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// CredentialConfig is one API key entry.
type CredentialConfig struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"` // lower = tried first
}

// AgentConfig bounds the agent loop.
type AgentConfig struct {
	StepLimit        int `json:"step_limit" mapstructure:"step_limit"` // decisions per question
	TransientRetries int `json:"transient_retries" mapstructure:"transient_retries"`
	ToolTimeout      int `json:"tool_timeout" mapstructure:"tool_timeout"` // seconds
	RequestsPerKey   int `json:"requests_per_key" mapstructure:"requests_per_key"`
}

// ServerConfig holds the inbound server configuration.
type ServerConfig struct {
	Enabled            bool   `json:"enabled" mapstructure:"enabled"`
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	Secret             string `json:"secret" mapstructure:"secret"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
}

// ToolsConfig holds per-tool settings.
type ToolsConfig struct {
	ChromePath  string   `json:"chrome_path" mapstructure:"chrome_path"`
	NoBrowser   bool     `json:"no_browser" mapstructure:"no_browser"`
	PythonPath  string   `json:"python_path" mapstructure:"python_path"`
	ExecTimeout int      `json:"exec_timeout" mapstructure:"exec_timeout"` // seconds
	DownloadDir string   `json:"download_dir" mapstructure:"download_dir"`
	Disabled    []string `json:"disabled" mapstructure:"disabled"`
}

// SessionsConfig controls how long idle episode transcripts stay live
// before the sweep archives them.
type SessionsConfig struct {
	IdleTimeout   int    `json:"idle_timeout" mapstructure:"idle_timeout"` // minutes
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Quiz: QuizConfig{
			RetrySweeps: 2,
		},
		Providers: []ProviderConfig{
			{Name: "gemini", Enabled: true, Model: "gemini-2.5-flash", Temperature: 0.2},
			{Name: "openai", Enabled: true, Model: "gpt-4o-mini", Temperature: 0.2},
		},
		Credentials: []CredentialConfig{},
		Agent: AgentConfig{
			StepLimit:        15,
			TransientRetries: 1,
			ToolTimeout:      60,
			RequestsPerKey:   15,
		},
		Server: ServerConfig{
			Enabled:            false,
			Host:               "0.0.0.0",
			Port:               3001,
			RateLimitPerMinute: 100,
		},
		Tools: ToolsConfig{
			ExecTimeout: 90,
		},
		Sessions: SessionsConfig{
			IdleTimeout:   30,
			SweepSchedule: "*/5 * * * *",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// EnabledProviders returns the fallback chain in configured order, with
// disabled providers filtered out.
func (c *Config) EnabledProviders() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// CredentialsFor returns the credentials of one provider.
func (c *Config) CredentialsFor(provider string) []CredentialConfig {
	var out []CredentialConfig
	for _, cred := range c.Credentials {
		if cred.Provider == provider {
			out = append(out, cred)
		}
	}
	return out
}
