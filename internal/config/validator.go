package config

import (
	"fmt"
	"strings"
)

var validProviders = map[string]bool{
	"gemini":    true,
	"openai":    true,
	"anthropic": true,
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Quiz.Email == "" {
		return fmt.Errorf("quiz email is required")
	}
	if !strings.Contains(c.Quiz.Email, "@") {
		return fmt.Errorf("quiz email %q is not an email address", c.Quiz.Email)
	}
	if c.Quiz.Secret == "" {
		return fmt.Errorf("quiz secret is required")
	}
	if c.Quiz.RetrySweeps < 0 {
		return fmt.Errorf("quiz retry_sweeps must not be negative")
	}

	enabled := c.EnabledProviders()
	if len(enabled) == 0 {
		return fmt.Errorf("at least one provider must be enabled")
	}
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if !validProviders[p.Name] {
			return fmt.Errorf("provider %s: unknown provider (must be: gemini, openai, anthropic)", p.Name)
		}
		if p.Enabled && p.Model == "" {
			return fmt.Errorf("provider %s: model is required when enabled", p.Name)
		}
	}

	if len(c.Credentials) == 0 {
		return fmt.Errorf("no credentials configured: at least one API key is required")
	}
	seen := make(map[string]bool)
	for i, cred := range c.Credentials {
		if cred.ID == "" {
			return fmt.Errorf("credential %d: id is required", i)
		}
		if seen[cred.ID] {
			return fmt.Errorf("credential %s: duplicate id", cred.ID)
		}
		seen[cred.ID] = true
		if cred.Provider == "" {
			return fmt.Errorf("credential %s: provider is required", cred.ID)
		}
		if !validProviders[cred.Provider] {
			return fmt.Errorf("credential %s: unknown provider %s", cred.ID, cred.Provider)
		}
		if cred.APIKey == "" {
			return fmt.Errorf("credential %s: api_key is required", cred.ID)
		}
	}

	// Every enabled provider needs at least one key to draw from.
	for _, p := range enabled {
		if len(c.CredentialsFor(p.Name)) == 0 {
			return fmt.Errorf("provider %s is enabled but has no credentials", p.Name)
		}
	}

	if c.Agent.StepLimit < 0 {
		return fmt.Errorf("agent step_limit must not be negative")
	}
	if c.Agent.ToolTimeout < 0 {
		return fmt.Errorf("agent tool_timeout must not be negative")
	}

	if c.Sessions.IdleTimeout < 0 {
		return fmt.Errorf("sessions idle_timeout must not be negative")
	}

	if c.Server.Enabled {
		if c.Server.Secret == "" {
			return fmt.Errorf("server secret is required when the server is enabled")
		}
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return fmt.Errorf("server port %d is out of range", c.Server.Port)
		}
	}

	if c.Logging.Level != "" && !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}

	return nil
}
