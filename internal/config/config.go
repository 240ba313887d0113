// Package config loads the easel configuration: defaults, then the
// TOML file, then environment variables (env wins).
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Backend  BackendConfig  `toml:"backend"`
	LLM      LLMConfig      `toml:"llm"`
	Agent    AgentConfig    `toml:"agent"`
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
	Web      WebConfig      `toml:"web"`
	Identity IdentityConfig `toml:"identity"`
}

type BackendConfig struct {
	BaseURL string `toml:"base_url"`
	WSURL   string `toml:"ws_url"`
	Timeout int    `toml:"timeout"` // seconds
}

type LLMConfig struct {
	Provider         string  `toml:"provider"`
	Model            string  `toml:"model"`
	MaxTokens        int     `toml:"max_tokens"`
	Temperature      float64 `toml:"temperature"`
	APIKey           string  `toml:"api_key"`
	BaseURL          string  `toml:"base_url"`
	MaxRetries       int     `toml:"max_retries"`
	RetryBaseDelayMS int     `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS  int     `toml:"retry_max_delay_ms"`
}

// ResolveAPIKey falls back to the provider's conventional env var.
func (c LLMConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

type AgentConfig struct {
	MaxIterations int    `toml:"max_iterations"`
	SessionDB     string `toml:"session_db"`
	ContextBudget int    `toml:"context_budget"` // 0 = auto from model
}

type ServerConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console or json
	OTel   bool   `toml:"otel"`   // enable OTLP trace/metric export
}

type WebConfig struct {
	TavilyAPIKey string `toml:"tavily_api_key"`
	Timeout      int    `toml:"timeout"` // seconds
}

// ResolveTavilyKey falls back to the TAVILY_API_KEY env var.
func (c WebConfig) ResolveTavilyKey() string {
	if c.TavilyAPIKey != "" {
		return c.TavilyAPIKey
	}
	return os.Getenv("TAVILY_API_KEY")
}

type IdentityConfig struct {
	RolexDir string `toml:"rolex_dir"`
	RoleName string `toml:"role_name"` // empty = skip identity loading
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL: "http://127.0.0.1:6006",
			WSURL:   "ws://127.0.0.1:6006/ws",
			Timeout: 30,
		},
		LLM: LLMConfig{
			Provider:         "anthropic",
			Model:            "claude-sonnet-4-5-20250929",
			MaxTokens:        8192,
			Temperature:      0.7,
			MaxRetries:       5,
			RetryBaseDelayMS: 2000,
			RetryMaxDelayMS:  60000,
		},
		Agent: AgentConfig{
			MaxIterations: 20,
			SessionDB:     "data/sessions.db",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        5200,
			CORSOrigins: []string{"*"},
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Web:     WebConfig{Timeout: 30},
		Identity: IdentityConfig{
			RolexDir: "~/.rolex",
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars.
func Load(path string) Config {
	cfg := Default()
	if path == "" {
		path = "easel.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("EASEL_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("EASEL_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("EASEL_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("EASEL_BACKEND_WS_URL"); v != "" {
		cfg.Backend.WSURL = v
	}
	if v := os.Getenv("EASEL_SESSION_DB"); v != "" {
		cfg.Agent.SessionDB = v
	}
	if v := os.Getenv("EASEL_TAVILY_API_KEY"); v != "" {
		cfg.Web.TavilyAPIKey = v
	}
	return cfg
}

// Save writes the config back to the TOML file. Used by the config API
// to persist updates.
func Save(path string, cfg Config) error {
	if path == "" {
		path = "easel.toml"
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
