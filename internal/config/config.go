package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Storage    StorageConfig
	Verify     VerifyConfig
	Completion CompletionConfig
	Notify     NotifyConfig
}

type ServerConfig struct {
	Bind       string
	Port       int
	AdminToken string
	// MaxConnections caps concurrently served connections. Zero means
	// unlimited.
	MaxConnections int
}

type LogConfig struct {
	Level string
}

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendSupabase = "supabase"
	BackendNone     = "none"
)

type StorageConfig struct {
	Backend     string
	DataDir     string
	SupabaseURL string
	SupabaseKey string
}

type VerifyConfig struct {
	Secret string
	URL    string
}

type CompletionConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

type NotifyConfig struct {
	SendGridAPIKey string
	From           string
	Subject        string
	BaseURL        string
	Product        string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Bind:           "127.0.0.1",
			Port:           8080,
			MaxConnections: 64,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			DataDir: defaultDataDir(),
		},
		Verify: VerifyConfig{
			URL: "https://www.google.com/recaptcha/api/siteverify",
		},
		Completion: CompletionConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 800,
		},
		Notify: NotifyConfig{
			Subject: "Your request results",
			BaseURL: "https://api.sendgrid.com/v3",
			Product: "Semiconductor-export-clarity",
		},
	}
}

// Load reads configuration from the TOML file at
// $XDG_CONFIG_HOME/clarity/config.toml, then applies CLARITY_* environment
// variable overrides. Secrets (API keys, verification secret, admin token)
// are only read from the environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigurationError reports a configuration value that prevents a
// component from being constructed.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Key, e.Reason)
}

// Validate checks that every enabled component has the settings it needs.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.DataDir == "" {
			return &ConfigurationError{Key: "storage.data_dir", Reason: "required for the sqlite backend"}
		}
	case BackendSupabase:
		if c.Storage.SupabaseURL == "" {
			return &ConfigurationError{Key: "storage.supabase_url", Reason: "required for the supabase backend (CLARITY_SUPABASE_URL)"}
		}
		if c.Storage.SupabaseKey == "" {
			return &ConfigurationError{Key: "storage.supabase_key", Reason: "required for the supabase backend (CLARITY_SUPABASE_SERVICE_KEY)"}
		}
	case BackendNone:
	default:
		return &ConfigurationError{Key: "storage.backend", Reason: fmt.Sprintf("unknown backend %q", c.Storage.Backend)}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &ConfigurationError{Key: "server.port", Reason: fmt.Sprintf("port %d out of range", c.Server.Port)}
	}
	if c.Server.MaxConnections < 0 {
		return &ConfigurationError{Key: "server.max_connections", Reason: "must not be negative"}
	}
	if c.Completion.MaxTokens <= 0 {
		return &ConfigurationError{Key: "completion.max_tokens", Reason: "must be positive"}
	}
	return nil
}
