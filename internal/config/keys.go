package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.bind", typ: kString, env: "CLARITY_SERVER_BIND",
		apply:   func(cfg *Config, v any) { cfg.Server.Bind = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Bind },
	},
	{
		key: "server.port", typ: kInt, env: "CLARITY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_connections", typ: kInt, env: "CLARITY_SERVER_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConnections },
	},
	{
		key: "server.admin_token", typ: kString, env: "CLARITY_ADMIN_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.AdminToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AdminToken },
	},
	{
		key: "log.level", typ: kString, env: "CLARITY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.backend", typ: kString, env: "CLARITY_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CLARITY_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.supabase_url", typ: kString, env: "CLARITY_SUPABASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Storage.SupabaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.SupabaseURL },
	},
	{
		key: "storage.supabase_key", typ: kString, env: "CLARITY_SUPABASE_SERVICE_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.SupabaseKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.SupabaseKey },
	},
	{
		key: "verify.secret", typ: kString, env: "CLARITY_RECAPTCHA_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Verify.Secret = v.(string) },
		extract: func(cfg Config) any { return cfg.Verify.Secret },
	},
	{
		key: "verify.url", typ: kString, env: "CLARITY_RECAPTCHA_URL",
		apply:   func(cfg *Config, v any) { cfg.Verify.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Verify.URL },
	},
	{
		key: "completion.api_key", typ: kString, env: "CLARITY_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Completion.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.APIKey },
	},
	{
		key: "completion.base_url", typ: kString, env: "CLARITY_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Completion.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.BaseURL },
	},
	{
		key: "completion.model", typ: kString, env: "CLARITY_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Completion.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.Model },
	},
	{
		key: "completion.max_tokens", typ: kInt, env: "CLARITY_OPENAI_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Completion.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Completion.MaxTokens },
	},
	{
		key: "notify.sendgrid_api_key", typ: kString, env: "CLARITY_SENDGRID_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Notify.SendGridAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.SendGridAPIKey },
	},
	{
		key: "notify.from", typ: kString, env: "CLARITY_SENDGRID_FROM",
		apply:   func(cfg *Config, v any) { cfg.Notify.From = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.From },
	},
	{
		key: "notify.subject", typ: kString, env: "CLARITY_EMAIL_SUBJECT",
		apply:   func(cfg *Config, v any) { cfg.Notify.Subject = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.Subject },
	},
	{
		key: "notify.base_url", typ: kString, env: "CLARITY_SENDGRID_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Notify.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.BaseURL },
	},
	{
		key: "notify.product", typ: kString, env: "CLARITY_PRODUCT_NAME",
		apply:   func(cfg *Config, v any) { cfg.Notify.Product = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.Product },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
