package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadFromPath(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

// clearEnv blanks every CLARITY_* variable the loader consults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `# empty config`)

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("Server.Bind = %q, want %q", cfg.Server.Bind, "127.0.0.1")
	}
	if cfg.Storage.Backend != BackendSQLite {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, BackendSQLite)
	}
	if cfg.Completion.Model != "gpt-4o-mini" {
		t.Errorf("Completion.Model = %q, want %q", cfg.Completion.Model, "gpt-4o-mini")
	}
	if cfg.Completion.MaxTokens != 800 {
		t.Errorf("Completion.MaxTokens = %d, want 800", cfg.Completion.MaxTokens)
	}
	if cfg.Notify.Subject != "Your request results" {
		t.Errorf("Notify.Subject = %q", cfg.Notify.Subject)
	}
	if cfg.Verify.Secret != "" {
		t.Errorf("Verify.Secret = %q, want empty", cfg.Verify.Secret)
	}
	if cfg.Server.MaxConnections != 64 {
		t.Errorf("Server.MaxConnections = %d, want 64", cfg.Server.MaxConnections)
	}
}

// TestTOMLParsing verifies that nested TOML tables map onto dotted keys.
func TestTOMLParsing(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
[server]
bind = "0.0.0.0"
port = 5000

[storage]
backend = "sqlite"
data_dir = "/tmp/clarity-test"

[completion]
model = "gpt-4o"
max_tokens = 400

[notify]
from = "noreply@example.com"
subject = "Results"
`)

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Server.Bind != "0.0.0.0" {
		t.Errorf("Server.Bind = %q", cfg.Server.Bind)
	}
	if cfg.Storage.DataDir != "/tmp/clarity-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Completion.Model != "gpt-4o" {
		t.Errorf("Completion.Model = %q", cfg.Completion.Model)
	}
	if cfg.Completion.MaxTokens != 400 {
		t.Errorf("Completion.MaxTokens = %d", cfg.Completion.MaxTokens)
	}
	if cfg.Notify.From != "noreply@example.com" {
		t.Errorf("Notify.From = %q", cfg.Notify.From)
	}
	if cfg.Notify.Subject != "Results" {
		t.Errorf("Notify.Subject = %q", cfg.Notify.Subject)
	}
}

// TestEnvOverride verifies that environment variables override file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `[completion]
model = "file-model"
`)

	t.Setenv("CLARITY_OPENAI_MODEL", "env-model")
	t.Setenv("CLARITY_OPENAI_API_KEY", "sk-env")
	t.Setenv("CLARITY_SERVER_PORT", "9090")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Completion.Model != "env-model" {
		t.Errorf("Completion.Model = %q, want %q", cfg.Completion.Model, "env-model")
	}
	if cfg.Completion.APIKey != "sk-env" {
		t.Errorf("Completion.APIKey = %q, want %q", cfg.Completion.APIKey, "sk-env")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
}

// TestSecretsIgnoredInFile verifies secrets are only accepted from the environment.
func TestSecretsIgnoredInFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `[verify]
secret = "from-file"
`)

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Verify.Secret != "" {
		t.Errorf("Verify.Secret = %q, want empty", cfg.Verify.Secret)
	}
}

func TestSupabaseBackendRequiresCredentials(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `[storage]
backend = "supabase"
supabase_url = "https://project.supabase.co"
`)

	_, err := loadFromPath(path)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigurationError", err)
	}
	if cfgErr.Key != "storage.supabase_key" {
		t.Errorf("Key = %q, want storage.supabase_key", cfgErr.Key)
	}

	t.Setenv("CLARITY_SUPABASE_SERVICE_KEY", "service-role")
	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.SupabaseKey != "service-role" {
		t.Errorf("SupabaseKey = %q", cfg.Storage.SupabaseKey)
	}
}

func TestUnknownBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLARITY_STORAGE_BACKEND", "Mongo")
	path := writeTempConfig(t, ``)

	_, err := loadFromPath(path)
	if err == nil || !strings.Contains(err.Error(), `unknown backend "mongo"`) {
		t.Errorf("error = %v, want unknown backend", err)
	}
}

func TestNegativeMaxConnections(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLARITY_SERVER_MAX_CONNECTIONS", "-1")
	path := writeTempConfig(t, ``)

	_, err := loadFromPath(path)
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) || cerr.Key != "server.max_connections" {
		t.Errorf("error = %v, want ConfigurationError for server.max_connections", err)
	}
}

func TestSetKey_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "clarity", "config.toml")

	if err := setKeyWith(newFileBackend(path), "server.port", "9100"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if err := setKeyWith(newFileBackend(path), "completion.model", "gpt-4.1"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Completion.Model != "gpt-4.1" {
		t.Errorf("Completion.Model = %q, want gpt-4.1", cfg.Completion.Model)
	}
}

// TestSetKey_StaleBackends verifies that writers holding stale snapshots of
// the file do not drop each other's keys.
func TestSetKey_StaleBackends(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "clarity", "config.toml")

	keys := []struct{ key, value string }{
		{"server.bind", "0.0.0.0"},
		{"completion.model", "gpt-4.1"},
		{"notify.product", "Clarity"},
		{"log.level", "debug"},
	}
	backends := make([]*fileBackend, len(keys))
	for i := range keys {
		backends[i] = newFileBackend(path)
	}

	var wg sync.WaitGroup
	for i, kv := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := setKeyWith(backends[i], kv.key, kv.value); err != nil {
				t.Errorf("setKeyWith(%s): %v", kv.key, err)
			}
		}()
	}
	wg.Wait()

	got := newFileBackend(path)
	for _, kv := range keys {
		v, ok, err := got.GetString(kv.key)
		if err != nil || !ok || v != kv.value {
			t.Errorf("%s = %q (present=%v, err=%v), want %q", kv.key, v, ok, err, kv.value)
		}
	}
}

func TestSetKey_Rejections(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.toml"))

	if err := setKeyWith(b, "verify.secret", "x"); err == nil || !strings.Contains(err.Error(), "CLARITY_RECAPTCHA_SECRET") {
		t.Errorf("secret key error = %v", err)
	}
	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyWith(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllOmitsSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Completion.APIKey = "sk-hidden"

	for _, k := range ShowAll(cfg) {
		if k.Value == "sk-hidden" {
			t.Errorf("secret leaked via key %s", k.Key)
		}
		if k.Key == "completion.api_key" {
			t.Errorf("secret key %s listed", k.Key)
		}
	}
	if len(ValidKeys()) != len(ShowAll(cfg)) {
		t.Errorf("ValidKeys and ShowAll disagree: %d vs %d", len(ValidKeys()), len(ShowAll(cfg)))
	}
}
