package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()
	if cfg.Port != 8000 {
		t.Errorf("default port = %d, want 8000", cfg.Port)
	}
	if cfg.Shell != "/bin/bash" {
		t.Errorf("default shell = %q", cfg.Shell)
	}
	if cfg.Provider.Model == "" {
		t.Error("default provider model must not be empty")
	}
	if cfg.Provider.BaseURL == "" {
		t.Error("default provider base_url must not be empty")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
port: 9100
shell: /bin/sh
browser_agent: true
provider:
  model: gpt-4o
  base_url: https://api.openai.com/v1
  api_key_env: TEST_LLM_KEY
  timeout_seconds: 15
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := defaults()
	if err := cfg.loadFromFile(path); err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}

	if cfg.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Port)
	}
	if cfg.Shell != "/bin/sh" {
		t.Errorf("shell = %q, want /bin/sh", cfg.Shell)
	}
	if !cfg.BrowserAgent {
		t.Error("browser_agent should be true")
	}
	if cfg.Provider.Model != "gpt-4o" {
		t.Errorf("provider model = %q", cfg.Provider.Model)
	}
	if got := cfg.Provider.Timeout().Seconds(); got != 15 {
		t.Errorf("provider timeout = %vs, want 15s", got)
	}
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: [not a port"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := defaults()
	if err := cfg.loadFromFile(path); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"port too low", func(c *Config) { c.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"empty shell", func(c *Config) { c.Shell = " " }, true},
		{"empty base url", func(c *Config) { c.Provider.BaseURL = "" }, true},
		{"empty model", func(c *Config) { c.Provider.Model = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveAPIKeyFromEnv(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-test")
	cfg := defaults()
	cfg.Provider.APIKeyEnv = "TEST_LLM_KEY"
	cfg.resolveAPIKey()
	if cfg.Provider.APIKey != "sk-test" {
		t.Errorf("api key = %q, want sk-test", cfg.Provider.APIKey)
	}
}

func TestResolveAPIKeyExplicitWins(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "from-env")
	cfg := defaults()
	cfg.Provider.APIKey = "explicit"
	cfg.Provider.APIKeyEnv = "TEST_LLM_KEY"
	cfg.resolveAPIKey()
	if cfg.Provider.APIKey != "explicit" {
		t.Errorf("api key = %q, want explicit", cfg.Provider.APIKey)
	}
}
