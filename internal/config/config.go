package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider configures the LLM backend the chat orchestrator talks to. It is
// passed explicitly into the orchestrator constructor; there is no process
// global.
type Provider struct {
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Timeout returns the per-request timeout for provider calls.
func (p Provider) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type Config struct {
	Port        int      `yaml:"port"`
	Shell       string   `yaml:"shell"`
	WorkDir     string   `yaml:"work_dir"`
	HistoryPath string   `yaml:"history_db"`
	Provider    Provider `yaml:"provider"`

	// BrowserAgent is the initial state of the browsing sub-agent toggle
	// for new sessions.
	BrowserAgent bool `yaml:"browser_agent"`

	ConfigPath string `yaml:"-"`
}

func defaults() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Port:        8000,
		Shell:       "/bin/bash",
		WorkDir:     filepath.Join(home, "open-first-agent", "output"),
		HistoryPath: filepath.Join(home, ".local", "share", "open-first-agent", "history.db"),
		Provider: Provider{
			Model:          "qwen2.5-coder:14b",
			BaseURL:        "http://localhost:11434/v1",
			APIKeyEnv:      "OPENAI_API_KEY",
			Temperature:    0.1,
			TimeoutSeconds: 60,
		},
		BrowserAgent: false,
	}
}

// Load builds the configuration from defaults, then the yaml config file,
// then command-line flags, in that order of precedence.
func Load() (*Config, error) {
	cfg := defaults()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	cfg.ConfigPath = filepath.Join(home, ".config", "open-first-agent", "config.yaml")

	flag.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	flag.StringVar(&cfg.Shell, "shell", cfg.Shell, "local shell to run terminal commands in")
	flag.StringVar(&cfg.WorkDir, "workdir", cfg.WorkDir, "initial working directory for terminal sessions")
	flag.StringVar(&cfg.HistoryPath, "history-db", cfg.HistoryPath, "path to the sqlite history database")
	flag.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "path to the yaml config file")
	flag.Parse()

	if err := cfg.loadFromFile(cfg.ConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Flags win over the file: re-apply any flag the user set explicitly.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			fmt.Sscanf(f.Value.String(), "%d", &cfg.Port)
		case "shell":
			cfg.Shell = f.Value.String()
		case "workdir":
			cfg.WorkDir = f.Value.String()
		case "history-db":
			cfg.HistoryPath = f.Value.String()
		}
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.resolveAPIKey()
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("invalid yaml in %q: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if strings.TrimSpace(c.Shell) == "" {
		return fmt.Errorf("shell must not be empty")
	}
	if strings.TrimSpace(c.Provider.BaseURL) == "" {
		return fmt.Errorf("provider base_url must not be empty")
	}
	if strings.TrimSpace(c.Provider.Model) == "" {
		return fmt.Errorf("provider model must not be empty")
	}
	return nil
}

func (c *Config) resolveAPIKey() {
	if c.Provider.APIKey == "" && c.Provider.APIKeyEnv != "" {
		c.Provider.APIKey = os.Getenv(c.Provider.APIKeyEnv)
	}
}
