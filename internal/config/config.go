package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"blockci-gh/internal/auth"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "blockci.yaml"

// Config is the top-level configuration structure.
type Config struct {
	Listen   string         `yaml:"listen"`
	GitHub   GitHubConfig   `yaml:"github"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Storage  StorageConfig  `yaml:"storage"`
	LogLevel string         `yaml:"log_level"`
}

type GitHubConfig struct {
	AppID          int64  `yaml:"app_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	WebhookSecret  string `yaml:"webhook_secret"`
	APIURL         string `yaml:"api_url"`
}

type WorkflowConfig struct {
	Path          string `yaml:"path"`
	StatusContext string `yaml:"status_context"`
	TargetURL     string `yaml:"target_url"`
}

type LedgerConfig struct {
	Path   string `yaml:"path"`
	KeyDir string `yaml:"key_dir"`
}

type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// Load resolves config from defaults, then the yaml file, then environment.
// A missing file is only an error when path is not the default.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultPath
	}
	if err := mergeFile(cfg, path); err != nil {
		if !os.IsNotExist(err) || path != DefaultPath {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the webhook server needs.
func (c *Config) Validate() error {
	var errs []error
	if c.GitHub.AppID <= 0 {
		errs = append(errs, errors.New("github.app_id is required"))
	}
	if c.GitHub.PrivateKeyPath == "" {
		errs = append(errs, errors.New("github.private_key_path is required"))
	}
	if c.GitHub.WebhookSecret == "" {
		errs = append(errs, errors.New("github.webhook_secret is required"))
	}
	if c.Workflow.Path == "" {
		errs = append(errs, errors.New("workflow.path is required"))
	}
	return errors.Join(errs...)
}

// AppConfig loads the App's private key and returns the auth settings.
func (c *Config) AppConfig() (auth.AppConfig, error) {
	key, err := auth.LoadPrivateKey(c.GitHub.PrivateKeyPath)
	if err != nil {
		return auth.AppConfig{}, err
	}
	return auth.AppConfig{
		AppID:      c.GitHub.AppID,
		PrivateKey: key,
		APIURL:     c.GitHub.APIURL,
	}, nil
}

func mergeFile(dst *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, dst)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		cfg.Listen = ":" + v
	}
	if v, ok := lookup("GITHUB_APP_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("GITHUB_APP_ID: %w", err)
		}
		cfg.GitHub.AppID = id
	}
	if v, ok := lookup("GITHUB_APP_PRIVATE_KEY_PATH"); ok && v != "" {
		cfg.GitHub.PrivateKeyPath = v
	}
	if v, ok := lookup("GITHUB_WEBHOOK_SECRET"); ok && v != "" {
		cfg.GitHub.WebhookSecret = v
	}
	if v, ok := lookup("GITHUB_API_URL"); ok && v != "" {
		cfg.GitHub.APIURL = v
	}
	if v, ok := lookup("BLOCKCI_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Listen: ":8080",
		GitHub: GitHubConfig{
			APIURL: auth.DefaultAPIURL,
		},
		Workflow: WorkflowConfig{
			Path:          ".github/workflows/ci.yml",
			StatusContext: "blockci",
		},
		Ledger: LedgerConfig{
			Path:   "./ledger.jsonl",
			KeyDir: "./keys",
		},
		Storage: StorageConfig{
			Dir: "./logs",
		},
		LogLevel: "info",
	}
}
