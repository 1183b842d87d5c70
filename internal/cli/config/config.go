package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL        = "http://127.0.0.1:9669"
	DefaultTimeout        = 5 * time.Minute
	DefaultTokenStatePath = ".tenantrun/cli_token.json"
	DefaultHistoryPath    = ".tenantrun/cli_history"
)

// Config holds CLI configuration.
type Config struct {
	BaseURL string `yaml:"baseURL"`
	// SocketPath dials the service over a Unix socket; BaseURL then only
	// supplies the Host header.
	SocketPath     string        `yaml:"socketPath"`
	Timeout        time.Duration `yaml:"timeout"`
	TokenStatePath string        `yaml:"tokenStatePath"`
	HistoryPath    string        `yaml:"historyPath"`
	PrettyJSON     *bool         `yaml:"prettyJSON"`
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config file failed: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file failed: %w", err)
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	home, _ := os.UserHomeDir()
	if cfg.TokenStatePath == "" {
		cfg.TokenStatePath = inHome(home, DefaultTokenStatePath)
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = inHome(home, DefaultHistoryPath)
	}
	if cfg.PrettyJSON == nil {
		value := false
		cfg.PrettyJSON = &value
	}
}

func inHome(home, rel string) string {
	if home == "" {
		return rel
	}
	return filepath.Join(home, rel)
}
