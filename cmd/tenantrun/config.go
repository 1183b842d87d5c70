package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"tenantrun/internal/audit"
	"tenantrun/internal/common/cache"
	"tenantrun/internal/common/mq"
	"tenantrun/internal/dispatch/controller"
	"tenantrun/internal/execution/engine"
	"tenantrun/internal/execution/model"
	"tenantrun/internal/execution/provision"
	"tenantrun/internal/identity"
	"tenantrun/internal/tenant/repository"
	"tenantrun/internal/tenant/service"
	"tenantrun/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "127.0.0.1:9669"
	defaultSocketMode      = 0o666
	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds listener settings. WriteTimeout defaults to none
// because a response is only written once the script has finished.
type ServerConfig struct {
	Network      string        `yaml:"network"`
	Addr         string        `yaml:"addr"`
	SocketPath   string        `yaml:"socketPath"`
	SocketMode   os.FileMode   `yaml:"socketMode"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	MaxBodyBytes int64         `yaml:"maxBodyBytes"`
}

// TenantConfig holds authorization group and onboarding settings.
type TenantConfig struct {
	Group        string            `yaml:"group"`
	SyncInterval time.Duration     `yaml:"syncInterval"`
	DisableSync  bool              `yaml:"disableSync"`
	Database     repository.Config `yaml:"database"`
}

// RuntimeConfig holds runtime provisioning settings.
type RuntimeConfig struct {
	Builder      string        `yaml:"builder"`
	BuildTimeout time.Duration `yaml:"buildTimeout"`
}

// ExecutionConfig holds script execution settings.
type ExecutionConfig struct {
	Shell          string        `yaml:"shell"`
	Path           string        `yaml:"path"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrent  int           `yaml:"maxConcurrent"`
	MaxOutputBytes int64         `yaml:"maxOutputBytes"`
}

// RedisAuditConfig enables the run history in Redis.
type RedisAuditConfig struct {
	Enabled           bool          `yaml:"enabled"`
	cache.RedisConfig `yaml:",inline"`
	Keep              int64         `yaml:"keep"`
	TTL               time.Duration `yaml:"ttl"`
}

// KafkaAuditConfig enables run events on Kafka.
type KafkaAuditConfig struct {
	Enabled        bool `yaml:"enabled"`
	mq.KafkaConfig `yaml:",inline"`
	Topic          string `yaml:"topic"`
}

// AuditConfig holds run audit sinks.
type AuditConfig struct {
	Redis RedisAuditConfig `yaml:"redis"`
	Kafka KafkaAuditConfig `yaml:"kafka"`
}

// AppConfig holds tenantrun config.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logger    logger.Config      `yaml:"logger"`
	Tenant    TenantConfig       `yaml:"tenant"`
	Identity  identity.Config    `yaml:"identity"`
	Layout    model.LayoutConfig `yaml:"layout"`
	Runtime   RuntimeConfig      `yaml:"runtime"`
	Execution ExecutionConfig    `yaml:"execution"`
	Audit     AuditConfig        `yaml:"audit"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads path and applies defaults. An empty path yields the
// defaults alone.
func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *AppConfig) applyDefaults() error {
	cfg.Server.Network = strings.ToLower(strings.TrimSpace(cfg.Server.Network))
	switch cfg.Server.Network {
	case "":
		cfg.Server.Network = "tcp"
	case "tcp", "unix":
	default:
		return fmt.Errorf("unsupported server network %q", cfg.Server.Network)
	}
	if cfg.Server.Network == "unix" && cfg.Server.SocketPath == "" {
		return fmt.Errorf("server socketPath is required for unix network")
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.SocketMode == 0 {
		cfg.Server.SocketMode = defaultSocketMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = controller.DefaultMaxBodyBytes
	}

	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}
	if cfg.Logger.OutputPath == "" {
		cfg.Logger.OutputPath = "stdout"
	}

	if cfg.Tenant.Group == "" {
		cfg.Tenant.Group = controller.DefaultGroup
	}
	if cfg.Tenant.SyncInterval <= 0 {
		cfg.Tenant.SyncInterval = service.DefaultSyncInterval
	}
	if cfg.Tenant.DisableSync {
		cfg.Tenant.SyncInterval = 0
	}

	cfg.Identity.Strategy = strings.ToLower(strings.TrimSpace(cfg.Identity.Strategy))
	switch cfg.Identity.Strategy {
	case "":
		cfg.Identity.Strategy = identity.StrategyProc
		if cfg.Server.Network == "unix" {
			cfg.Identity.Strategy = identity.StrategyPeerCred
		}
	case identity.StrategyProc, identity.StrategyLsof:
		if cfg.Server.Network == "unix" {
			return fmt.Errorf("identity strategy %s needs server network tcp", cfg.Identity.Strategy)
		}
	case identity.StrategyToken:
	case identity.StrategyPeerCred:
		if cfg.Server.Network != "unix" {
			return fmt.Errorf("identity strategy peercred needs server network unix")
		}
	default:
		return fmt.Errorf("unknown identity strategy %q", cfg.Identity.Strategy)
	}

	cfg.Layout = cfg.Layout.WithDefaults()
	if cfg.Execution.MaxConcurrent < 0 {
		return fmt.Errorf("execution maxConcurrent must not be negative")
	}
	if cfg.Execution.Timeout < 0 {
		return fmt.Errorf("execution timeout must not be negative")
	}

	if cfg.Audit.Redis.Enabled && cfg.Audit.Redis.Addr == "" {
		return fmt.Errorf("audit redis addr is required when enabled")
	}
	if cfg.Audit.Kafka.Enabled && len(cfg.Audit.Kafka.Brokers) == 0 {
		return fmt.Errorf("audit kafka brokers are required when enabled")
	}
	if cfg.Audit.Kafka.Topic == "" {
		cfg.Audit.Kafka.Topic = audit.DefaultTopic
	}
	return nil
}

func (cfg *AppConfig) provisionConfig() provision.Config {
	return provision.Config{
		Layout:       cfg.Layout,
		Builder:      cfg.Runtime.Builder,
		Path:         cfg.Execution.Path,
		BuildTimeout: cfg.Runtime.BuildTimeout,
	}
}

func (cfg *AppConfig) engineConfig() engine.Config {
	return engine.Config{
		Layout:         cfg.Layout,
		Shell:          cfg.Execution.Shell,
		Path:           cfg.Execution.Path,
		Timeout:        cfg.Execution.Timeout,
		MaxConcurrent:  cfg.Execution.MaxConcurrent,
		MaxOutputBytes: cfg.Execution.MaxOutputBytes,
	}
}

func (cfg *AppConfig) controllerConfig() controller.Config {
	return controller.Config{
		Group:        cfg.Tenant.Group,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
}
