// Command tenantrun-token issues bearer tokens for the token identity
// strategy. It reads the same service config so the secret never has to be
// passed on the command line.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"tenantrun/internal/identity"
	"tenantrun/internal/tenant/repository"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "configs/tenantrun.yaml"

type tokenConfig struct {
	Tenant struct {
		Database repository.Config `yaml:"database"`
	} `yaml:"tenant"`
	Identity identity.Config `yaml:"identity"`
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to service config file")
	user := flag.String("user", "", "OS user the token identifies")
	ttl := flag.Duration("ttl", 0, "Token lifetime (default from config)")
	flag.Parse()

	if err := run(*configPath, *user, *ttl); err != nil {
		fmt.Fprintf(os.Stderr, "issue token failed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, user string, ttl time.Duration) error {
	if user == "" {
		return fmt.Errorf("-user is required")
	}
	var cfg tokenConfig
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}

	// the user must exist, otherwise the server could never resolve the token
	if _, err := repository.NewUserDatabase(cfg.Tenant.Database).LookupName(user); err != nil {
		return err
	}

	token, err := identity.IssueToken(cfg.Identity.Token, user, ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
