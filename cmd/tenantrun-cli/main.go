package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"tenantrun/internal/cli/config"
	httpclient "tenantrun/internal/cli/http"
	"tenantrun/internal/cli/repl"
	"tenantrun/internal/cli/state"
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tenantrun/cli.yaml"
	}
	return filepath.Join(home, ".tenantrun", "cli.yaml")
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	socket := flag.String("socket", "", "Connect over a Unix socket")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 30s)")
	token := flag.String("token", "", "Override bearer token")
	statePath := flag.String("state", "", "Override token state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	quiet := flag.Bool("quiet", false, "Ask for OK/Failed instead of script output")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [run <script> [key=value ...]]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *socket != "" {
		cfg.SocketPath = *socket
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.TokenStatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	tokenState, err := state.Load(cfg.TokenStatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load token state failed: %v\n", err)
		os.Exit(1)
	}
	if *token != "" {
		tokenState = repl.TokenStateFor(*token)
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string {
		return tokenState.Token
	})
	client.SetSocket(cfg.SocketPath)

	session := repl.New(client, &tokenState, cfg.TokenStatePath, cfg.PrettyJSON != nil && *cfg.PrettyJSON, os.Stdout)
	ctx := context.Background()

	args := flag.Args()
	if len(args) == 0 {
		if err := session.Run(ctx, cfg.HistoryPath); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	if args[0] == "run" {
		args = args[1:]
	}
	if *quiet {
		_ = session.Exec(ctx, "set interactive false")
	}
	status, err := session.RunScript(ctx, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if status != http.StatusOK {
		os.Exit(1)
	}
}
