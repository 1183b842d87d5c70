package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tenantrun/internal/identity"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenantrun.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	cfg, err := loadAppConfig("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.Network != "tcp" || cfg.Server.Addr != defaultHTTPAddr {
		t.Fatalf("unexpected listener: %+v", cfg.Server)
	}
	if cfg.Server.WriteTimeout != 0 {
		t.Fatalf("write timeout must default to none, got %s", cfg.Server.WriteTimeout)
	}
	if cfg.Server.MaxBodyBytes != 1<<20 {
		t.Fatalf("unexpected body limit: %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Tenant.Group != "tenantrun" || cfg.Tenant.SyncInterval != time.Minute {
		t.Fatalf("unexpected tenant config: %+v", cfg.Tenant)
	}
	if cfg.Identity.Strategy != identity.StrategyProc {
		t.Fatalf("unexpected strategy: %s", cfg.Identity.Strategy)
	}
	if cfg.Layout.ScriptDir != ".tenantrun" || cfg.Layout.VenvDir != ".venv" {
		t.Fatalf("unexpected layout: %+v", cfg.Layout)
	}
	if cfg.Execution.Timeout != 0 || cfg.Execution.MaxConcurrent != 0 {
		t.Fatalf("execution limits must be off by default: %+v", cfg.Execution)
	}
	if cfg.Audit.Kafka.Topic != "tenantrun.runs" {
		t.Fatalf("unexpected topic: %s", cfg.Audit.Kafka.Topic)
	}
}

func TestLoadAppConfigFile(t *testing.T) {
	path := writeConfig(t, `
server:
  network: unix
  socketPath: /run/tenantrun.sock
tenant:
  group: scripts
  disableSync: true
identity:
  strategy: PeerCred
layout:
  scriptDir: jobs
execution:
  timeout: 30s
  maxConcurrent: 4
audit:
  redis:
    enabled: true
    addr: 127.0.0.1:6379
    keep: 10
`)
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Network != "unix" || cfg.Server.SocketMode != defaultSocketMode {
		t.Fatalf("unexpected server: %+v", cfg.Server)
	}
	if cfg.Tenant.SyncInterval != 0 {
		t.Fatalf("sync should be disabled, got %s", cfg.Tenant.SyncInterval)
	}
	if cfg.Identity.Strategy != identity.StrategyPeerCred {
		t.Fatalf("strategy not normalized: %s", cfg.Identity.Strategy)
	}
	if cfg.Audit.Redis.Addr != "127.0.0.1:6379" || cfg.Audit.Redis.Keep != 10 {
		t.Fatalf("inline redis config not decoded: %+v", cfg.Audit.Redis)
	}

	eng := cfg.engineConfig()
	if eng.Timeout != 30*time.Second || eng.MaxConcurrent != 4 || eng.Layout.ScriptDir != "jobs" {
		t.Fatalf("unexpected engine config: %+v", eng)
	}
	if prov := cfg.provisionConfig(); prov.Layout != eng.Layout {
		t.Fatalf("provisioner and engine must share the layout")
	}
	if ctl := cfg.controllerConfig(); ctl.Group != "scripts" {
		t.Fatalf("unexpected controller group: %s", ctl.Group)
	}
}

func TestLoadAppConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "unknown network", body: "server:\n  network: udp\n"},
		{name: "unix without socket", body: "server:\n  network: unix\n"},
		{name: "unknown strategy", body: "identity:\n  strategy: ident\n"},
		{name: "peercred over tcp", body: "identity:\n  strategy: peercred\n"},
		{name: "proc over unix", body: "server:\n  network: unix\n  socketPath: /run/t.sock\nidentity:\n  strategy: proc\n"},
		{name: "negative concurrency", body: "execution:\n  maxConcurrent: -1\n"},
		{name: "redis without addr", body: "audit:\n  redis:\n    enabled: true\n"},
		{name: "kafka without brokers", body: "audit:\n  kafka:\n    enabled: true\n"},
		{name: "malformed yaml", body: "server: [\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadAppConfig(writeConfig(t, tc.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	if _, err := loadAppConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestUnixSocketDefaultsToPeerCred(t *testing.T) {
	cfg, err := loadAppConfig(writeConfig(t, "server:\n  network: unix\n  socketPath: /run/t.sock\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Identity.Strategy != identity.StrategyPeerCred {
		t.Fatalf("unexpected strategy: %s", cfg.Identity.Strategy)
	}
}

func TestListenUnixSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "tenantrun.sock")
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatalf("stale socket: %v", err)
	}
	l, err := listen(ServerConfig{Network: "unix", SocketPath: sock, SocketMode: 0o666})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	info, err := os.Stat(sock)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode()&os.ModeSocket == 0 || info.Mode().Perm() != 0o666 {
		t.Fatalf("unexpected socket mode: %s", info.Mode())
	}
}
