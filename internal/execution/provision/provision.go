// Package provision prepares a tenant's private runtime: the script root and
// the isolated Python environment inside it.
package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tenantrun/internal/execution/model"
	"tenantrun/internal/execution/spawn"
	"tenantrun/pkg/errors"
	"tenantrun/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

const (
	DefaultBuilder      = "python3 -m venv {venv}"
	DefaultPath         = "/usr/local/bin:/usr/bin:/bin"
	DefaultBuildTimeout = 5 * time.Minute
)

// Config controls how runtimes are created.
type Config struct {
	Layout model.LayoutConfig `yaml:"layout"`
	// Builder is the command creating the environment. {venv} and {root}
	// are substituted after tokenizing.
	Builder      string        `yaml:"builder"`
	Path         string        `yaml:"path"`
	BuildTimeout time.Duration `yaml:"buildTimeout"`
}

func (c Config) withDefaults() Config {
	c.Layout = c.Layout.WithDefaults()
	if strings.TrimSpace(c.Builder) == "" {
		c.Builder = DefaultBuilder
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = DefaultBuildTimeout
	}
	return c
}

// Provisioner creates tenant runtimes.
type Provisioner interface {
	EnsureRuntime(ctx context.Context, tenant model.Tenant) error
}

type runtimeProvisioner struct {
	cfg     Config
	builder []string
	spawner spawn.Spawner
	stat    func(string) (os.FileInfo, error)
}

// NewProvisioner validates the builder command and returns a Provisioner
// that does all filesystem work as the tenant through spawner.
func NewProvisioner(cfg Config, spawner spawn.Spawner) (Provisioner, error) {
	if spawner == nil {
		return nil, fmt.Errorf("spawner is required")
	}
	cfg = cfg.withDefaults()
	builder, err := shlex.Split(cfg.Builder)
	if err != nil {
		return nil, fmt.Errorf("parse builder command %q: %w", cfg.Builder, err)
	}
	if len(builder) == 0 {
		return nil, fmt.Errorf("builder command is empty")
	}
	return &runtimeProvisioner{
		cfg:     cfg,
		builder: builder,
		spawner: spawner,
		stat:    os.Stat,
	}, nil
}

// EnsureRuntime is idempotent. The directory step always runs (mkdir -p is a
// no-op on an existing root); the build step is skipped once the activation
// script exists.
func (p *runtimeProvisioner) EnsureRuntime(ctx context.Context, tenant model.Tenant) error {
	layout := p.cfg.Layout.LayoutFor(tenant)

	res, err := p.runAs(ctx, tenant, "/", "mkdir", "-p", "-m", "0700", layout.Root)
	if err != nil {
		return errors.Wrapf(err, errors.RuntimeDirFailed, "create %s", layout.Root)
	}
	if res.ExitCode != 0 {
		return errors.Newf(errors.RuntimeDirFailed, "create %s: exit %d: %s",
			layout.Root, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	if _, err := p.stat(layout.Activate()); err == nil {
		return nil
	}

	argv := p.builderArgs(layout)
	logger.Info(ctx, "building tenant runtime",
		zap.String("tenant", tenant.Name),
		zap.String("venv", layout.Venv),
		zap.Strings("command", argv),
	)
	res, err = p.runAs(ctx, tenant, layout.Root, argv[0], argv[1:]...)
	if err != nil {
		return errors.Wrapf(err, errors.RuntimeBuildFailed, "build %s", layout.Venv)
	}
	if res.ExitCode != 0 {
		return errors.Newf(errors.RuntimeBuildFailed, "build %s: exit %d: %s",
			layout.Venv, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (p *runtimeProvisioner) builderArgs(layout model.Layout) []string {
	r := strings.NewReplacer("{venv}", layout.Venv, "{root}", layout.Root)
	argv := make([]string, len(p.builder))
	for i, tok := range p.builder {
		argv[i] = r.Replace(tok)
	}
	return argv
}

func (p *runtimeProvisioner) runAs(ctx context.Context, tenant model.Tenant, dir, name string, args ...string) (spawn.Result, error) {
	path := name
	if !filepath.IsAbs(name) {
		path = lookPath(name, p.cfg.Path)
	}
	return p.spawner.Run(ctx, spawn.Spec{
		Identity: spawn.Identity{UID: tenant.UID, GID: tenant.GID, Groups: tenant.Groups},
		Path:     path,
		Args:     args,
		Env: []string{
			"HOME=" + tenant.Home,
			"USER=" + tenant.Name,
			"LOGNAME=" + tenant.Name,
			"PATH=" + p.cfg.Path,
		},
		Dir:     dir,
		Timeout: p.cfg.BuildTimeout,
	})
}

// lookPath resolves name against the tenant PATH rather than the service's
// own environment. The first existing candidate wins; when none exists the
// first candidate is returned so the start error names a real location.
func lookPath(name, pathList string) string {
	dirs := filepath.SplitList(pathList)
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	if len(dirs) > 0 {
		return filepath.Join(dirs[0], name)
	}
	return name
}
