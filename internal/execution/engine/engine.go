// Package engine runs a tenant's script under the tenant's own identity and
// reports its outcome.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"tenantrun/internal/audit"
	"tenantrun/internal/common/limit"
	"tenantrun/internal/execution/model"
	"tenantrun/internal/execution/spawn"
	"tenantrun/internal/tenant/repository"
	"tenantrun/pkg/errors"
	"tenantrun/pkg/utils/contextkey"
	"tenantrun/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultShell = "/bin/sh"
	DefaultPath  = "/usr/local/bin:/usr/bin:/bin"

	// Paths reach the shell through the environment and are never spliced
	// into the command text.
	runCommand = `. "$TENANTRUN_VENV/bin/activate" && exec python -u "$TENANTRUN_SCRIPT"`
)

// Config controls script execution.
type Config struct {
	Layout model.LayoutConfig `yaml:"layout"`
	Shell  string             `yaml:"shell"`
	Path   string             `yaml:"path"`
	// Timeout of 0 lets a script run until it exits.
	Timeout time.Duration `yaml:"timeout"`
	// MaxConcurrent of 0 means no admission limit.
	MaxConcurrent int `yaml:"maxConcurrent"`
	// MaxOutputBytes of 0 keeps the whole stdout.
	MaxOutputBytes int64 `yaml:"maxOutputBytes"`
}

func (c Config) withDefaults() Config {
	c.Layout = c.Layout.WithDefaults()
	if c.Shell == "" {
		c.Shell = DefaultShell
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	return c
}

// Engine executes script jobs.
type Engine interface {
	Execute(ctx context.Context, job model.ScriptJob) model.ExecutionResult
}

// ScriptEngine is the production Engine.
type ScriptEngine struct {
	cfg      Config
	users    repository.UserLookup
	spawner  spawn.Spawner
	limiter  *limit.TokenLimiter
	recorder audit.Recorder
}

// NewScriptEngine wires an engine. recorder may be nil.
func NewScriptEngine(cfg Config, users repository.UserLookup, spawner spawn.Spawner, recorder audit.Recorder) *ScriptEngine {
	cfg = cfg.withDefaults()
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &ScriptEngine{
		cfg:      cfg,
		users:    users,
		spawner:  spawner,
		limiter:  limit.NewTokenLimiter(cfg.MaxConcurrent),
		recorder: recorder,
	}
}

func notFound() model.ExecutionResult {
	return model.ExecutionResult{Succeeded: false, Output: errors.ScriptNotFound.Message()}
}

// Execute never returns an error: every failure is folded into the result.
// A script that cannot be located yields the fixed not-found message and
// nothing is spawned.
func (e *ScriptEngine) Execute(ctx context.Context, job model.ScriptJob) model.ExecutionResult {
	tenant, err := e.users.LookupName(job.Tenant)
	if err != nil {
		logger.Warn(ctx, "tenant lookup failed", zap.String("tenant", job.Tenant), zap.Error(err))
		return notFound()
	}

	layout := e.cfg.Layout.LayoutFor(tenant)
	script, ok := layout.ScriptPath(job.Script)
	if !ok {
		logger.Info(ctx, "rejected script name", zap.String("tenant", tenant.Name), zap.String("script", job.Script))
		return notFound()
	}
	info, err := os.Lstat(script)
	if err != nil || !info.Mode().IsRegular() {
		return notFound()
	}

	if err := e.limiter.Acquire(ctx); err != nil {
		logger.Warn(ctx, "execution slot not acquired", zap.String("tenant", tenant.Name), zap.Error(err))
		return model.ExecutionResult{Succeeded: false, Output: errors.TooManyRequests.Message()}
	}
	defer e.limiter.Release()

	spec := spawn.Spec{
		Identity: spawn.Identity{UID: tenant.UID, GID: tenant.GID, Groups: tenant.Groups},
		Path:     e.cfg.Shell,
		Args:     []string{"-c", runCommand},
		Env: []string{
			"PARAMS=" + encodeParams(job.Params),
			"HOME=" + tenant.Home,
			"USER=" + tenant.Name,
			"LOGNAME=" + tenant.Name,
			"PATH=" + e.cfg.Path,
			"TENANTRUN_VENV=" + layout.Venv,
			"TENANTRUN_SCRIPT=" + script,
		},
		Dir:            filepath.Dir(script),
		Timeout:        e.cfg.Timeout,
		MaxOutputBytes: e.cfg.MaxOutputBytes,
	}

	started := time.Now()
	// A disconnecting client must not kill a running script or drop its record.
	runCtx := context.WithoutCancel(ctx)
	res, err := e.spawner.Run(runCtx, spec)
	rec := model.RunRecord{
		ID:        uuid.NewString(),
		TraceID:   traceID(ctx),
		Tenant:    tenant.Name,
		Script:    job.Script,
		StartedAt: started,
	}
	if err != nil {
		spawnErr := errors.Wrap(err, errors.SpawnFailed)
		logger.Error(ctx, "script spawn failed",
			zap.String("script", job.Script),
			zap.String("path", script),
			zap.String("user", tenant.Name),
			zap.Error(spawnErr),
		)
		rec.ExitCode = -1
		rec.Duration = time.Since(started)
		e.recorder.Record(runCtx, rec)
		return model.ExecutionResult{Succeeded: false, Output: ""}
	}

	logger.Debug(ctx, "script finished",
		zap.String("script", job.Script),
		zap.String("user", tenant.Name),
		zap.Int("exit_code", res.ExitCode),
		zap.String("stdout", res.Stdout),
		zap.String("stderr", res.Stderr),
	)

	rec.ExitCode = res.ExitCode
	rec.Succeeded = res.ExitCode == 0
	rec.Duration = res.Duration
	e.recorder.Record(runCtx, rec)

	if res.ExitCode != 0 {
		logger.Error(ctx, "script failed",
			zap.String("script", job.Script),
			zap.String("path", script),
			zap.String("user", tenant.Name),
			zap.Int("exit_code", res.ExitCode),
			zap.Bool("timed_out", res.TimedOut),
		)
		return model.ExecutionResult{Succeeded: false, Output: res.Stdout}
	}
	return model.ExecutionResult{Succeeded: true, Output: res.Stdout}
}

func encodeParams(params json.RawMessage) string {
	if len(params) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, params); err != nil {
		return string(params)
	}
	return buf.String()
}

func traceID(ctx context.Context) string {
	if v, ok := ctx.Value(contextkey.TraceID).(string); ok {
		return v
	}
	return ""
}
