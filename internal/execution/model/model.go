// Package model defines tenants, jobs, runtime layout and execution results.
package model

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
)

// Tenant is an OS account resolved from the user database.
type Tenant struct {
	Name   string
	UID    int
	GID    int
	Groups []int
	Home   string
}

// ScriptJob is one request to run a tenant's script.
type ScriptJob struct {
	Tenant      string
	Script      string
	Params      json.RawMessage
	Interactive bool
}

// ExecutionResult is what the engine reports back to the dispatcher.
// Output holds captured stdout for both successful and failed runs.
type ExecutionResult struct {
	Succeeded bool
	Output    string
}

// RunRecord summarizes one finished execution for the audit trail.
type RunRecord struct {
	ID        string        `json:"id"`
	TraceID   string        `json:"trace_id,omitempty"`
	Tenant    string        `json:"tenant"`
	Script    string        `json:"script"`
	Succeeded bool          `json:"succeeded"`
	ExitCode  int           `json:"exit_code"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// LayoutConfig names the pieces of a tenant runtime relative to the
// tenant's home directory.
type LayoutConfig struct {
	ScriptDir  string `yaml:"scriptDir"`
	VenvDir    string `yaml:"venvDir"`
	Entrypoint string `yaml:"entrypoint"`
}

const (
	DefaultScriptDir  = ".tenantrun"
	DefaultVenvDir    = ".venv"
	DefaultEntrypoint = "main.py"
)

// WithDefaults fills empty fields.
func (c LayoutConfig) WithDefaults() LayoutConfig {
	if c.ScriptDir == "" {
		c.ScriptDir = DefaultScriptDir
	}
	if c.VenvDir == "" {
		c.VenvDir = DefaultVenvDir
	}
	if c.Entrypoint == "" {
		c.Entrypoint = DefaultEntrypoint
	}
	return c
}

// Layout is the on-disk runtime of one tenant.
type Layout struct {
	Root       string
	Venv       string
	entrypoint string
}

// LayoutFor computes the runtime paths of tenant.
func (c LayoutConfig) LayoutFor(tenant Tenant) Layout {
	c = c.WithDefaults()
	root := filepath.Join(tenant.Home, c.ScriptDir)
	return Layout{
		Root:       root,
		Venv:       filepath.Join(root, c.VenvDir),
		entrypoint: c.Entrypoint,
	}
}

// Activate is the virtualenv activation script.
func (l Layout) Activate() string {
	return filepath.Join(l.Venv, "bin", "activate")
}

// ScriptPath returns the entrypoint of script. ok is false when name is not a
// single, plain path segment; such names must be treated as missing scripts.
func (l Layout) ScriptPath(name string) (string, bool) {
	if !ValidScriptName(name) {
		return "", false
	}
	return filepath.Join(l.Root, name, l.entrypoint), true
}

// ValidScriptName reports whether name is one non-hidden path segment.
// Hidden names are refused so the runtime directory cannot be addressed.
func ValidScriptName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	return filepath.Base(name) == name
}
