package provision_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"tenantrun/internal/execution/model"
	"tenantrun/internal/execution/provision"
	"tenantrun/internal/execution/spawn"
	"tenantrun/pkg/errors"
)

// fakeSpawner performs mkdir and venv creation in-process and records every
// call so tests can assert on the identity and the arguments used.
type fakeSpawner struct {
	mu        sync.Mutex
	calls     []spawn.Spec
	mkdirExit int
	buildExit int
	startErr  error
}

func (f *fakeSpawner) Run(ctx context.Context, spec spawn.Spec) (spawn.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	f.mu.Unlock()

	if f.startErr != nil {
		return spawn.Result{}, f.startErr
	}
	switch filepath.Base(spec.Path) {
	case "mkdir":
		if f.mkdirExit != 0 {
			return spawn.Result{ExitCode: f.mkdirExit, Stderr: "permission denied"}, nil
		}
		if err := os.MkdirAll(spec.Args[len(spec.Args)-1], 0o700); err != nil {
			return spawn.Result{}, err
		}
		return spawn.Result{}, nil
	default:
		if f.buildExit != 0 {
			return spawn.Result{ExitCode: f.buildExit, Stderr: "no module named venv"}, nil
		}
		venv := spec.Args[len(spec.Args)-1]
		if err := os.MkdirAll(filepath.Join(venv, "bin"), 0o755); err != nil {
			return spawn.Result{}, err
		}
		return spawn.Result{}, os.WriteFile(filepath.Join(venv, "bin", "activate"), []byte("# activate\n"), 0o644)
	}
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTenant(t *testing.T) model.Tenant {
	t.Helper()
	return model.Tenant{Name: "alice", UID: 1001, GID: 1001, Groups: []int{1001, 2000}, Home: t.TempDir()}
}

func TestEnsureRuntimeCreatesRootAndVenv(t *testing.T) {
	sp := &fakeSpawner{}
	p, err := provision.NewProvisioner(provision.Config{}, sp)
	if err != nil {
		t.Fatalf("new provisioner: %v", err)
	}
	tenant := newTenant(t)

	if err := p.EnsureRuntime(context.Background(), tenant); err != nil {
		t.Fatalf("ensure runtime: %v", err)
	}
	if sp.count() != 2 {
		t.Fatalf("expected mkdir and build, got %d calls", sp.count())
	}

	mkdir := sp.calls[0]
	root := filepath.Join(tenant.Home, ".tenantrun")
	if got := strings.Join(mkdir.Args, " "); got != "-p -m 0700 "+root {
		t.Fatalf("unexpected mkdir args: %q", got)
	}
	build := sp.calls[1]
	if filepath.Base(build.Path) != "python3" {
		t.Fatalf("unexpected builder: %s", build.Path)
	}
	if got := strings.Join(build.Args, " "); got != "-m venv "+filepath.Join(root, ".venv") {
		t.Fatalf("unexpected builder args: %q", got)
	}
	for _, call := range sp.calls {
		if call.Identity.UID != 1001 || call.Identity.GID != 1001 || len(call.Identity.Groups) != 2 {
			t.Fatalf("step did not run as the tenant: %+v", call.Identity)
		}
	}
	if _, err := os.Stat(filepath.Join(root, ".venv", "bin", "activate")); err != nil {
		t.Fatalf("activate script missing: %v", err)
	}
}

func TestEnsureRuntimeIsIdempotent(t *testing.T) {
	sp := &fakeSpawner{}
	p, err := provision.NewProvisioner(provision.Config{}, sp)
	if err != nil {
		t.Fatalf("new provisioner: %v", err)
	}
	tenant := newTenant(t)

	for i := 0; i < 3; i++ {
		if err := p.EnsureRuntime(context.Background(), tenant); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	// one build, then only the mkdir step on each later call
	if sp.count() != 4 {
		t.Fatalf("expected 4 spawns, got %d", sp.count())
	}
}

func TestEnsureRuntimeFailures(t *testing.T) {
	cases := []struct {
		name      string
		spawner   *fakeSpawner
		wantCode  errors.ErrorCode
		wantCalls int
	}{
		{name: "mkdir exits nonzero", spawner: &fakeSpawner{mkdirExit: 1}, wantCode: errors.RuntimeDirFailed, wantCalls: 1},
		{name: "spawn fails", spawner: &fakeSpawner{startErr: fmt.Errorf("fork failed")}, wantCode: errors.RuntimeDirFailed, wantCalls: 1},
		{name: "builder exits nonzero", spawner: &fakeSpawner{buildExit: 1}, wantCode: errors.RuntimeBuildFailed, wantCalls: 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := provision.NewProvisioner(provision.Config{}, tc.spawner)
			if err != nil {
				t.Fatalf("new provisioner: %v", err)
			}
			err = p.EnsureRuntime(context.Background(), newTenant(t))
			if !errors.Is(err, tc.wantCode) {
				t.Fatalf("expected code %d, got %v", tc.wantCode, err)
			}
			if tc.spawner.count() != tc.wantCalls {
				t.Fatalf("expected %d spawns, got %d", tc.wantCalls, tc.spawner.count())
			}
		})
	}
}

func TestCustomBuilderSubstitution(t *testing.T) {
	sp := &fakeSpawner{}
	p, err := provision.NewProvisioner(provision.Config{
		Builder: `/opt/py/bin/virtualenv --prompt "tenant env" --root={root} {venv}`,
		Layout:  model.LayoutConfig{ScriptDir: "scripts", VenvDir: "env"},
	}, sp)
	if err != nil {
		t.Fatalf("new provisioner: %v", err)
	}
	tenant := newTenant(t)
	if err := p.EnsureRuntime(context.Background(), tenant); err != nil {
		t.Fatalf("ensure runtime: %v", err)
	}

	root := filepath.Join(tenant.Home, "scripts")
	build := sp.calls[1]
	if build.Path != "/opt/py/bin/virtualenv" {
		t.Fatalf("unexpected path: %s", build.Path)
	}
	want := []string{"--prompt", "tenant env", "--root=" + root, filepath.Join(root, "env")}
	if strings.Join(build.Args, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected args: %q", build.Args)
	}
	if build.Dir != root {
		t.Fatalf("builder should run inside the root, got %s", build.Dir)
	}
}

func TestNewProvisionerRejectsBadBuilder(t *testing.T) {
	if _, err := provision.NewProvisioner(provision.Config{Builder: `python3 "unterminated`}, &fakeSpawner{}); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := provision.NewProvisioner(provision.Config{}, nil); err == nil {
		t.Fatalf("expected error without spawner")
	}
}
