//go:build linux

package spawn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"
)

const pipeDrainDelay = 5 * time.Second

type linuxSpawner struct{}

// NewSpawner creates the Linux spawner.
func NewSpawner() Spawner {
	return linuxSpawner{}
}

// Run forks the child with a Credential so that, inside the child and before
// exec, the kernel applies setgroups, then setgid, then setuid. The parent
// never changes its own identity.
func (linuxSpawner) Run(ctx context.Context, spec Spec) (Result, error) {
	if err := validateSpec(spec); err != nil {
		return Result{}, err
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdin = spec.Stdin
	cmd.SysProcAttr = buildSysProcAttr(spec.Identity)
	// a daemonized grandchild may hold the output pipes open after exit
	cmd.WaitDelay = pipeDrainDelay

	stdout := &limitedBuffer{max: spec.MaxOutputBytes}
	stderr := &limitedBuffer{max: spec.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", spec.Path, err)
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if spec.Timeout > 0 {
			timer := time.NewTimer(spec.Timeout)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			killProcessGroup(cmd.Process.Pid)
		case <-wallTimer:
			timedOut.Store(true)
			killProcessGroup(cmd.Process.Pid)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	res := Result{
		ExitCode: exitCodeFromErr(waitErr, cmd.ProcessState),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: timedOut.Load(),
		Duration: time.Since(start),
	}
	if res.TimedOut && res.ExitCode == 0 {
		res.ExitCode = -1
	}
	return res, nil
}

func buildSysProcAttr(id Identity) *syscall.SysProcAttr {
	groups := make([]uint32, 0, len(id.Groups))
	for _, gid := range id.Groups {
		groups = append(groups, uint32(gid))
	}
	return &syscall.SysProcAttr{
		Credential: &syscall.Credential{
			Uid:    uint32(id.UID),
			Gid:    uint32(id.GID),
			Groups: groups,
		},
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
