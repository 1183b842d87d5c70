// Package spawn runs a command under a tenant's OS identity. It is the only
// code path that executes tenant-supplied code.
package spawn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

// Identity is the credential a child process switches to before exec.
type Identity struct {
	UID    int
	GID    int
	Groups []int
}

// Spec describes one child process.
type Spec struct {
	Identity Identity
	Path     string
	Args     []string
	Env      []string
	Dir      string
	Stdin    io.Reader
	// Timeout kills the whole process group when it expires. Zero means
	// the child may run forever.
	Timeout time.Duration
	// MaxOutputBytes caps each captured stream. Zero means unbounded.
	MaxOutputBytes int64
}

// Result captures the outcome of a finished child.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Spawner starts processes under a given identity and waits for them.
type Spawner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

func validateSpec(spec Spec) error {
	if spec.Path == "" {
		return fmt.Errorf("command path is required")
	}
	if spec.Identity.UID <= 0 {
		return fmt.Errorf("refusing to run as uid %d", spec.Identity.UID)
	}
	if spec.Identity.GID <= 0 {
		return fmt.Errorf("refusing to run as gid %d", spec.Identity.GID)
	}
	for _, gid := range spec.Identity.Groups {
		if gid <= 0 {
			return fmt.Errorf("refusing supplementary gid %d", gid)
		}
	}
	return nil
}

// limitedBuffer keeps the first max bytes and silently drops the rest so the
// child never blocks on a full pipe.
type limitedBuffer struct {
	buf bytes.Buffer
	max int64
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.max <= 0 {
		return b.buf.Write(p)
	}
	remaining := b.max - int64(b.buf.Len())
	if remaining > 0 {
		if int64(len(p)) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
