//go:build !linux

package spawn

import (
	"context"
	"fmt"
)

type stubSpawner struct{}

func NewSpawner() Spawner {
	return stubSpawner{}
}

func (stubSpawner) Run(ctx context.Context, spec Spec) (Result, error) {
	return Result{}, fmt.Errorf("spawning under another identity is only supported on linux")
}
