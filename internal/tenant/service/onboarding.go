// Package service keeps every member of the authorization group provisioned.
package service

import (
	"context"
	"sync"
	"time"

	"tenantrun/internal/execution/provision"
	"tenantrun/internal/tenant/repository"
	appErr "tenantrun/pkg/errors"
	"tenantrun/pkg/utils/logger"

	"go.uber.org/zap"
)

const DefaultSyncInterval = time.Minute

// SyncReport summarizes one Sync pass.
type SyncReport struct {
	Members     int
	Provisioned []string
	Failed      []string
}

// Onboarding provisions runtimes for new group members. The provisioned set
// only saves repeat work; authorization always re-reads the group database.
type Onboarding struct {
	group       string
	registry    repository.Registry
	users       repository.UserLookup
	provisioner provision.Provisioner

	mu          sync.Mutex
	provisioned map[string]struct{}
}

func NewOnboarding(group string, registry repository.Registry, users repository.UserLookup, provisioner provision.Provisioner) *Onboarding {
	return &Onboarding{
		group:       group,
		registry:    registry,
		users:       users,
		provisioner: provisioner,
		provisioned: make(map[string]struct{}),
	}
}

// Bootstrap creates the group and runs the first sync. Only a failure to
// create the group is fatal.
func (o *Onboarding) Bootstrap(ctx context.Context) error {
	if err := o.registry.EnsureGroupExists(ctx, o.group); err != nil {
		return err
	}
	logger.Info(ctx, "authorization group ready", zap.String("group", o.group))
	o.Sync(ctx)
	return nil
}

// Sync provisions every member not yet provisioned by this process.
// Failures are logged and retried on the next pass.
func (o *Onboarding) Sync(ctx context.Context) SyncReport {
	var report SyncReport
	members, err := o.registry.Members(ctx, o.group)
	if err != nil {
		logger.Error(ctx, "list group members failed", zap.String("group", o.group), zap.Error(err))
		return report
	}
	report.Members = len(members)

	for _, name := range members {
		if o.isProvisioned(name) {
			continue
		}
		tenant, err := o.users.LookupName(name)
		if err != nil {
			logger.Warn(ctx, "group member has no account", zap.String("tenant", name), zap.Error(err))
			report.Failed = append(report.Failed, name)
			continue
		}
		if err := o.provisioner.EnsureRuntime(ctx, tenant); err != nil {
			stage := "unknown"
			switch appErr.GetCode(err) {
			case appErr.RuntimeDirFailed:
				stage = "directory"
			case appErr.RuntimeBuildFailed:
				stage = "build"
			}
			logger.Error(ctx, "provision tenant runtime failed",
				zap.String("tenant", name),
				zap.String("stage", stage),
				zap.Error(err),
			)
			report.Failed = append(report.Failed, name)
			continue
		}
		o.markProvisioned(name)
		report.Provisioned = append(report.Provisioned, name)
		logger.Info(ctx, "tenant runtime provisioned", zap.String("tenant", name))
	}
	return report
}

// Run repeats Sync every interval until ctx is done. A non-positive
// interval disables the loop.
func (o *Onboarding) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Sync(ctx)
		}
	}
}

func (o *Onboarding) isProvisioned(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.provisioned[name]
	return ok
}

func (o *Onboarding) markProvisioned(name string) {
	o.mu.Lock()
	o.provisioned[name] = struct{}{}
	o.mu.Unlock()
}
