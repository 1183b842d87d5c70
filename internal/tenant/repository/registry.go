// Package repository reads tenants and authorization groups from the OS
// user and group databases. Nothing here is cached: every call re-reads the
// database files so membership changes apply to the very next request.
package repository

import (
	"context"
	"os/exec"
	"strings"

	"tenantrun/pkg/errors"

	"github.com/moby/sys/user"
)

const (
	DefaultPasswdPath   = "/etc/passwd"
	DefaultGroupPath    = "/etc/group"
	DefaultGroupaddPath = "groupadd"
)

// Config locates the user/group databases and the group creation tool.
type Config struct {
	PasswdPath   string `yaml:"passwdPath"`
	GroupPath    string `yaml:"groupPath"`
	GroupaddPath string `yaml:"groupaddPath"`
}

func (c Config) withDefaults() Config {
	if c.PasswdPath == "" {
		c.PasswdPath = DefaultPasswdPath
	}
	if c.GroupPath == "" {
		c.GroupPath = DefaultGroupPath
	}
	if c.GroupaddPath == "" {
		c.GroupaddPath = DefaultGroupaddPath
	}
	return c
}

// Registry answers "who may use the service".
type Registry interface {
	Members(ctx context.Context, group string) ([]string, error)
	EnsureGroupExists(ctx context.Context, group string) error
	IsAuthorized(ctx context.Context, userName, group string) (bool, error)
}

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner is the CommandRunner backed by os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// GroupRegistry implements Registry on top of the group database.
type GroupRegistry struct {
	cfg Config
	run CommandRunner
}

// NewGroupRegistry creates a registry. A nil runner means ExecRunner.
func NewGroupRegistry(cfg Config, run CommandRunner) *GroupRegistry {
	if run == nil {
		run = ExecRunner
	}
	return &GroupRegistry{cfg: cfg.withDefaults(), run: run}
}

// Members returns the member list of group as recorded in the group database.
func (r *GroupRegistry) Members(ctx context.Context, group string) ([]string, error) {
	groups, err := user.ParseGroupFileFilter(r.cfg.GroupPath, func(g user.Group) bool {
		return g.Name == group
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.GroupLookupFailed, "read group database %s", r.cfg.GroupPath)
	}
	if len(groups) == 0 {
		return nil, errors.Newf(errors.GroupLookupFailed, "group %q does not exist", group)
	}
	members := make([]string, 0, len(groups[0].List))
	for _, name := range groups[0].List {
		if name = strings.TrimSpace(name); name != "" {
			members = append(members, name)
		}
	}
	return members, nil
}

// IsAuthorized reports whether userName is a member of group.
func (r *GroupRegistry) IsAuthorized(ctx context.Context, userName, group string) (bool, error) {
	members, err := r.Members(ctx, group)
	if err != nil {
		return false, err
	}
	for _, member := range members {
		if member == userName {
			return true, nil
		}
	}
	return false, nil
}

// EnsureGroupExists creates group if needed. An existing group is success.
func (r *GroupRegistry) EnsureGroupExists(ctx context.Context, group string) error {
	if err := validateGroupName(group); err != nil {
		return err
	}
	output, err := r.run(ctx, r.cfg.GroupaddPath, "-f", group)
	if err != nil {
		return errors.Wrapf(err, errors.GroupCreateFailed, "%s -f %s: %s", r.cfg.GroupaddPath, group, strings.TrimSpace(string(output)))
	}
	return nil
}

func validateGroupName(group string) error {
	if group == "" {
		return errors.Newf(errors.GroupCreateFailed, "group name is required")
	}
	if strings.HasPrefix(group, "-") || strings.ContainsAny(group, " \t\n:/") {
		return errors.Newf(errors.GroupCreateFailed, "invalid group name %q", group)
	}
	return nil
}
