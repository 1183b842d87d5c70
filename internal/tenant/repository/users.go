package repository

import (
	"sort"

	"tenantrun/internal/execution/model"
	"tenantrun/pkg/errors"

	"github.com/moby/sys/user"
)

// UserLookup maps names and UIDs to tenants.
type UserLookup interface {
	LookupName(name string) (model.Tenant, error)
	LookupUID(uid int) (model.Tenant, error)
}

// UserDatabase implements UserLookup over the passwd and group files.
type UserDatabase struct {
	cfg Config
}

// NewUserDatabase creates a user database reader.
func NewUserDatabase(cfg Config) *UserDatabase {
	return &UserDatabase{cfg: cfg.withDefaults()}
}

// LookupName resolves a user by login name.
func (d *UserDatabase) LookupName(name string) (model.Tenant, error) {
	if name == "" {
		return model.Tenant{}, errors.New(errors.UserNotFound)
	}
	return d.lookup(func(u user.User) bool { return u.Name == name }, name)
}

// LookupUID resolves a user by numeric id.
func (d *UserDatabase) LookupUID(uid int) (model.Tenant, error) {
	if uid < 0 {
		return model.Tenant{}, errors.New(errors.UserNotFound)
	}
	return d.lookup(func(u user.User) bool { return u.Uid == uid }, uid)
}

func (d *UserDatabase) lookup(match func(user.User) bool, key interface{}) (model.Tenant, error) {
	users, err := user.ParsePasswdFileFilter(d.cfg.PasswdPath, match)
	if err != nil {
		return model.Tenant{}, errors.Wrapf(err, errors.UserNotFound, "read passwd database %s", d.cfg.PasswdPath)
	}
	if len(users) == 0 {
		return model.Tenant{}, errors.Newf(errors.UserNotFound, "user %v not found", key)
	}
	u := users[0]
	groups, err := d.supplementaryGroups(u.Name, u.Gid)
	if err != nil {
		return model.Tenant{}, err
	}
	return model.Tenant{
		Name:   u.Name,
		UID:    u.Uid,
		GID:    u.Gid,
		Groups: groups,
		Home:   u.Home,
	}, nil
}

// supplementaryGroups lists every group naming userName as a member, plus
// the primary group, sorted and without duplicates.
func (d *UserDatabase) supplementaryGroups(userName string, primary int) ([]int, error) {
	groups, err := user.ParseGroupFileFilter(d.cfg.GroupPath, func(g user.Group) bool {
		for _, member := range g.List {
			if member == userName {
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.GroupLookupFailed, "read group database %s", d.cfg.GroupPath)
	}
	seen := map[int]struct{}{primary: {}}
	out := []int{primary}
	for _, g := range groups {
		if _, ok := seen[g.Gid]; ok {
			continue
		}
		seen[g.Gid] = struct{}{}
		out = append(out, g.Gid)
	}
	sort.Ints(out)
	return out, nil
}
