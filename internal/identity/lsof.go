package identity

import (
	"bufio"
	"bytes"
	"context"
	"strconv"
	"strings"

	"tenantrun/internal/execution/model"
	"tenantrun/internal/tenant/repository"
	"tenantrun/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultLsofPath = "lsof"

// LsofResolver asks lsof which user owns the client side of the connection.
type LsofResolver struct {
	path  string
	users repository.UserLookup
	run   repository.CommandRunner
}

func NewLsofResolver(path string, users repository.UserLookup, run repository.CommandRunner) *LsofResolver {
	if path == "" {
		path = defaultLsofPath
	}
	return &LsofResolver{path: path, users: users, run: run}
}

func (r *LsofResolver) Resolve(ctx context.Context, peer Peer) (model.Tenant, bool) {
	if peer.Endpoint.Addr == nil {
		return model.Tenant{}, false
	}
	out, err := r.run(ctx, r.path, "-n", "-P", "-iTCP")
	if err != nil {
		logger.Warn(ctx, "lsof failed", zap.Error(err))
		return model.Tenant{}, false
	}

	owner, ok := lastOwner(out, peer.Endpoint.String()+"->")
	if !ok {
		logger.Info(ctx, "no socket matches the peer", zap.String("peer", peer.Endpoint.String()))
		return model.Tenant{}, false
	}

	var tenant model.Tenant
	if uid, convErr := strconv.Atoi(owner); convErr == nil {
		tenant, err = r.users.LookupUID(uid)
	} else {
		tenant, err = r.users.LookupName(owner)
	}
	if err != nil {
		logger.Info(ctx, "socket owner is not a known user", zap.String("owner", owner), zap.Error(err))
		return model.Tenant{}, false
	}
	return tenant, true
}

// lastOwner returns the USER column of the last line containing needle.
func lastOwner(out []byte, needle string) (string, bool) {
	var (
		owner string
		found bool
	)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, needle) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		owner = fields[2]
		found = true
	}
	return owner, found
}
