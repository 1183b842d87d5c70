//go:build linux

package identity

import (
	"context"
	"fmt"
	"net"

	"tenantrun/internal/execution/model"
	"tenantrun/internal/tenant/repository"
	"tenantrun/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// PeerCredResolver reads SO_PEERCRED from a Unix socket connection.
type PeerCredResolver struct {
	users repository.UserLookup
}

func NewPeerCredResolver(users repository.UserLookup) *PeerCredResolver {
	return &PeerCredResolver{users: users}
}

func (r *PeerCredResolver) Resolve(ctx context.Context, peer Peer) (model.Tenant, bool) {
	uc, ok := peer.Conn.(*net.UnixConn)
	if !ok {
		return model.Tenant{}, false
	}
	uid, err := peerUID(uc)
	if err != nil {
		logger.Warn(ctx, "peer credentials unavailable", zap.Error(err))
		return model.Tenant{}, false
	}
	tenant, err := r.users.LookupUID(uid)
	if err != nil {
		logger.Info(ctx, "peer is not a known user", zap.Int("uid", uid), zap.Error(err))
		return model.Tenant{}, false
	}
	return tenant, true
}

func peerUID(conn *net.UnixConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("syscall conn: %w", err)
	}
	var (
		cred    *unix.Ucred
		credErr error
	)
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, fmt.Errorf("control: %w", err)
	}
	if credErr != nil {
		return 0, fmt.Errorf("getsockopt: %w", credErr)
	}
	return int(cred.Uid), nil
}
