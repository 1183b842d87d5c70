package identity

import (
	"context"
	"fmt"
	"strconv"

	"tenantrun/internal/execution/model"
	"tenantrun/internal/tenant/repository"
	"tenantrun/pkg/utils/logger"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

// ProcResolver reads the kernel TCP tables. On a loopback connection the
// client's socket has the request's remote endpoint as its local endpoint;
// the process holding that socket is the caller.
type ProcResolver struct {
	fs    procfs.FS
	users repository.UserLookup
}

// NewProcResolver opens the proc filesystem at root (default /proc).
func NewProcResolver(root string, users repository.UserLookup) (*ProcResolver, error) {
	if root == "" {
		root = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", root, err)
	}
	return &ProcResolver{fs: fs, users: users}, nil
}

type socketOwner struct {
	inode uint64
	uid   uint64
}

func (r *ProcResolver) Resolve(ctx context.Context, peer Peer) (model.Tenant, bool) {
	if peer.Endpoint.Addr == nil {
		return model.Tenant{}, false
	}
	match, ok, err := r.findSocket(peer.Endpoint)
	if err != nil {
		logger.Warn(ctx, "connection table scan failed", zap.Error(err))
		return model.Tenant{}, false
	}
	if !ok {
		logger.Info(ctx, "no socket matches the peer", zap.String("peer", peer.Endpoint.String()))
		return model.Tenant{}, false
	}

	uid := match.uid
	if match.inode != 0 {
		if owner, found := r.processOwner(match.inode); found {
			uid = owner
		}
	}

	tenant, err := r.users.LookupUID(int(uid))
	if err != nil {
		logger.Info(ctx, "socket owner is not a known user", zap.Uint64("uid", uid), zap.Error(err))
		return model.Tenant{}, false
	}
	return tenant, true
}

// findSocket returns the last entry whose local endpoint equals ep.
// More than one match is possible; the last one wins.
func (r *ProcResolver) findSocket(ep Endpoint) (socketOwner, bool, error) {
	var (
		match socketOwner
		found bool
		read  int
	)
	for _, table := range []func() (procfs.NetTCP, error){r.fs.NetTCP, r.fs.NetTCP6} {
		lines, err := table()
		if err != nil {
			continue
		}
		read++
		for _, line := range lines {
			if line.LocalPort != uint64(ep.Port) || !line.LocalAddr.Equal(ep.Addr) {
				continue
			}
			match = socketOwner{inode: line.Inode, uid: line.UID}
			found = true
		}
	}
	if read == 0 {
		return socketOwner{}, false, fmt.Errorf("no readable tcp table")
	}
	return match, found, nil
}

// processOwner finds the process holding socket inode and returns its real
// uid. Processes that vanish or cannot be read are skipped.
func (r *ProcResolver) processOwner(inode uint64) (uint64, bool) {
	procs, err := r.fs.AllProcs()
	if err != nil {
		return 0, false
	}
	target := "socket:[" + strconv.FormatUint(inode, 10) + "]"
	for _, p := range procs {
		fds, err := p.FileDescriptorTargets()
		if err != nil {
			continue
		}
		for _, fd := range fds {
			if fd != target {
				continue
			}
			status, err := p.NewStatus()
			if err != nil {
				break
			}
			return status.UIDs[0], true
		}
	}
	return 0, false
}
