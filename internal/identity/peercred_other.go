//go:build !linux

package identity

import (
	"context"

	"tenantrun/internal/execution/model"
	"tenantrun/internal/tenant/repository"
)

// PeerCredResolver never resolves outside Linux.
type PeerCredResolver struct{}

func NewPeerCredResolver(users repository.UserLookup) *PeerCredResolver {
	return &PeerCredResolver{}
}

func (r *PeerCredResolver) Resolve(ctx context.Context, peer Peer) (model.Tenant, bool) {
	return model.Tenant{}, false
}
