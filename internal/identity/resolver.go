// Package identity determines which OS user is on the other end of an
// inbound connection.
package identity

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"tenantrun/internal/execution/model"
	"tenantrun/internal/tenant/repository"
)

// Strategy names accepted in Config.Strategy.
const (
	StrategyProc     = "proc"
	StrategyLsof     = "lsof"
	StrategyPeerCred = "peercred"
	StrategyToken    = "token"
)

// Endpoint is the remote side of one TCP connection.
type Endpoint struct {
	Addr net.IP
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Addr.String(), strconv.Itoa(e.Port))
}

// ParseEndpoint parses an http.Request.RemoteAddr. IPv4-mapped IPv6
// addresses are reduced to their IPv4 form.
func ParseEndpoint(remoteAddr string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse remote address %q: %w", remoteAddr, err)
	}
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Endpoint{}, fmt.Errorf("parse remote address %q: invalid ip", remoteAddr)
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("parse remote address %q: invalid port", remoteAddr)
	}
	return Endpoint{Addr: ip, Port: port}, nil
}

// Peer is everything a resolver may inspect about a request.
type Peer struct {
	Endpoint Endpoint
	// Conn is the accepted connection, nil when unavailable.
	Conn net.Conn
	// Token is the bearer credential, empty when absent.
	Token string
}

// PeerFromRequest collects the peer of r. conn may be nil.
func PeerFromRequest(r *http.Request, conn net.Conn) Peer {
	peer := Peer{Conn: conn}
	if ep, err := ParseEndpoint(r.RemoteAddr); err == nil {
		peer.Endpoint = ep
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		peer.Token = strings.TrimSpace(auth[7:])
	}
	return peer
}

// Resolver maps a peer to an OS account. The second return value is false
// when the identity cannot be established; this is never an error.
type Resolver interface {
	Resolve(ctx context.Context, peer Peer) (model.Tenant, bool)
}

// Config selects and tunes the resolver.
type Config struct {
	Strategy string      `yaml:"strategy"`
	ProcRoot string      `yaml:"procRoot"`
	LsofPath string      `yaml:"lsofPath"`
	Token    TokenConfig `yaml:"token"`
}

// New builds the resolver named by cfg.Strategy (default proc).
func New(cfg Config, users repository.UserLookup) (Resolver, error) {
	if users == nil {
		return nil, fmt.Errorf("user lookup is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Strategy)) {
	case "", StrategyProc:
		return NewProcResolver(cfg.ProcRoot, users)
	case StrategyLsof:
		return NewLsofResolver(cfg.LsofPath, users, repository.ExecRunner), nil
	case StrategyPeerCred:
		return NewPeerCredResolver(users), nil
	case StrategyToken:
		return NewTokenResolver(cfg.Token, users)
	default:
		return nil, fmt.Errorf("unknown identity strategy %q", cfg.Strategy)
	}
}
