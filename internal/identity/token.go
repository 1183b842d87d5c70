package identity

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"tenantrun/internal/execution/model"
	"tenantrun/internal/tenant/repository"
	"tenantrun/pkg/utils/logger"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	DefaultTokenIssuer = "tenantrun"
	DefaultTokenTTL    = 24 * time.Hour
)

// TokenConfig holds the shared HS256 secret. SecretFile wins over Secret so
// the secret can stay out of the main config file.
type TokenConfig struct {
	Secret     string        `yaml:"secret"`
	SecretFile string        `yaml:"secretFile"`
	Issuer     string        `yaml:"issuer"`
	TTL        time.Duration `yaml:"ttl"`
}

// Key loads the signing key.
func (c TokenConfig) Key() ([]byte, error) {
	secret := c.Secret
	if c.SecretFile != "" {
		data, err := os.ReadFile(c.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("read token secret: %w", err)
		}
		secret = strings.TrimSpace(string(data))
	}
	if len(secret) < 16 {
		return nil, fmt.Errorf("token secret must be at least 16 bytes")
	}
	return []byte(secret), nil
}

func (c TokenConfig) issuer() string {
	if c.Issuer == "" {
		return DefaultTokenIssuer
	}
	return c.Issuer
}

// TokenResolver trusts the subject of a valid bearer token.
type TokenResolver struct {
	key    []byte
	issuer string
	users  repository.UserLookup
	now    func() time.Time
}

func NewTokenResolver(cfg TokenConfig, users repository.UserLookup) (*TokenResolver, error) {
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	return &TokenResolver{key: key, issuer: cfg.issuer(), users: users, now: time.Now}, nil
}

func (r *TokenResolver) Resolve(ctx context.Context, peer Peer) (model.Tenant, bool) {
	if peer.Token == "" {
		return model.Tenant{}, false
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(peer.Token, claims, func(t *jwt.Token) (interface{}, error) {
		return r.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(r.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		logger.Info(ctx, "bearer token rejected", zap.Error(err))
		return model.Tenant{}, false
	}
	tenant, err := r.users.LookupName(claims.Subject)
	if err != nil {
		logger.Info(ctx, "token subject is not a known user", zap.String("subject", claims.Subject), zap.Error(err))
		return model.Tenant{}, false
	}
	return tenant, true
}

// IssueToken signs a token for user valid for ttl (DefaultTokenTTL when not
// positive).
func IssueToken(cfg TokenConfig, user string, ttl time.Duration, now time.Time) (string, error) {
	if user == "" {
		return "", fmt.Errorf("user is required")
	}
	key, err := cfg.Key()
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = cfg.TTL
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	claims := jwt.RegisteredClaims{
		Issuer:    cfg.issuer(),
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
