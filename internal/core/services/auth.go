package services

import (
	"context"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure authService implements AuthService
var _ driving.AuthService = (*authService)(nil)

// AuthConfig holds configuration for the auth service.
type AuthConfig struct {
	// WebhookSecretHash is the bcrypt hash of the storefront webhook secret.
	// Empty disables webhook intake.
	WebhookSecretHash string

	// DefaultTokenTTL applies when MintToken gets no TTL (default: 24h)
	DefaultTokenTTL time.Duration

	Clock func() time.Time
}

// authService implements the AuthService interface
type authService struct {
	authAdapter driven.AuthAdapter
	webhookHash string
	tokenTTL    time.Duration
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(authAdapter driven.AuthAdapter, cfg AuthConfig) driving.AuthService {
	ttl := cfg.DefaultTokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &authService{
		authAdapter: authAdapter,
		webhookHash: cfg.WebhookSecretHash,
		tokenTTL:    ttl,
		now:         clock,
	}
}

// ValidateToken parses a bearer token and checks expiry and role
func (s *authService) ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error) {
	if token == "" {
		return nil, domain.ErrTokenInvalid
	}

	claims, err := s.authAdapter.ParseToken(token)
	if err != nil {
		return nil, err
	}
	if claims.ExpiresAt <= s.now().Unix() {
		return nil, domain.ErrTokenExpired
	}
	if claims.Subject == "" || !claims.Role.IsValid() {
		return nil, domain.ErrTokenInvalid
	}

	return &domain.AuthContext{
		Subject: claims.Subject,
		Role:    claims.Role,
	}, nil
}

// MintToken issues a signed token for subject
func (s *authService) MintToken(ctx context.Context, subject string, role domain.Role, ttl time.Duration) (string, error) {
	if subject == "" || !role.IsValid() {
		return "", domain.ErrInvalidInput
	}
	if ttl <= 0 {
		ttl = s.tokenTTL
	}
	return s.authAdapter.GenerateToken(domain.NewTokenClaims(subject, role, s.now(), ttl))
}

// VerifyWebhookSecret compares the presented secret against the configured hash
func (s *authService) VerifyWebhookSecret(ctx context.Context, secret string) error {
	if s.webhookHash == "" || secret == "" {
		return domain.ErrUnauthorized
	}
	if !s.authAdapter.VerifySecret(secret, s.webhookHash) {
		return domain.ErrUnauthorized
	}
	return nil
}
