package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// AuthService authenticates API callers and webhook senders
type AuthService interface {
	// ValidateToken validates a bearer token and returns the auth context
	ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error)

	// MintToken issues a bearer token for an operator or automation (CLI only)
	MintToken(ctx context.Context, subject string, role domain.Role, ttl time.Duration) (string, error)

	// VerifyWebhookSecret checks the shared secret presented by the storefront webhook
	VerifyWebhookSecret(ctx context.Context, secret string) error
}
