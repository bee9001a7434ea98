package driven

import "github.com/custodia-labs/ledgersync/internal/core/domain"

// AuthAdapter handles API authentication cryptographic operations.
type AuthAdapter interface {
	// Shared-secret operations (webhook senders)
	HashSecret(secret string) (string, error)
	VerifySecret(secret, hash string) bool

	// Token operations
	GenerateToken(claims *domain.TokenClaims) (string, error)
	ParseToken(token string) (*domain.TokenClaims, error)
}
