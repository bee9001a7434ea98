package driven

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// CredentialStore persists the OAuth credential set. Secrets are encrypted at rest.
type CredentialStore interface {
	// Load returns the stored credentials or domain.ErrNotConfigured
	Load(ctx context.Context) (*domain.OAuthCredentialSet, error)

	// Save overwrites the stored credentials
	Save(ctx context.Context, creds *domain.OAuthCredentialSet) error
}
