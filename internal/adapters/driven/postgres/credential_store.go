package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CredentialStore = (*CredentialStore)(nil)

// CredentialStore persists the single OAuth credential row.
// Client secret, refresh token and access token are sealed before they reach the database.
type CredentialStore struct {
	db     *DB
	sealer *SecretSealer
}

// NewCredentialStore creates a new CredentialStore
func NewCredentialStore(db *DB, sealer *SecretSealer) *CredentialStore {
	return &CredentialStore{db: db, sealer: sealer}
}

// Load returns the stored credentials or domain.ErrNotConfigured
func (s *CredentialStore) Load(ctx context.Context) (*domain.OAuthCredentialSet, error) {
	query := `
		SELECT client_id, client_secret, refresh_token, access_token, access_token_expires_at, updated_at
		FROM oauth_credentials
		WHERE id = 1
	`

	var creds domain.OAuthCredentialSet
	var clientSecret, refreshToken, accessToken []byte
	var expiresAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query).Scan(
		&creds.ClientID,
		&clientSecret,
		&refreshToken,
		&accessToken,
		&expiresAt,
		&creds.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}

	if creds.ClientSecret, err = s.sealer.Open("client_secret", clientSecret); err != nil {
		return nil, fmt.Errorf("open client secret: %w", err)
	}
	if creds.RefreshToken, err = s.sealer.Open("refresh_token", refreshToken); err != nil {
		return nil, fmt.Errorf("open refresh token: %w", err)
	}
	if creds.AccessToken, err = s.sealer.Open("access_token", accessToken); err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	creds.AccessTokenExpiresAt = TimePtr(expiresAt)

	return &creds, nil
}

// Save overwrites the stored credentials
func (s *CredentialStore) Save(ctx context.Context, creds *domain.OAuthCredentialSet) error {
	clientSecret, err := s.sealer.Seal("client_secret", creds.ClientSecret)
	if err != nil {
		return err
	}
	refreshToken, err := s.sealer.Seal("refresh_token", creds.RefreshToken)
	if err != nil {
		return err
	}
	accessToken, err := s.sealer.Seal("access_token", creds.AccessToken)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO oauth_credentials (id, client_id, client_secret, refresh_token, access_token, access_token_expires_at, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			refresh_token = EXCLUDED.refresh_token,
			access_token = EXCLUDED.access_token,
			access_token_expires_at = EXCLUDED.access_token_expires_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		creds.ClientID,
		clientSecret,
		refreshToken,
		accessToken,
		NullTime(creds.AccessTokenExpiresAt),
		creds.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}
