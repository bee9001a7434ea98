package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

var _ driving.CredentialsService = (*TokenManager)(nil)

// DefaultTokenSafetyBuffer is how long before expiry an access token is considered stale.
const DefaultTokenSafetyBuffer = 300 * time.Second

// AccessTokenSource hands out bearer tokens for remote calls.
type AccessTokenSource interface {
	GetValidAccessToken(ctx context.Context) (string, error)
	Invalidate()
}

// TokenManager owns the OAuth credential set and refreshes the access token.
// Only one refresh runs at a time; concurrent callers wait for its result,
// because the endpoint invalidates the previous refresh token on every refresh.
type TokenManager struct {
	store    driven.CredentialStore
	endpoint driven.OAuthEndpoint
	buffer   time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	cached   *domain.OAuthCredentialSet
	inflight *refreshCall
}

type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// TokenManagerConfig holds dependencies for TokenManager.
type TokenManagerConfig struct {
	Store        driven.CredentialStore
	Endpoint     driven.OAuthEndpoint
	SafetyBuffer time.Duration // default: 300s
	Clock        func() time.Time
	Logger       *slog.Logger
}

// NewTokenManager creates a new token manager.
func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := cfg.SafetyBuffer
	if buffer <= 0 {
		buffer = DefaultTokenSafetyBuffer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &TokenManager{
		store:    cfg.Store,
		endpoint: cfg.Endpoint,
		buffer:   buffer,
		now:      clock,
		logger:   logger,
	}
}

// GetValidAccessToken returns a cached token or refreshes it.
// Failures wrap domain.ErrAuth and are not retried here.
func (m *TokenManager) GetValidAccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.cached != nil && !m.cached.NeedsRefresh(m.now(), m.buffer) {
		token := m.cached.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	if call := m.inflight; call != nil {
		m.mu.Unlock()
		return m.wait(ctx, call)
	}
	call := &refreshCall{done: make(chan struct{})}
	m.inflight = call
	m.mu.Unlock()

	call.token, call.err = m.refresh(ctx)

	m.mu.Lock()
	m.inflight = nil
	m.mu.Unlock()
	close(call.done)

	return call.token, call.err
}

func (m *TokenManager) wait(ctx context.Context, call *refreshCall) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-call.done:
		return call.token, call.err
	}
}

// refresh loads the stored credentials, reuses a still-valid persisted token,
// or exchanges the refresh token for a new one.
func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	creds, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotConfigured) {
			return "", fmt.Errorf("%w: %w", domain.ErrAuth, err)
		}
		return "", fmt.Errorf("load credentials: %w", err)
	}
	if !creds.IsConfigured() {
		return "", fmt.Errorf("%w: %w", domain.ErrAuth, domain.ErrNotConfigured)
	}

	m.mu.Lock()
	invalidated := m.cached != nil && m.cached.AccessToken == "" && m.cached.RefreshToken == creds.RefreshToken
	m.mu.Unlock()

	// Another process may have refreshed already
	if !invalidated && !creds.NeedsRefresh(m.now(), m.buffer) {
		m.setCached(creds)
		return creds.AccessToken, nil
	}

	m.logger.Info("refreshing access token", "client_id", creds.ClientID)

	tok, err := m.endpoint.Refresh(ctx, creds.ClientID, creds.ClientSecret, creds.RefreshToken)
	if err != nil {
		m.logger.Error("access token refresh failed", "client_id", creds.ClientID, "error", err)
		if errors.Is(err, domain.ErrAuth) {
			return "", err
		}
		return "", fmt.Errorf("%w: refresh token: %v", domain.ErrAuth, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: refresh returned an empty access token", domain.ErrAuth)
	}

	now := m.now()
	expiresAt := tok.ExpiresAt(now)
	creds.AccessToken = tok.AccessToken
	creds.AccessTokenExpiresAt = &expiresAt
	if tok.RefreshToken != "" {
		creds.RefreshToken = tok.RefreshToken
	}
	creds.UpdatedAt = now

	if err := m.store.Save(ctx, creds); err != nil {
		// The endpoint may already have rotated the refresh token; keep the new one in memory
		m.logger.Error("failed to persist refreshed credentials", "error", err)
	}

	m.setCached(creds)
	m.logger.Info("access token refreshed", "expires_at", expiresAt)
	return creds.AccessToken, nil
}

func (m *TokenManager) setCached(creds *domain.OAuthCredentialSet) {
	c := *creds
	m.mu.Lock()
	m.cached = &c
	m.mu.Unlock()
}

// Invalidate drops the cached access token so the next call refreshes.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached != nil {
		m.cached.AccessToken = ""
		m.cached.AccessTokenExpiresAt = nil
	}
}

// SaveCredentials overwrites the stored credentials and forces a refresh on next use.
func (m *TokenManager) SaveCredentials(ctx context.Context, clientID, clientSecret, refreshToken string) error {
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return fmt.Errorf("%w: client id, client secret and refresh token are required", domain.ErrInvalidInput)
	}

	creds := &domain.OAuthCredentialSet{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RefreshToken: refreshToken,
		UpdatedAt:    m.now(),
	}
	if err := m.store.Save(ctx, creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()

	m.logger.Info("oauth credentials saved", "client_id", clientID)
	return nil
}

// Summary returns a secret-free view of the stored credentials.
func (m *TokenManager) Summary(ctx context.Context) (*domain.CredentialSummary, error) {
	creds, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return creds.ToSummary(), nil
}
