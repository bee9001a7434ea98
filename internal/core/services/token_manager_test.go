package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven/mocks"
)

func configuredCredentials() *domain.OAuthCredentialSet {
	return &domain.OAuthCredentialSet{
		ClientID:     "client-1",
		ClientSecret: "secret",
		RefreshToken: "refresh-0",
	}
}

func newTestTokenManager(store *mocks.MockCredentialStore, endpoint *mocks.MockOAuthEndpoint, clock *testClock) *TokenManager {
	return NewTokenManager(TokenManagerConfig{
		Store:    store,
		Endpoint: endpoint,
		Clock:    clock.Now,
	})
}

func TestTokenManager_RefreshesAndCaches(t *testing.T) {
	clock := newTestClock()
	store := mocks.NewMockCredentialStore(configuredCredentials())
	endpoint := mocks.NewMockOAuthEndpoint()
	tm := newTestTokenManager(store, endpoint, clock)
	ctx := context.Background()

	token, err := tm.GetValidAccessToken(ctx)
	if err != nil {
		t.Fatalf("GetValidAccessToken() error = %v", err)
	}
	if token != "access-1" {
		t.Errorf("token = %q, want access-1", token)
	}

	again, _ := tm.GetValidAccessToken(ctx)
	if again != token || endpoint.Refreshes() != 1 {
		t.Errorf("second call token = %q, refreshes = %d; want cached token and 1 refresh", again, endpoint.Refreshes())
	}

	stored := store.Current()
	if stored.RefreshToken != "refresh-1" {
		t.Errorf("stored refresh token = %q, want rotated refresh-1", stored.RefreshToken)
	}
	if stored.AccessTokenExpiresAt == nil || !stored.AccessTokenExpiresAt.Equal(clock.Now().Add(1800*time.Second)) {
		t.Errorf("stored expiry = %v", stored.AccessTokenExpiresAt)
	}
}

func TestTokenManager_SafetyBuffer(t *testing.T) {
	clock := newTestClock()
	endpoint := mocks.NewMockOAuthEndpoint()
	tm := newTestTokenManager(mocks.NewMockCredentialStore(configuredCredentials()), endpoint, clock)
	ctx := context.Background()

	_, _ = tm.GetValidAccessToken(ctx)

	// 1800s lifetime: still fresh at 1499s, stale from 1500s (300s buffer)
	clock.Advance(1499 * time.Second)
	token, _ := tm.GetValidAccessToken(ctx)
	if token != "access-1" {
		t.Errorf("token at 1499s = %q, want access-1", token)
	}

	clock.Advance(time.Second)
	token, _ = tm.GetValidAccessToken(ctx)
	if token != "access-2" {
		t.Errorf("token at 1500s = %q, want access-2", token)
	}
}

func TestTokenManager_SingleFlightRefresh(t *testing.T) {
	clock := newTestClock()
	store := mocks.NewMockCredentialStore(configuredCredentials())
	endpoint := mocks.NewMockOAuthEndpoint()
	endpoint.Delay = 50 * time.Millisecond
	tm := newTestTokenManager(store, endpoint, clock)

	const callers = 20
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = tm.GetValidAccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	if endpoint.Refreshes() != 1 {
		t.Errorf("refreshes = %d, want 1", endpoint.Refreshes())
	}
	for i := range tokens {
		if errs[i] != nil || tokens[i] != "access-1" {
			t.Errorf("caller %d got %q, %v", i, tokens[i], errs[i])
		}
	}
}

func TestTokenManager_ReusesPersistedToken(t *testing.T) {
	clock := newTestClock()
	creds := configuredCredentials()
	expires := clock.Now().Add(time.Hour)
	creds.AccessToken = "persisted"
	creds.AccessTokenExpiresAt = &expires
	endpoint := mocks.NewMockOAuthEndpoint()
	tm := newTestTokenManager(mocks.NewMockCredentialStore(creds), endpoint, clock)

	token, err := tm.GetValidAccessToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidAccessToken() error = %v", err)
	}
	if token != "persisted" || endpoint.Refreshes() != 0 {
		t.Errorf("token = %q, refreshes = %d; want persisted token without refresh", token, endpoint.Refreshes())
	}
}

func TestTokenManager_Invalidate(t *testing.T) {
	clock := newTestClock()
	creds := configuredCredentials()
	expires := clock.Now().Add(time.Hour)
	creds.AccessToken = "persisted"
	creds.AccessTokenExpiresAt = &expires
	endpoint := mocks.NewMockOAuthEndpoint()
	tm := newTestTokenManager(mocks.NewMockCredentialStore(creds), endpoint, clock)
	ctx := context.Background()

	_, _ = tm.GetValidAccessToken(ctx)
	tm.Invalidate()

	token, err := tm.GetValidAccessToken(ctx)
	if err != nil {
		t.Fatalf("GetValidAccessToken() error = %v", err)
	}
	if token != "access-1" {
		t.Errorf("token after Invalidate = %q, want a fresh access-1", token)
	}
}

func TestTokenManager_NotConfigured(t *testing.T) {
	clock := newTestClock()
	endpoint := mocks.NewMockOAuthEndpoint()
	tm := newTestTokenManager(mocks.NewMockCredentialStore(nil), endpoint, clock)

	_, err := tm.GetValidAccessToken(context.Background())
	if !errors.Is(err, domain.ErrAuth) || !errors.Is(err, domain.ErrNotConfigured) {
		t.Errorf("error = %v, want ErrAuth wrapping ErrNotConfigured", err)
	}
	if domain.ErrorKindOf(err) != domain.ErrorKindAuth {
		t.Errorf("kind = %s, want auth", domain.ErrorKindOf(err))
	}
}

func TestTokenManager_RefreshFailure(t *testing.T) {
	clock := newTestClock()
	endpoint := mocks.NewMockOAuthEndpoint()
	endpoint.Err = errors.New("invalid_grant")
	tm := newTestTokenManager(mocks.NewMockCredentialStore(configuredCredentials()), endpoint, clock)

	_, err := tm.GetValidAccessToken(context.Background())
	if !errors.Is(err, domain.ErrAuth) {
		t.Errorf("error = %v, want ErrAuth", err)
	}
}

func TestTokenManager_SaveCredentials(t *testing.T) {
	clock := newTestClock()
	store := mocks.NewMockCredentialStore(configuredCredentials())
	endpoint := mocks.NewMockOAuthEndpoint()
	tm := newTestTokenManager(store, endpoint, clock)
	ctx := context.Background()

	if err := tm.SaveCredentials(ctx, "client-2", "", "r"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("missing secret error = %v, want ErrInvalidInput", err)
	}

	_, _ = tm.GetValidAccessToken(ctx)
	if err := tm.SaveCredentials(ctx, "client-2", "secret-2", "fresh"); err != nil {
		t.Fatalf("SaveCredentials() error = %v", err)
	}
	if got := store.Current(); got.ClientID != "client-2" || got.AccessToken != "" {
		t.Errorf("stored = %+v", got)
	}

	token, _ := tm.GetValidAccessToken(ctx)
	if token != "access-2" {
		t.Errorf("token after new credentials = %q, want access-2", token)
	}

	summary, err := tm.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if summary.ClientID != "client-2" || !summary.HasRefreshToken {
		t.Errorf("summary = %+v", summary)
	}
}
