package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven/mocks"
)

func newTestAuthService(now time.Time) (*mocks.MockAuthAdapter, *authService) {
	authAdapter := mocks.NewMockAuthAdapter()
	svc := NewAuthService(authAdapter, AuthConfig{
		WebhookSecretHash: "hook-secret",
		Clock:             func() time.Time { return now },
	}).(*authService)
	return authAdapter, svc
}

func TestAuthService_ValidateToken(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	authAdapter, svc := newTestAuthService(now)
	ctx := context.Background()

	mint := func(claims *domain.TokenClaims) string {
		token, _ := authAdapter.GenerateToken(claims)
		return token
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
		want    *domain.AuthContext
	}{
		{
			name:    "empty token",
			token:   "",
			wantErr: domain.ErrTokenInvalid,
		},
		{
			name:    "malformed token",
			token:   "not!valid@base64#",
			wantErr: domain.ErrTokenInvalid,
		},
		{
			name:    "expired token",
			token:   mint(domain.NewTokenClaims("ops", domain.RoleOperator, now.Add(-2*time.Hour), time.Hour)),
			wantErr: domain.ErrTokenExpired,
		},
		{
			name:    "unknown role",
			token:   mint(domain.NewTokenClaims("ops", domain.Role("root"), now, time.Hour)),
			wantErr: domain.ErrTokenInvalid,
		},
		{
			name:    "missing subject",
			token:   mint(domain.NewTokenClaims("", domain.RoleViewer, now, time.Hour)),
			wantErr: domain.ErrTokenInvalid,
		},
		{
			name:  "valid operator token",
			token: mint(domain.NewTokenClaims("ops", domain.RoleOperator, now, time.Hour)),
			want:  &domain.AuthContext{Subject: "ops", Role: domain.RoleOperator},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ValidateToken(ctx, tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if *got != *tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestAuthService_MintToken(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	authAdapter, svc := newTestAuthService(now)
	ctx := context.Background()

	token, err := svc.MintToken(ctx, "scheduler", domain.RoleOperator, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := authAdapter.ParseToken(token)
	if err != nil {
		t.Fatalf("minted token does not parse: %v", err)
	}
	if claims.Subject != "scheduler" || claims.Role != domain.RoleOperator {
		t.Errorf("unexpected claims %+v", claims)
	}
	if claims.ExpiresAt != now.Add(24*time.Hour).Unix() {
		t.Errorf("expected default 24h lifetime, got exp %d", claims.ExpiresAt)
	}

	authCtx, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("minted token rejected: %v", err)
	}
	if !authCtx.Role.CanWrite() {
		t.Error("operator should be able to write")
	}

	if _, err := svc.MintToken(ctx, "", domain.RoleAdmin, time.Hour); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty subject, got %v", err)
	}
	if _, err := svc.MintToken(ctx, "x", domain.Role("root"), time.Hour); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown role, got %v", err)
	}
}

func TestAuthService_VerifyWebhookSecret(t *testing.T) {
	_, svc := newTestAuthService(time.Now())
	ctx := context.Background()

	if err := svc.VerifyWebhookSecret(ctx, "hook-secret"); err != nil {
		t.Errorf("expected secret to verify, got %v", err)
	}
	if err := svc.VerifyWebhookSecret(ctx, "wrong"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if err := svc.VerifyWebhookSecret(ctx, ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for empty secret, got %v", err)
	}

	disabled := NewAuthService(mocks.NewMockAuthAdapter(), AuthConfig{})
	if err := disabled.VerifyWebhookSecret(ctx, "hook-secret"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected webhook intake disabled without a hash, got %v", err)
	}
}
