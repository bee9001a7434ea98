package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

func TestNewAdapter(t *testing.T) {
	adapter := NewAdapter("test-secret")
	if adapter == nil {
		t.Fatal("expected non-nil adapter")
	}
	if string(adapter.jwtSecret) != "test-secret" {
		t.Error("expected jwt secret to be set")
	}
}

func TestNewAdapterWithCost(t *testing.T) {
	adapter := NewAdapterWithCost("test-secret", 4)
	if adapter.bcryptCost != 4 {
		t.Errorf("expected bcrypt cost 4, got %d", adapter.bcryptCost)
	}
}

func TestHashSecret(t *testing.T) {
	adapter := NewAdapterWithCost("secret", 4) // Low cost for faster tests

	hash, err := adapter.HashSecret("webhook-secret")
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}
	if hash == "" || hash == "webhook-secret" {
		t.Error("expected an opaque hash")
	}
	if len(hash) < 60 {
		t.Error("expected bcrypt hash to be at least 60 characters")
	}

	other, _ := adapter.HashSecret("webhook-secret")
	if hash == other {
		t.Error("expected different hashes for same secret (due to salt)")
	}
}

func TestVerifySecret(t *testing.T) {
	adapter := NewAdapterWithCost("secret", 4)
	hash, _ := adapter.HashSecret("webhook-secret")

	if !adapter.VerifySecret("webhook-secret", hash) {
		t.Error("expected matching secret to verify")
	}
	if adapter.VerifySecret("wrong", hash) {
		t.Error("expected wrong secret to fail")
	}
	if adapter.VerifySecret("webhook-secret", "not-a-bcrypt-hash") {
		t.Error("expected invalid hash to fail")
	}
}

func TestGenerateAndParseToken(t *testing.T) {
	adapter := NewAdapter("test-jwt-secret")
	now := time.Now()

	roles := []domain.Role{domain.RoleAdmin, domain.RoleOperator, domain.RoleViewer}
	for _, role := range roles {
		t.Run(string(role), func(t *testing.T) {
			claims := domain.NewTokenClaims("ops-bot", role, now, time.Hour)

			token, err := adapter.GenerateToken(claims)
			if err != nil {
				t.Fatalf("failed to generate token: %v", err)
			}

			parsed, err := adapter.ParseToken(token)
			if err != nil {
				t.Fatalf("failed to parse token: %v", err)
			}
			if parsed.Subject != "ops-bot" {
				t.Errorf("expected subject ops-bot, got %s", parsed.Subject)
			}
			if parsed.Role != role {
				t.Errorf("expected role %s, got %s", role, parsed.Role)
			}
			if parsed.ExpiresAt != claims.ExpiresAt || parsed.IssuedAt != claims.IssuedAt {
				t.Errorf("timestamps changed: %+v vs %+v", parsed, claims)
			}
		})
	}
}

func TestParseToken_ExpiredToken(t *testing.T) {
	adapter := NewAdapter("test-jwt-secret")

	claims := domain.NewTokenClaims("ops-bot", domain.RoleOperator, time.Now().Add(-3*time.Hour), time.Hour)
	token, _ := adapter.GenerateToken(claims)

	_, err := adapter.ParseToken(token)
	if !errors.Is(err, domain.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	adapter1 := NewAdapter("secret-1")
	adapter2 := NewAdapter("secret-2")

	token, _ := adapter1.GenerateToken(domain.NewTokenClaims("ops-bot", domain.RoleAdmin, time.Now(), time.Hour))

	_, err := adapter2.ParseToken(token)
	if !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestParseToken_MalformedToken(t *testing.T) {
	adapter := NewAdapter("test-secret")

	testCases := []string{
		"",
		"not-a-jwt",
		"invalid.token.here",
		"header.payload", // missing signature
	}

	for _, tc := range testCases {
		_, err := adapter.ParseToken(tc)
		if !errors.Is(err, domain.ErrTokenInvalid) {
			t.Errorf("expected ErrTokenInvalid for %q, got %v", tc, err)
		}
	}
}

func BenchmarkVerifySecret(b *testing.B) {
	adapter := NewAdapterWithCost("secret", 4)
	hash, _ := adapter.HashSecret("webhook-secret")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		adapter.VerifySecret("webhook-secret", hash)
	}
}

func BenchmarkParseToken(b *testing.B) {
	adapter := NewAdapter("test-secret")
	token, _ := adapter.GenerateToken(domain.NewTokenClaims("ops-bot", domain.RoleOperator, time.Now(), time.Hour))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = adapter.ParseToken(token)
	}
}
