package domain

import (
	"testing"
	"time"
)

func TestRoleCanWrite(t *testing.T) {
	tests := []struct {
		role     Role
		expected bool
	}{
		{RoleAdmin, true},
		{RoleOperator, true},
		{RoleViewer, false},
		{Role("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if tt.role.CanWrite() != tt.expected {
				t.Errorf("expected CanWrite() = %v", tt.expected)
			}
		})
	}
}

func TestAuthContextIsAdmin(t *testing.T) {
	if !(&AuthContext{Role: RoleAdmin}).IsAdmin() {
		t.Error("expected admin")
	}
	if (&AuthContext{Role: RoleOperator}).IsAdmin() {
		t.Error("operator should not be admin")
	}
}

func TestNewTokenClaims(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	claims := NewTokenClaims("ops", RoleOperator, now, time.Hour)

	if claims.Subject != "ops" {
		t.Errorf("expected subject ops, got %s", claims.Subject)
	}
	if claims.ExpiresAt-claims.IssuedAt != 3600 {
		t.Errorf("expected 3600s lifetime, got %d", claims.ExpiresAt-claims.IssuedAt)
	}
}
