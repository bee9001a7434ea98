package domain

import "time"

// Role defines API caller permission level
type Role string

const (
	RoleAdmin    Role = "admin"    // Manage credentials and settings
	RoleOperator Role = "operator" // Trigger syncs, batches and reconciliations
	RoleViewer   Role = "viewer"   // Read sync state and reports
)

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// CanWrite reports whether the role may trigger remote side effects
func (r Role) CanWrite() bool {
	return r == RoleAdmin || r == RoleOperator
}

// AuthContext contains authenticated caller info for request context
type AuthContext struct {
	Subject string `json:"subject"`
	Role    Role   `json:"role"`
}

// IsAdmin checks if the caller is an admin
func (a *AuthContext) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// TokenClaims represents the JWT token payload
type TokenClaims struct {
	Subject   string `json:"sub"`
	Role      Role   `json:"role"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// NewTokenClaims creates claims valid for ttl from now
func NewTokenClaims(subject string, role Role, now time.Time, ttl time.Duration) *TokenClaims {
	return &TokenClaims{
		Subject:   subject,
		Role:      role,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
}
