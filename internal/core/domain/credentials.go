package domain

import "time"

// OAuthCredentialSet holds the accounting-service OAuth credentials.
// ClientSecret and RefreshToken are persisted encrypted; the access token is ephemeral.
type OAuthCredentialSet struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"-"` // Never serialize
	RefreshToken string `json:"-"` // Never serialize

	AccessToken          string     `json:"-"` // Never serialize
	AccessTokenExpiresAt *time.Time `json:"access_token_expires_at,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsConfigured reports whether a refresh is possible
func (c *OAuthCredentialSet) IsConfigured() bool {
	return c != nil && c.ClientID != "" && c.RefreshToken != ""
}

// NeedsRefresh checks if the access token is missing or within buffer of expiry
func (c *OAuthCredentialSet) NeedsRefresh(now time.Time, buffer time.Duration) bool {
	if c.AccessToken == "" || c.AccessTokenExpiresAt == nil {
		return true
	}
	return !now.Before(c.AccessTokenExpiresAt.Add(-buffer))
}

// CredentialSummary provides a safe view without secrets
type CredentialSummary struct {
	ClientID        string     `json:"client_id"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	TokenExpiry     *time.Time `json:"token_expiry,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ToSummary converts the set to a summary
func (c *OAuthCredentialSet) ToSummary() *CredentialSummary {
	return &CredentialSummary{
		ClientID:        c.ClientID,
		HasRefreshToken: c.RefreshToken != "",
		TokenExpiry:     c.AccessTokenExpiresAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// OAuthToken is a token response from the OAuth endpoint
type OAuthToken struct {
	AccessToken  string
	RefreshToken string // empty when the endpoint does not rotate
	TokenType    string
	ExpiresIn    int // seconds
	Scope        string
}

// ExpiresAt converts ExpiresIn into an absolute time
func (t *OAuthToken) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}
