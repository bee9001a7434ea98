package driving

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// UpdateSettingsRequest represents a partial update of sync settings
type UpdateSettingsRequest struct {
	StopOnConflict     *bool                     `json:"stop_on_conflict,omitempty"`
	ContactMatchKey    *domain.ContactMatchKey   `json:"contact_match_key,omitempty"`
	AutoApplyPayment   *bool                     `json:"auto_apply_payment,omitempty"`
	BankFees           map[string]domain.BankFee `json:"bank_fees,omitempty"`
	PaymentAccountCode *string                   `json:"payment_account_code,omitempty"`
	AmountTolerance    *decimal.Decimal          `json:"amount_tolerance,omitempty"`
	RetryBaseDelay     *time.Duration            `json:"retry_base_delay,omitempty"`
	RetryMaxDelay      *time.Duration            `json:"retry_max_delay,omitempty"`
	RetryMaxRetries    *int                      `json:"retry_max_retries,omitempty"`
	RetryIndefinite    *bool                     `json:"retry_indefinite,omitempty"`
}

// SettingsService manages runtime sync settings (admin only)
type SettingsService interface {
	// Get retrieves the current settings
	Get(ctx context.Context) (*domain.SyncSettings, error)

	// Update applies a partial update
	Update(ctx context.Context, updaterID string, req UpdateSettingsRequest) (*domain.SyncSettings, error)
}

// CredentialsService manages the accounting-service OAuth credentials (admin only)
type CredentialsService interface {
	// SaveCredentials overwrites the stored credentials
	SaveCredentials(ctx context.Context, clientID, clientSecret, refreshToken string) error

	// Summary returns a secret-free view
	Summary(ctx context.Context) (*domain.CredentialSummary, error)
}
