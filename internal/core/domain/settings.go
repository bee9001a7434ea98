package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ContactMatchKey selects the local field used to find an existing remote contact
type ContactMatchKey string

const (
	ContactMatchEmail ContactMatchKey = "email"
	ContactMatchName  ContactMatchKey = "name"
	ContactMatchPhone ContactMatchKey = "phone"
)

// BankFee is a gateway fee deducted from the payment amount
type BankFee struct {
	// Percent of the paid amount, e.g. 2.9 for 2.9%
	Percent decimal.Decimal `json:"percent"`
	// Fixed amount in the gateway's currency
	Fixed decimal.Decimal `json:"fixed"`
}

// IsZero reports whether no fee is configured
func (f BankFee) IsZero() bool {
	return f.Percent.IsZero() && f.Fixed.IsZero()
}

// RetryPolicy configures the retry scheduler
type RetryPolicy struct {
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
	MaxRetries int           `json:"max_retries"`
	Indefinite bool          `json:"indefinite"`
	BatchSize  int           `json:"batch_size"`
}

// SyncSettings holds runtime sync policy, editable without a restart
type SyncSettings struct {
	// StopOnConflict aborts a sync whose locked remote invoice differs from the record.
	// When false the invoice update is skipped and payment application proceeds.
	StopOnConflict bool `json:"stop_on_conflict"`

	ContactMatchKey ContactMatchKey `json:"contact_match_key"`

	// AutoApplyPayment applies payments automatically when a paid order syncs as final
	AutoApplyPayment bool `json:"auto_apply_payment"`

	// BankFees keyed by payment gateway name
	BankFees map[string]BankFee `json:"bank_fees,omitempty"`

	// PaymentAccountCode is the remote bank account payments are recorded into
	PaymentAccountCode string `json:"payment_account_code,omitempty"`

	AmountTolerance decimal.Decimal `json:"amount_tolerance"`
	Retry           RetryPolicy     `json:"retry"`

	// Metadata
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// DefaultSyncSettings returns the defaults used before anything is saved
func DefaultSyncSettings() *SyncSettings {
	return &SyncSettings{
		StopOnConflict:   true,
		ContactMatchKey:  ContactMatchEmail,
		AutoApplyPayment: true,
		AmountTolerance:  decimal.NewFromFloat(0.05),
		Retry: RetryPolicy{
			BaseDelay:  5 * time.Minute,
			MaxDelay:   6 * time.Hour,
			MaxRetries: 5,
			BatchSize:  50,
		},
		UpdatedAt: time.Now(),
	}
}

// FeeFor returns the configured fee for a gateway
func (s *SyncSettings) FeeFor(gateway string) BankFee {
	if s.BankFees == nil {
		return BankFee{}
	}
	return s.BankFees[gateway]
}

// Validate checks the settings are coherent
func (s *SyncSettings) Validate() error {
	switch s.ContactMatchKey {
	case ContactMatchEmail, ContactMatchName, ContactMatchPhone:
	default:
		return fmt.Errorf("%w: unknown contact match key %q", ErrInvalidInput, s.ContactMatchKey)
	}
	if s.AmountTolerance.IsNegative() {
		return fmt.Errorf("%w: amount tolerance must not be negative", ErrInvalidInput)
	}
	if s.Retry.BaseDelay <= 0 {
		return fmt.Errorf("%w: retry base delay must be positive", ErrInvalidInput)
	}
	if s.Retry.MaxDelay < s.Retry.BaseDelay {
		return fmt.Errorf("%w: retry max delay must be at least the base delay", ErrInvalidInput)
	}
	if !s.Retry.Indefinite && s.Retry.MaxRetries <= 0 {
		return fmt.Errorf("%w: max retries must be positive unless indefinite", ErrInvalidInput)
	}
	if s.Retry.BatchSize <= 0 {
		return fmt.Errorf("%w: retry batch size must be positive", ErrInvalidInput)
	}
	for gw, fee := range s.BankFees {
		if fee.Percent.IsNegative() || fee.Fixed.IsNegative() {
			return fmt.Errorf("%w: bank fee for %s must not be negative", ErrInvalidInput, gw)
		}
		if fee.Percent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: bank fee percent for %s must be below 100", ErrInvalidInput, gw)
		}
	}
	return nil
}
