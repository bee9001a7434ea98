package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefaultSyncSettings(t *testing.T) {
	s := DefaultSyncSettings()

	if !s.StopOnConflict {
		t.Error("expected stop on conflict by default")
	}
	if s.ContactMatchKey != ContactMatchEmail {
		t.Errorf("expected email match key, got %s", s.ContactMatchKey)
	}
	if !s.AmountTolerance.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("expected tolerance 0.05, got %s", s.AmountTolerance)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestSyncSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SyncSettings)
	}{
		{"unknown match key", func(s *SyncSettings) { s.ContactMatchKey = "fax" }},
		{"negative tolerance", func(s *SyncSettings) { s.AmountTolerance = decimal.NewFromInt(-1) }},
		{"zero base delay", func(s *SyncSettings) { s.Retry.BaseDelay = 0 }},
		{"max below base", func(s *SyncSettings) { s.Retry.MaxDelay = time.Second }},
		{"no retries", func(s *SyncSettings) { s.Retry.MaxRetries = 0 }},
		{"zero batch", func(s *SyncSettings) { s.Retry.BatchSize = 0 }},
		{"negative fee", func(s *SyncSettings) {
			s.BankFees = map[string]BankFee{"stripe": {Fixed: decimal.NewFromInt(-1)}}
		}},
		{"fee percent too high", func(s *SyncSettings) {
			s.BankFees = map[string]BankFee{"stripe": {Percent: decimal.NewFromInt(100)}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSyncSettings()
			tt.mutate(s)
			if err := s.Validate(); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSyncSettingsIndefiniteAllowsZeroMaxRetries(t *testing.T) {
	s := DefaultSyncSettings()
	s.Retry.MaxRetries = 0
	s.Retry.Indefinite = true
	if err := s.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSyncSettingsFeeFor(t *testing.T) {
	s := DefaultSyncSettings()
	if !s.FeeFor("stripe").IsZero() {
		t.Error("expected zero fee when none configured")
	}
	s.BankFees = map[string]BankFee{"stripe": {Percent: decimal.RequireFromString("2.9")}}
	if s.FeeFor("stripe").IsZero() {
		t.Error("expected configured fee")
	}
}
