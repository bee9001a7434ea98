package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven/mocks"
)

func TestSettingsService_GetDefaults(t *testing.T) {
	svc := NewSettingsService(mocks.NewMockSettingsStore(nil), nil)

	settings, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !settings.AmountTolerance.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("AmountTolerance = %s, want 0.05", settings.AmountTolerance)
	}
	if settings.ContactMatchKey != domain.ContactMatchEmail {
		t.Errorf("ContactMatchKey = %s, want email", settings.ContactMatchKey)
	}
}

func TestSettingsService_Update(t *testing.T) {
	store := mocks.NewMockSettingsStore(nil)
	svc := NewSettingsService(store, nil)
	ctx := context.Background()

	stop := true
	key := domain.ContactMatchName
	tolerance := decimal.RequireFromString("0.10")
	base := 2 * time.Minute
	fees := map[string]domain.BankFee{
		"stripe": {Percent: decimal.RequireFromString("2.9"), Fixed: decimal.RequireFromString("0.30")},
	}

	updated, err := svc.Update(ctx, "admin-1", driving.UpdateSettingsRequest{
		StopOnConflict:  &stop,
		ContactMatchKey: &key,
		AmountTolerance: &tolerance,
		RetryBaseDelay:  &base,
		BankFees:        fees,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !updated.StopOnConflict || updated.ContactMatchKey != domain.ContactMatchName {
		t.Errorf("updated = %+v", updated)
	}
	if updated.UpdatedBy != "admin-1" || updated.UpdatedAt.IsZero() {
		t.Errorf("UpdatedBy/UpdatedAt = %q/%v", updated.UpdatedBy, updated.UpdatedAt)
	}

	// Caller's map is copied
	fees["stripe"] = domain.BankFee{}
	stored, _ := store.GetSyncSettings(ctx)
	if stored.FeeFor("stripe").IsZero() {
		t.Error("stored bank fee changed through the caller's map")
	}
	if stored.Retry.BaseDelay != base {
		t.Errorf("Retry.BaseDelay = %v, want %v", stored.Retry.BaseDelay, base)
	}
}

func TestSettingsService_UpdateValidation(t *testing.T) {
	store := mocks.NewMockSettingsStore(nil)
	svc := NewSettingsService(store, nil)
	ctx := context.Background()

	negative := decimal.RequireFromString("-0.01")
	badKey := domain.ContactMatchKey("fax")
	zero := 0
	maxDelay := time.Second

	tests := []struct {
		name string
		req  driving.UpdateSettingsRequest
	}{
		{"negative tolerance", driving.UpdateSettingsRequest{AmountTolerance: &negative}},
		{"unknown match key", driving.UpdateSettingsRequest{ContactMatchKey: &badKey}},
		{"zero max retries", driving.UpdateSettingsRequest{RetryMaxRetries: &zero}},
		{"max below base", driving.UpdateSettingsRequest{RetryMaxDelay: &maxDelay}},
		{"fee of 100 percent", driving.UpdateSettingsRequest{BankFees: map[string]domain.BankFee{
			"paypal": {Percent: decimal.NewFromInt(100)},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Update(ctx, "admin-1", tt.req)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("Update() error = %v, want ErrInvalidInput", err)
			}
		})
	}

	stored, _ := store.GetSyncSettings(ctx)
	if stored.UpdatedBy != "" {
		t.Error("rejected updates must not be saved")
	}
}
