package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure settingsService implements SettingsService
var _ driving.SettingsService = (*settingsService)(nil)

// settingsService implements the SettingsService interface
type settingsService struct {
	settingsStore driven.SettingsStore
	logger        *slog.Logger
}

// NewSettingsService creates a new SettingsService
func NewSettingsService(settingsStore driven.SettingsStore, logger *slog.Logger) driving.SettingsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &settingsService{
		settingsStore: settingsStore,
		logger:        logger,
	}
}

// Get retrieves the current settings
func (s *settingsService) Get(ctx context.Context) (*domain.SyncSettings, error) {
	return s.settingsStore.GetSyncSettings(ctx)
}

// Update applies a partial update (admin only).
// Changes take effect on the next sync; nothing is cached in between.
func (s *settingsService) Update(ctx context.Context, updaterID string, req driving.UpdateSettingsRequest) (*domain.SyncSettings, error) {
	settings, err := s.settingsStore.GetSyncSettings(ctx)
	if err != nil {
		return nil, err
	}

	// Apply updates
	if req.StopOnConflict != nil {
		settings.StopOnConflict = *req.StopOnConflict
	}
	if req.ContactMatchKey != nil {
		settings.ContactMatchKey = *req.ContactMatchKey
	}
	if req.AutoApplyPayment != nil {
		settings.AutoApplyPayment = *req.AutoApplyPayment
	}
	if req.BankFees != nil {
		fees := make(map[string]domain.BankFee, len(req.BankFees))
		for gw, fee := range req.BankFees {
			fees[gw] = fee
		}
		settings.BankFees = fees
	}
	if req.PaymentAccountCode != nil {
		settings.PaymentAccountCode = *req.PaymentAccountCode
	}
	if req.AmountTolerance != nil {
		settings.AmountTolerance = *req.AmountTolerance
	}
	if req.RetryBaseDelay != nil {
		settings.Retry.BaseDelay = *req.RetryBaseDelay
	}
	if req.RetryMaxDelay != nil {
		settings.Retry.MaxDelay = *req.RetryMaxDelay
	}
	if req.RetryMaxRetries != nil {
		settings.Retry.MaxRetries = *req.RetryMaxRetries
	}
	if req.RetryIndefinite != nil {
		settings.Retry.Indefinite = *req.RetryIndefinite
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	settings.UpdatedAt = time.Now()
	settings.UpdatedBy = updaterID

	if err := s.settingsStore.SaveSyncSettings(ctx, settings); err != nil {
		return nil, err
	}

	s.logger.Info("sync settings updated",
		"updated_by", updaterID,
		"stop_on_conflict", settings.StopOnConflict,
		"auto_apply_payment", settings.AutoApplyPayment,
		"contact_match_key", settings.ContactMatchKey,
	)
	return settings, nil
}
