package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/ManuelReschke/Almanac/app/repository"
)

// SettingsSource supplies the subscription settings a call should run with.
type SettingsSource interface {
	Settings(ctx context.Context) (*models.SubscriptionSettings, error)
}

// StaticSettings serves a fixed settings value.
type StaticSettings models.SubscriptionSettings

// Settings returns a copy of the fixed settings.
func (s StaticSettings) Settings(context.Context) (*models.SubscriptionSettings, error) {
	settings := models.SubscriptionSettings(s)
	return &settings, nil
}

// UpdateSettingsRequest carries a partial settings update; nil fields are left unchanged.
type UpdateSettingsRequest struct {
	Enabled         *bool   `json:"enabled"`
	MonthlyPrice    *int64  `json:"monthly_price"`
	YearlyPrice     *int64  `json:"yearly_price"`
	Currency        *string `json:"currency"`
	PayWhatYouCan   *bool   `json:"pay_what_you_can"`
	GracePeriodDays *int    `json:"grace_period_days"`
}

type SettingsService struct {
	repo repository.SettingsRepository
}

// NewSettingsService creates a settings service over the repository.
func NewSettingsService(repo repository.SettingsRepository) *SettingsService {
	return &SettingsService{repo: repo}
}

// Settings returns the current settings.
func (s *SettingsService) Settings(ctx context.Context) (*models.SubscriptionSettings, error) {
	return s.repo.Get(ctx)
}

// GetSettings returns the stored settings or the defaults.
func (s *SettingsService) GetSettings(ctx context.Context) (*models.SubscriptionSettings, error) {
	return s.repo.Get(ctx)
}

// UpdateSettings validates and persists a partial update.
func (s *SettingsService) UpdateSettings(ctx context.Context, req UpdateSettingsRequest) (*models.SubscriptionSettings, error) {
	settings, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}

	if req.Enabled != nil {
		settings.Enabled = *req.Enabled
	}
	if req.MonthlyPrice != nil {
		settings.MonthlyPrice = *req.MonthlyPrice
	}
	if req.YearlyPrice != nil {
		settings.YearlyPrice = *req.YearlyPrice
	}
	if req.Currency != nil {
		settings.Currency = strings.ToUpper(strings.TrimSpace(*req.Currency))
	}
	if req.PayWhatYouCan != nil {
		settings.PayWhatYouCan = *req.PayWhatYouCan
	}
	if req.GracePeriodDays != nil {
		settings.GracePeriodDays = *req.GracePeriodDays
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.repo.Save(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}
