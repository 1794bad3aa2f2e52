package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// SubscriptionSettingsID is the primary key of the singleton settings row.
const SubscriptionSettingsID uint = 1

// SubscriptionSettings is the instance-wide subscription configuration.
type SubscriptionSettings struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	Enabled         bool      `gorm:"default:false" json:"enabled"`
	MonthlyPrice    int64     `gorm:"not null;default:0" json:"monthly_price" validate:"gte=0"`
	YearlyPrice     int64     `gorm:"not null;default:0" json:"yearly_price" validate:"gte=0"`
	Currency        string    `gorm:"type:char(3);not null;default:'USD'" json:"currency" validate:"required,iso4217"`
	PayWhatYouCan   bool      `gorm:"default:false" json:"pay_what_you_can"`
	GracePeriodDays int       `gorm:"not null;default:7" json:"grace_period_days" validate:"gte=0,lte=365"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DefaultSubscriptionSettings is used until an admin saves the settings row.
func DefaultSubscriptionSettings() SubscriptionSettings {
	return SubscriptionSettings{
		ID:              SubscriptionSettingsID,
		Enabled:         false,
		MonthlyPrice:    1_000_000,
		YearlyPrice:     10_000_000,
		Currency:        "USD",
		PayWhatYouCan:   false,
		GracePeriodDays: 7,
	}
}

// Validate validates the settings
func (s *SubscriptionSettings) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}

// SuggestedPrice returns the configured price in millicents for a billing cycle.
func (s *SubscriptionSettings) SuggestedPrice(cycle string) int64 {
	if cycle == BillingCycleYearly {
		return s.YearlyPrice
	}
	return s.MonthlyPrice
}

// GracePeriod converts GracePeriodDays into a duration.
func (s *SubscriptionSettings) GracePeriod() time.Duration {
	return time.Duration(s.GracePeriodDays) * 24 * time.Hour
}

// TableName keeps the settings in a single-row table.
func (SubscriptionSettings) TableName() string {
	return "subscription_settings"
}
