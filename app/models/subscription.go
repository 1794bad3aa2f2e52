package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Payment provider types. Each maps to exactly one adapter implementation.
const (
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPastDue   = "past_due"
	SubscriptionStatusSuspended = "suspended"
	SubscriptionStatusCancelled = "cancelled"
)

// NonTerminalStatuses lists every status a subscription can leave again.
var NonTerminalStatuses = []string{
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusSuspended,
}

// Subscription mirrors one provider subscription owned by an account.
// Rows are never hard-deleted; cancelled is terminal and suspended rows are kept for audit.
type Subscription struct {
	ID                     string     `gorm:"type:char(36);primaryKey" json:"id"`
	AccountID              string     `gorm:"type:char(36);not null;index:idx_subscriptions_account_created,priority:1" json:"account_id"`
	ProviderConfigID       string     `gorm:"type:char(36);not null;index:idx_subscriptions_provider_status,priority:1;index:ux_subscriptions_provider_subid,unique,priority:1" json:"provider_config_id"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	ProviderCustomerID     string     `gorm:"type:varchar(191);not null;default:''" json:"provider_customer_id"`
	Status                 string     `gorm:"type:varchar(16);not null;default:'active';index:idx_subscriptions_provider_status,priority:2;index:idx_subscriptions_status_updated,priority:1" json:"status"`
	BillingCycle           string     `gorm:"type:varchar(16);not null" json:"billing_cycle"`
	Amount                 int64      `gorm:"not null" json:"amount"` // millicents
	Currency               string     `gorm:"type:char(3);not null" json:"currency"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelledAt            *time.Time `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	SuspendedAt            *time.Time `gorm:"type:timestamp;default:null" json:"suspended_at,omitempty"`
	Version                int64      `gorm:"not null;default:0" json:"-"`
	CreatedAt              time.Time  `gorm:"type:datetime(6);autoCreateTime;index:idx_subscriptions_account_created,priority:2" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime;index:idx_subscriptions_status_updated,priority:2" json:"updated_at"`
}

// BeforeCreate assigns a time-ordered UUIDv7 when the caller did not, so id
// breaks ties between rows created within the same created_at tick.
func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		s.ID = id.String()
	}
	return nil
}

// IsTerminal reports whether the row can no longer change status.
func (s *Subscription) IsTerminal() bool {
	return IsTerminalStatus(s.Status)
}

// IsTerminalStatus reports whether status is final.
func IsTerminalStatus(status string) bool {
	return status == SubscriptionStatusCancelled
}

// IsValidSubscriptionStatus reports whether status is a known subscription status.
func IsValidSubscriptionStatus(status string) bool {
	switch status {
	case SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusSuspended, SubscriptionStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidBillingCycle reports whether cycle is monthly or yearly.
func IsValidBillingCycle(cycle string) bool {
	switch cycle {
	case BillingCycleMonthly, BillingCycleYearly:
		return true
	default:
		return false
	}
}

// IsValidProviderType reports whether providerType names a supported provider.
func IsValidProviderType(providerType string) bool {
	switch strings.ToLower(strings.TrimSpace(providerType)) {
	case ProviderStripe, ProviderPayPal:
		return true
	default:
		return false
	}
}
