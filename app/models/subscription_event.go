package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriptionEvent is the append-only webhook ledger. The unique index on
// provider_event_id is what makes webhook ingestion idempotent.
type SubscriptionEvent struct {
	ID               string    `gorm:"type:char(36);primaryKey" json:"id"`
	ProviderEventID  string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscription_events_provider_event" json:"provider_event_id"`
	EventType        string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Payload          string    `gorm:"type:longtext" json:"payload"`
	SubscriptionID   string    `gorm:"type:char(36);not null;index" json:"subscription_id"`
	ProviderConfigID string    `gorm:"type:char(36);not null" json:"provider_config_id"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (e *SubscriptionEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
