package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProviderConfig stores the admin-linked payment provider for this instance.
// Credentials and WebhookSecret are sealed blobs; only the provider registry opens them.
type ProviderConfig struct {
	ID            string    `gorm:"type:char(36);primaryKey" json:"id"`
	ProviderType  string    `gorm:"type:varchar(20);not null;uniqueIndex:ux_provider_configs_type" json:"provider_type"`
	Enabled       bool      `gorm:"default:false" json:"enabled"`
	DisplayName   string    `gorm:"type:varchar(100);not null;default:''" json:"display_name"`
	Credentials   string    `gorm:"type:text" json:"-"`
	WebhookID     string    `gorm:"type:varchar(191);not null;default:''" json:"webhook_id"`
	WebhookSecret string    `gorm:"type:text" json:"-"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (p *ProviderConfig) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
