package models

import "time"

// OAuthStateToken is a single-use CSRF token for the provider linking flow.
// Only the SHA-256 hash of the issued token is persisted.
type OAuthStateToken struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TokenHash    string    `gorm:"type:char(64);not null;uniqueIndex:ux_oauth_state_tokens_token" json:"-"`
	ProviderType string    `gorm:"type:varchar(20);not null;index" json:"provider_type"`
	ExpiresAt    time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (OAuthStateToken) TableName() string {
	return "oauth_state_tokens"
}
