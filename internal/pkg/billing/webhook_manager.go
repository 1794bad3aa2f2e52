package billing

import (
	"strings"

	"github.com/ManuelReschke/Almanac/internal/pkg/env"
)

const (
	webhookPathPrefix  = "/api/subscription/v1/webhooks/"
	callbackPathPrefix = "/api/subscription/v1/providers/"
)

// WebhookManager derives the public URLs providers call back on.
type WebhookManager struct {
	publicDomain   string
	webhookBaseURL string
	appPort        string
}

// NewWebhookManager creates a URL builder for provider webhooks.
func NewWebhookManager(publicDomain, webhookBaseURL, appPort string) *WebhookManager {
	return &WebhookManager{
		publicDomain:   strings.TrimSpace(publicDomain),
		webhookBaseURL: strings.TrimSpace(webhookBaseURL),
		appPort:        strings.TrimSpace(appPort),
	}
}

// NewWebhookManagerFromEnv reads PUBLIC_DOMAIN, WEBHOOK_BASE_URL and APP_PORT.
func NewWebhookManagerFromEnv() *WebhookManager {
	return NewWebhookManager(
		env.GetEnv("PUBLIC_DOMAIN", ""),
		env.GetEnv("WEBHOOK_BASE_URL", ""),
		env.GetEnv("APP_PORT", "4000"),
	)
}

// BaseURL resolves configured domain, then the environment override, then localhost.
func (m *WebhookManager) BaseURL() string {
	if m.publicDomain != "" {
		base := m.publicDomain
		if !strings.Contains(base, "://") {
			base = "https://" + base
		}
		return strings.TrimRight(base, "/")
	}
	if m.webhookBaseURL != "" {
		return strings.TrimRight(m.webhookBaseURL, "/")
	}
	port := m.appPort
	if port == "" {
		port = "4000"
	}
	return "http://localhost:" + port
}

// GenerateWebhookURL returns the public webhook URL for a provider type.
func (m *WebhookManager) GenerateWebhookURL(providerType string) string {
	return m.BaseURL() + webhookPathPrefix + strings.ToLower(strings.TrimSpace(providerType))
}

// OAuthRedirectURL is where the provider sends the admin back after consent.
func (m *WebhookManager) OAuthRedirectURL(providerType string) string {
	return m.BaseURL() + callbackPathPrefix + strings.ToLower(strings.TrimSpace(providerType)) + "/callback"
}
