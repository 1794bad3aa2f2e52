package provider

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/ManuelReschke/Almanac/internal/pkg/env"
	"github.com/ManuelReschke/Almanac/internal/pkg/security"
	"go.uber.org/zap"
)

// Platform carries the instance-level OAuth applications and endpoint overrides.
type Platform struct {
	Stripe StripePlatform
	PayPal PayPalPlatform

	StripeAPIURL     string
	StripeConnectURL string
	PayPalAPIURL     string
	PayPalWebURL     string
}

// PlatformFromEnv reads STRIPE_* and PAYPAL_* platform settings.
func PlatformFromEnv() Platform {
	return Platform{
		Stripe: StripePlatform{
			ConnectClientID: strings.TrimSpace(env.GetEnv("STRIPE_CONNECT_CLIENT_ID", "")),
			SecretKey:       strings.TrimSpace(env.GetEnv("STRIPE_PLATFORM_SECRET_KEY", "")),
		},
		PayPal: PayPalPlatform{
			ClientID:     strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
			ClientSecret: strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_SECRET", "")),
			Sandbox:      env.GetEnvBool("PAYPAL_SANDBOX", true),
		},
		StripeAPIURL: strings.TrimSpace(env.GetEnv("STRIPE_API_URL", "")),
		PayPalAPIURL: strings.TrimSpace(env.GetEnv("PAYPAL_API_URL", "")),
	}
}

// Registry builds one adapter per provider config and keeps it until Invalidate.
type Registry struct {
	sealer     *security.Sealer
	platform   Platform
	httpClient *http.Client
	log        *zap.Logger

	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an adapter registry.
func NewRegistry(sealer *security.Sealer, platform Platform, httpClient *http.Client, log *zap.Logger) *Registry {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		sealer:     sealer,
		platform:   platform,
		httpClient: httpClient,
		log:        log,
		adapters:   make(map[string]Adapter),
	}
}

// Adapter returns the cached adapter for cfg, building it on first use.
// Credential decode failures surface here as ErrConfiguration.
func (r *Registry) Adapter(cfg *models.ProviderConfig) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[cfg.ID]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.adapters[cfg.ID]; ok {
		return a, nil
	}
	a, err := r.build(cfg)
	if err != nil {
		return nil, err
	}
	r.adapters[cfg.ID] = a
	return a, nil
}

// PlatformAdapter returns an adapter without account credentials, for the OAuth
// linking flow and for calls that pass credentials explicitly.
func (r *Registry) PlatformAdapter(providerType string) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(providerType)) {
	case models.ProviderStripe:
		return r.newStripe(StripeCredentials{}, ""), nil
	case models.ProviderPayPal:
		return r.newPayPal(PayPalCredentials{}, ""), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerType)
	}
}

// Invalidate drops the cached adapter for a config id after update or delete.
func (r *Registry) Invalidate(configID string) {
	r.mu.Lock()
	delete(r.adapters, configID)
	r.mu.Unlock()
}

// HasPlatformCredentials reports whether the OAuth linking flow is available for a type.
func (r *Registry) HasPlatformCredentials(providerType string) bool {
	switch providerType {
	case models.ProviderStripe:
		return r.platform.Stripe.ConnectClientID != "" && r.platform.Stripe.SecretKey != ""
	case models.ProviderPayPal:
		return r.platform.PayPal.ClientID != "" && r.platform.PayPal.ClientSecret != ""
	default:
		return false
	}
}

func (r *Registry) build(cfg *models.ProviderConfig) (Adapter, error) {
	if !models.IsValidProviderType(cfg.ProviderType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.ProviderType)
	}
	if r.sealer == nil {
		return nil, fmt.Errorf("%w: credentials key is not configured", ErrConfiguration)
	}
	values, err := r.sealer.OpenMap(cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("%w: provider %s credentials: %v", ErrConfiguration, cfg.ID, err)
	}
	secret, err := r.sealer.OpenString(cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: provider %s webhook secret: %v", ErrConfiguration, cfg.ID, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.ProviderType)) {
	case models.ProviderStripe:
		creds, err := DecodeStripeCredentials(Credentials(values))
		if err != nil {
			return nil, err
		}
		return r.newStripe(creds, secret), nil
	default:
		creds, err := DecodePayPalCredentials(Credentials(values))
		if err != nil {
			return nil, err
		}
		webhookID := cfg.WebhookID
		if webhookID == "" {
			webhookID = secret
		}
		return r.newPayPal(creds, webhookID), nil
	}
}

func (r *Registry) newStripe(creds StripeCredentials, webhookSecret string) *StripeAdapter {
	return NewStripeAdapter(StripeOptions{
		Credentials:   creds,
		WebhookSecret: webhookSecret,
		Platform:      r.platform.Stripe,
		HTTPClient:    r.httpClient,
		APIURL:        r.platform.StripeAPIURL,
		ConnectURL:    r.platform.StripeConnectURL,
		Logger:        r.log,
	})
}

func (r *Registry) newPayPal(creds PayPalCredentials, webhookID string) *PayPalAdapter {
	return NewPayPalAdapter(PayPalOptions{
		Credentials: creds,
		WebhookID:   webhookID,
		Platform:    r.platform.PayPal,
		HTTPClient:  r.httpClient,
		APIURL:      r.platform.PayPalAPIURL,
		WebURL:      r.platform.PayPalWebURL,
		Logger:      r.log,
	})
}
