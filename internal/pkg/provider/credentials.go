package provider

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	stripeKeySecretKey      = "secret_key"
	stripeKeyAccountID      = "account_id"
	stripeKeyPublishableKey = "publishable_key"
	stripeKeyProductID      = "product_id"

	paypalKeyClientID     = "client_id"
	paypalKeyClientSecret = "client_secret"
	paypalKeySandbox      = "sandbox"
	paypalKeyRefreshToken = "refresh_token"
	paypalKeyProductID    = "product_id"
)

// StripeCredentials is the typed view of a stripe credential set.
type StripeCredentials struct {
	SecretKey      string
	AccountID      string
	PublishableKey string
	ProductID      string
}

// DecodeStripeCredentials reads Stripe credentials from a generic map.
func DecodeStripeCredentials(c Credentials) (StripeCredentials, error) {
	creds := StripeCredentials{
		SecretKey:      strings.TrimSpace(c[stripeKeySecretKey]),
		AccountID:      strings.TrimSpace(c[stripeKeyAccountID]),
		PublishableKey: strings.TrimSpace(c[stripeKeyPublishableKey]),
		ProductID:      strings.TrimSpace(c[stripeKeyProductID]),
	}
	if creds.SecretKey == "" {
		return creds, fmt.Errorf("%w: stripe secret_key is missing", ErrConfiguration)
	}
	return creds, nil
}

// Map converts the credentials to the generic form.
func (c StripeCredentials) Map() Credentials {
	out := Credentials{stripeKeySecretKey: c.SecretKey}
	if c.AccountID != "" {
		out[stripeKeyAccountID] = c.AccountID
	}
	if c.PublishableKey != "" {
		out[stripeKeyPublishableKey] = c.PublishableKey
	}
	if c.ProductID != "" {
		out[stripeKeyProductID] = c.ProductID
	}
	return out
}

// PayPalCredentials is the typed view of a paypal credential set.
type PayPalCredentials struct {
	ClientID     string
	ClientSecret string
	Sandbox      bool
	RefreshToken string
	ProductID    string
}

// DecodePayPalCredentials reads PayPal credentials from a generic map.
func DecodePayPalCredentials(c Credentials) (PayPalCredentials, error) {
	creds := PayPalCredentials{
		ClientID:     strings.TrimSpace(c[paypalKeyClientID]),
		ClientSecret: strings.TrimSpace(c[paypalKeyClientSecret]),
		RefreshToken: strings.TrimSpace(c[paypalKeyRefreshToken]),
		ProductID:    strings.TrimSpace(c[paypalKeyProductID]),
	}
	if raw := strings.TrimSpace(c[paypalKeySandbox]); raw != "" {
		sandbox, err := strconv.ParseBool(raw)
		if err != nil {
			return creds, fmt.Errorf("%w: paypal sandbox flag %q", ErrConfiguration, raw)
		}
		creds.Sandbox = sandbox
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return creds, fmt.Errorf("%w: paypal client_id/client_secret are missing", ErrConfiguration)
	}
	return creds, nil
}

// Map converts the credentials to the generic form.
func (c PayPalCredentials) Map() Credentials {
	out := Credentials{
		paypalKeyClientID:     c.ClientID,
		paypalKeyClientSecret: c.ClientSecret,
		paypalKeySandbox:      strconv.FormatBool(c.Sandbox),
	}
	if c.RefreshToken != "" {
		out[paypalKeyRefreshToken] = c.RefreshToken
	}
	if c.ProductID != "" {
		out[paypalKeyProductID] = c.ProductID
	}
	return out
}
