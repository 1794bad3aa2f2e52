// Package provider hides payment processors behind one Adapter contract.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrConfiguration marks missing or malformed provider setup. It is returned
	// when an adapter is built, never per call.
	ErrConfiguration   = errors.New("provider configuration error")
	ErrUnknownProvider = fmt.Errorf("%w: unknown provider type", ErrConfiguration)
)

// Credentials is the decoded key/value credential set stored (sealed) on a provider config.
type Credentials map[string]string

// EventKind is the provider-neutral meaning of a webhook event.
type EventKind string

const (
	EventPaymentSucceeded      EventKind = "payment_succeeded"
	EventPaymentFailed         EventKind = "payment_failed"
	EventSubscriptionCancelled EventKind = "subscription_cancelled"
	EventSubscriptionUpdated   EventKind = "subscription_updated"
	EventUnknown               EventKind = "unknown"
)

type WebhookRegistration struct {
	WebhookID     string
	WebhookSecret string
}

type CreateSubscriptionParams struct {
	AccountID    string
	Email        string
	BillingCycle string
	Amount       int64 // millicents
	Currency     string
	ProductName  string
	ReturnURL    string
	CancelURL    string
}

type ProviderSubscription struct {
	SubscriptionID     string
	CustomerID         string
	Status             string // local status vocabulary
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	// ApprovalURL is set when the subscriber must confirm with the provider first.
	ApprovalURL string
}

// WebhookEvent is a verified, parsed provider notification.
type WebhookEvent struct {
	EventID        string
	EventType      string
	Kind           EventKind
	SubscriptionID string
	Status         string // set for EventSubscriptionUpdated
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	Payload        []byte
}

// Adapter is implemented once per payment provider. Methods that take explicit
// Credentials work before a provider config exists (OAuth callback, manual setup);
// the rest use the credentials the adapter was built with.
type Adapter interface {
	Type() string
	BuildOAuthURL(state, redirectURI string) (string, error)
	ExchangeCodeForCredentials(ctx context.Context, code, redirectURI string) (Credentials, error)
	RegisterWebhook(ctx context.Context, url string, creds Credentials) (*WebhookRegistration, error)
	DeleteWebhook(ctx context.Context, webhookID string, creds Credentials) error
	ValidateCredentials(ctx context.Context, creds Credentials) (bool, error)
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*ProviderSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) error
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	GetBillingPortalURL(ctx context.Context, customerID, returnURL string) (string, error)
	VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) bool
	ParseWebhookEvent(payload []byte) (*WebhookEvent, error)
	// Credentials returns the credential set the adapter was built with.
	Credentials() Credentials
}

// APIError is a non-2xx answer from a provider REST API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: status=%d body=%s", e.Provider, e.StatusCode, e.Body)
}

// MillicentsToDecimal converts an amount in millicents (1/1000 cent) to major currency units.
func MillicentsToDecimal(amount int64) decimal.Decimal {
	return decimal.New(amount, -5)
}

// MillicentsToCents rounds half away from zero to whole cents.
func MillicentsToCents(amount int64) int64 {
	return decimal.New(amount, -3).Round(0).IntPart()
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
