package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	defaultStripeConnectURL   = "https://connect.stripe.com"
	defaultProductName        = "Almanac subscription"
	stripeSignatureHeader     = "Stripe-Signature"
	stripeEventInvoicePaid    = "invoice.paid"
	stripeEventPaymentFailed  = "invoice.payment_failed"
	stripeEventSubUpdated     = "customer.subscription.updated"
	stripeEventSubDeleted     = "customer.subscription.deleted"
	stripeInvoiceDaysUntilDue = 7
)

var stripeWebhookEvents = []string{
	stripeEventInvoicePaid,
	stripeEventPaymentFailed,
	stripeEventSubUpdated,
	stripeEventSubDeleted,
}

// StripePlatform holds the platform-level Stripe Connect application.
type StripePlatform struct {
	ConnectClientID string
	SecretKey       string
}

type StripeOptions struct {
	Credentials   StripeCredentials
	WebhookSecret string
	Platform      StripePlatform
	HTTPClient    *http.Client
	// APIURL and ConnectURL override Stripe endpoints (tests, proxies).
	APIURL     string
	ConnectURL string
	Logger     *zap.Logger
}

// StripeAdapter talks to Stripe with a per-account client, so several configs
// can coexist in one process.
type StripeAdapter struct {
	opts StripeOptions
	api  *client.API
	log  *zap.Logger

	productMu sync.Mutex
	productID string
}

// NewStripeAdapter creates a Stripe adapter.
func NewStripeAdapter(opts StripeOptions) *StripeAdapter {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	a := &StripeAdapter{
		opts:      opts,
		log:       opts.Logger.With(zap.String("provider", models.ProviderStripe)),
		productID: opts.Credentials.ProductID,
	}
	if opts.Credentials.SecretKey != "" {
		a.api = a.newAPI(opts.Credentials.SecretKey)
	}
	return a
}

func (a *StripeAdapter) Type() string { return models.ProviderStripe }

// Credentials returns the credentials the adapter was built with.
func (a *StripeAdapter) Credentials() Credentials {
	if a.opts.Credentials.SecretKey == "" {
		return Credentials{}
	}
	return a.opts.Credentials.Map()
}

func (a *StripeAdapter) newAPI(key string) *client.API {
	cfg := &stripe.BackendConfig{HTTPClient: a.opts.HTTPClient}
	if a.opts.APIURL != "" {
		cfg.URL = stripe.String(a.opts.APIURL)
	}
	connectCfg := &stripe.BackendConfig{HTTPClient: a.opts.HTTPClient}
	if a.opts.ConnectURL != "" {
		connectCfg.URL = stripe.String(a.opts.ConnectURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, connectCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, &stripe.BackendConfig{HTTPClient: a.opts.HTTPClient}),
	}
	return client.New(key, backends)
}

func (a *StripeAdapter) accountAPI() (*client.API, error) {
	if a.api == nil {
		return nil, fmt.Errorf("%w: stripe adapter has no account credentials", ErrConfiguration)
	}
	return a.api, nil
}

func (a *StripeAdapter) apiFor(creds Credentials) (*client.API, error) {
	decoded, err := DecodeStripeCredentials(creds)
	if err != nil {
		return nil, err
	}
	return a.newAPI(decoded.SecretKey), nil
}

func (a *StripeAdapter) oauthConfig(redirectURI string) (*oauth2.Config, error) {
	if strings.TrimSpace(a.opts.Platform.ConnectClientID) == "" {
		return nil, fmt.Errorf("%w: STRIPE_CONNECT_CLIENT_ID is not configured", ErrConfiguration)
	}
	base := strings.TrimRight(a.opts.ConnectURL, "/")
	if base == "" {
		base = defaultStripeConnectURL
	}
	return &oauth2.Config{
		ClientID:     a.opts.Platform.ConnectClientID,
		ClientSecret: a.opts.Platform.SecretKey,
		RedirectURL:  redirectURI,
		Scopes:       []string{"read_write"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/oauth/authorize",
			TokenURL:  base + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

// BuildOAuthURL returns the Stripe Connect authorize URL.
func (a *StripeAdapter) BuildOAuthURL(state, redirectURI string) (string, error) {
	cfg, err := a.oauthConfig(redirectURI)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state), nil
}

// ExchangeCodeForCredentials trades a Connect code for account credentials.
func (a *StripeAdapter) ExchangeCodeForCredentials(ctx context.Context, code, redirectURI string) (Credentials, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("oauth code is required")
	}
	if strings.TrimSpace(a.opts.Platform.SecretKey) == "" {
		return nil, fmt.Errorf("%w: STRIPE_PLATFORM_SECRET_KEY is not configured", ErrConfiguration)
	}
	cfg, err := a.oauthConfig(redirectURI)
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.opts.HTTPClient)
	token, err := cfg.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("stripe connect token exchange failed: %w", err)
	}

	creds := StripeCredentials{SecretKey: token.AccessToken}
	if v, ok := token.Extra("stripe_user_id").(string); ok {
		creds.AccountID = v
	}
	if v, ok := token.Extra("stripe_publishable_key").(string); ok {
		creds.PublishableKey = v
	}
	if creds.SecretKey == "" {
		return nil, errors.New("stripe connect token exchange returned empty access_token")
	}
	return creds.Map(), nil
}

// RegisterWebhook creates a webhook endpoint for subscription events.
func (a *StripeAdapter) RegisterWebhook(ctx context.Context, url string, creds Credentials) (*WebhookRegistration, error) {
	api, err := a.apiFor(creds)
	if err != nil {
		return nil, err
	}
	params := &stripe.WebhookEndpointParams{
		URL:           stripe.String(url),
		EnabledEvents: stripe.StringSlice(stripeWebhookEvents),
		Description:   stripe.String("Almanac subscription events"),
	}
	params.Context = ctx
	endpoint, err := api.WebhookEndpoints.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: failed to register webhook: %w", err)
	}
	return &WebhookRegistration{WebhookID: endpoint.ID, WebhookSecret: endpoint.Secret}, nil
}

// DeleteWebhook removes a webhook endpoint. An empty id is a no-op.
func (a *StripeAdapter) DeleteWebhook(ctx context.Context, webhookID string, creds Credentials) error {
	if strings.TrimSpace(webhookID) == "" {
		return nil
	}
	api, err := a.apiFor(creds)
	if err != nil {
		return err
	}
	params := &stripe.WebhookEndpointParams{}
	params.Context = ctx
	if _, err := api.WebhookEndpoints.Del(webhookID, params); err != nil {
		return fmt.Errorf("stripe: failed to delete webhook %s: %w", webhookID, err)
	}
	return nil
}

// ValidateCredentials reports false (without error) when Stripe rejects the key.
func (a *StripeAdapter) ValidateCredentials(ctx context.Context, creds Credentials) (bool, error) {
	api, err := a.apiFor(creds)
	if err != nil {
		return false, nil
	}
	params := &stripe.BalanceParams{}
	params.Context = ctx
	if _, err := api.Balance.Get(params); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && (stripeErr.HTTPStatusCode == http.StatusUnauthorized || stripeErr.HTTPStatusCode == http.StatusForbidden) {
			return false, nil
		}
		return false, fmt.Errorf("stripe: credential check failed: %w", err)
	}
	return true, nil
}

func (a *StripeAdapter) ensureProduct(ctx context.Context, api *client.API, name string) (string, error) {
	a.productMu.Lock()
	defer a.productMu.Unlock()
	if a.productID != "" {
		return a.productID, nil
	}
	if name == "" {
		name = defaultProductName
	}
	params := &stripe.ProductParams{Name: stripe.String(name)}
	params.Context = ctx
	product, err := api.Products.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: failed to create product: %w", err)
	}
	a.productID = product.ID
	return product.ID, nil
}

func stripeInterval(cycle string) string {
	if cycle == models.BillingCycleYearly {
		return string(stripe.PriceRecurringIntervalYear)
	}
	return string(stripe.PriceRecurringIntervalMonth)
}

// CreateSubscription creates a customer and a subscription with inline price data.
func (a *StripeAdapter) CreateSubscription(ctx context.Context, in CreateSubscriptionParams) (*ProviderSubscription, error) {
	api, err := a.accountAPI()
	if err != nil {
		return nil, err
	}

	customerParams := &stripe.CustomerParams{Email: stripe.String(in.Email)}
	customerParams.Context = ctx
	customerParams.AddMetadata("account_id", in.AccountID)
	cust, err := api.Customers.New(customerParams)
	if err != nil {
		return nil, fmt.Errorf("stripe: failed to create customer: %w", err)
	}

	productID, err := a.ensureProduct(ctx, api, in.ProductName)
	if err != nil {
		return nil, err
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(cust.ID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				PriceData: &stripe.SubscriptionItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(in.Currency)),
					Product:    stripe.String(productID),
					UnitAmount: stripe.Int64(MillicentsToCents(in.Amount)),
					Recurring: &stripe.SubscriptionItemPriceDataRecurringParams{
						Interval: stripe.String(stripeInterval(in.BillingCycle)),
					},
				},
			},
		},
		CollectionMethod: stripe.String(string(stripe.SubscriptionCollectionMethodSendInvoice)),
		DaysUntilDue:     stripe.Int64(stripeInvoiceDaysUntilDue),
	}
	params.Context = ctx
	params.AddMetadata("account_id", in.AccountID)

	sub, err := api.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: failed to create subscription: %w", err)
	}

	a.log.Info("created subscription",
		zap.String("subscription_id", sub.ID),
		zap.String("customer_id", cust.ID),
		zap.String("status", string(sub.Status)))

	out := stripeSubscription(sub)
	out.CustomerID = cust.ID
	return out, nil
}

// CancelSubscription cancels now or at the end of the current period.
func (a *StripeAdapter) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) error {
	api, err := a.accountAPI()
	if err != nil {
		return err
	}
	if immediate {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		if _, err := api.Subscriptions.Cancel(subscriptionID, params); err != nil {
			return fmt.Errorf("stripe: failed to cancel subscription %s: %w", subscriptionID, err)
		}
		return nil
	}
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	if _, err := api.Subscriptions.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("stripe: failed to schedule cancellation of %s: %w", subscriptionID, err)
	}
	return nil
}

// GetSubscription fetches the current state of a subscription.
func (a *StripeAdapter) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	api, err := a.accountAPI()
	if err != nil {
		return nil, err
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: failed to get subscription %s: %w", subscriptionID, err)
	}
	return stripeSubscription(sub), nil
}

// GetBillingPortalURL opens a customer portal session.
func (a *StripeAdapter) GetBillingPortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	api, err := a.accountAPI()
	if err != nil {
		return "", err
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	session, err := api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: failed to create billing portal session: %w", err)
	}
	return session.URL, nil
}

// VerifyWebhookSignature checks the Stripe-Signature header.
func (a *StripeAdapter) VerifyWebhookSignature(_ context.Context, payload []byte, headers http.Header) bool {
	signature := headers.Get(stripeSignatureHeader)
	if signature == "" || a.opts.WebhookSecret == "" {
		return false
	}
	return webhook.ValidatePayload(payload, signature, a.opts.WebhookSecret) == nil
}

// ParseWebhookEvent normalizes a Stripe event payload.
func (a *StripeAdapter) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("stripe: invalid event payload: %w", err)
	}
	if event.ID == "" {
		return nil, errors.New("stripe: event id is missing")
	}

	out := &WebhookEvent{
		EventID:   event.ID,
		EventType: string(event.Type),
		Kind:      EventUnknown,
		Payload:   payload,
	}
	if event.Data == nil {
		return out, nil
	}

	switch out.EventType {
	case stripeEventInvoicePaid, stripeEventPaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("stripe: invalid invoice object: %w", err)
		}
		if invoice.Subscription != nil {
			out.SubscriptionID = invoice.Subscription.ID
		}
		if invoice.Lines != nil && len(invoice.Lines.Data) > 0 && invoice.Lines.Data[0].Period != nil {
			out.PeriodStart = unixTime(invoice.Lines.Data[0].Period.Start)
			out.PeriodEnd = unixTime(invoice.Lines.Data[0].Period.End)
		}
		out.Kind = EventPaymentSucceeded
		if out.EventType == stripeEventPaymentFailed {
			out.Kind = EventPaymentFailed
		}
	case stripeEventSubUpdated, stripeEventSubDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("stripe: invalid subscription object: %w", err)
		}
		out.SubscriptionID = sub.ID
		out.PeriodStart = unixTime(sub.CurrentPeriodStart)
		out.PeriodEnd = unixTime(sub.CurrentPeriodEnd)
		if out.EventType == stripeEventSubDeleted {
			out.Kind = EventSubscriptionCancelled
		} else {
			out.Kind = EventSubscriptionUpdated
			out.Status = MapStripeStatus(sub.Status)
		}
	}
	return out, nil
}

// MapStripeStatus folds Stripe's subscription statuses into the local vocabulary.
func MapStripeStatus(status stripe.SubscriptionStatus) string {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return models.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncomplete:
		return models.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return models.SubscriptionStatusCancelled
	case stripe.SubscriptionStatusPaused:
		return models.SubscriptionStatusSuspended
	default:
		return ""
	}
}

func stripeSubscription(sub *stripe.Subscription) *ProviderSubscription {
	out := &ProviderSubscription{
		SubscriptionID:     sub.ID,
		Status:             MapStripeStatus(sub.Status),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	return out
}

var _ Adapter = (*StripeAdapter)(nil)
