package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/Almanac/app/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	paypalLiveAPIURL    = "https://api-m.paypal.com"
	paypalSandboxAPIURL = "https://api-m.sandbox.paypal.com"
	paypalLiveWebURL    = "https://www.paypal.com"
	paypalSandboxWebURL = "https://www.sandbox.paypal.com"

	paypalEventSubActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	paypalEventSubUpdated   = "BILLING.SUBSCRIPTION.UPDATED"
	paypalEventSubCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	paypalEventSubExpired   = "BILLING.SUBSCRIPTION.EXPIRED"
	paypalEventSubSuspended = "BILLING.SUBSCRIPTION.SUSPENDED"
	paypalEventPayFailed    = "BILLING.SUBSCRIPTION.PAYMENT.FAILED"
	paypalEventSaleDone     = "PAYMENT.SALE.COMPLETED"

	paypalOAuthScope = "openid email https://uri.paypal.com/services/paypalattributes"
)

var paypalWebhookEvents = []string{
	paypalEventSubActivated,
	paypalEventSubUpdated,
	paypalEventSubCancelled,
	paypalEventSubExpired,
	paypalEventSubSuspended,
	paypalEventPayFailed,
	paypalEventSaleDone,
}

// PayPalPlatform holds the platform REST app used for the linking flow.
type PayPalPlatform struct {
	ClientID     string
	ClientSecret string
	Sandbox      bool
}

type PayPalOptions struct {
	Credentials PayPalCredentials
	// WebhookID is the id PayPal assigned on registration; it is required for signature verification.
	WebhookID  string
	Platform   PayPalPlatform
	HTTPClient *http.Client
	// APIURL and WebURL override the PayPal endpoints (tests).
	APIURL string
	WebURL string
	Logger *zap.Logger
}

// PayPalAdapter implements Adapter on top of the PayPal REST API.
type PayPalAdapter struct {
	opts   PayPalOptions
	log    *zap.Logger
	tokens oauth2.TokenSource

	mu        sync.Mutex
	productID string
	plans     map[string]string
}

// NewPayPalAdapter creates a PayPal adapter.
func NewPayPalAdapter(opts PayPalOptions) *PayPalAdapter {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	a := &PayPalAdapter{
		opts:      opts,
		log:       opts.Logger.With(zap.String("provider", models.ProviderPayPal)),
		productID: opts.Credentials.ProductID,
		plans:     map[string]string{},
	}
	if opts.Credentials.ClientID != "" {
		a.tokens = a.tokenSource(opts.Credentials)
	}
	return a
}

func (a *PayPalAdapter) Type() string { return models.ProviderPayPal }

// Credentials returns the credentials the adapter was built with.
func (a *PayPalAdapter) Credentials() Credentials {
	if a.opts.Credentials.ClientID == "" {
		return Credentials{}
	}
	return a.opts.Credentials.Map()
}

func (a *PayPalAdapter) apiURL(sandbox bool) string {
	if a.opts.APIURL != "" {
		return strings.TrimRight(a.opts.APIURL, "/")
	}
	if sandbox {
		return paypalSandboxAPIURL
	}
	return paypalLiveAPIURL
}

func (a *PayPalAdapter) webURL(sandbox bool) string {
	if a.opts.WebURL != "" {
		return strings.TrimRight(a.opts.WebURL, "/")
	}
	if sandbox {
		return paypalSandboxWebURL
	}
	return paypalLiveWebURL
}

func (a *PayPalAdapter) tokenSource(creds PayPalCredentials) oauth2.TokenSource {
	cfg := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     a.apiURL(creds.Sandbox) + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, a.opts.HTTPClient)
	return oauth2.ReuseTokenSource(nil, cfg.TokenSource(ctx))
}

func (a *PayPalAdapter) accountTokens() (oauth2.TokenSource, PayPalCredentials, error) {
	if a.tokens == nil {
		return nil, PayPalCredentials{}, fmt.Errorf("%w: paypal adapter has no account credentials", ErrConfiguration)
	}
	return a.tokens, a.opts.Credentials, nil
}

// do sends a JSON request and decodes a 2xx JSON answer into out (when non-nil).
func (a *PayPalAdapter) do(ctx context.Context, tokens oauth2.TokenSource, sandbox bool, method, path string, body, out any) error {
	token, err := tokens.Token()
	if err != nil {
		return fmt.Errorf("paypal token request failed: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.apiURL(sandbox)+path, reader)
	if err != nil {
		return err
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Provider: models.ProviderPayPal, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (a *PayPalAdapter) oauthConfig(redirectURI string) (*oauth2.Config, error) {
	p := a.opts.Platform
	if strings.TrimSpace(p.ClientID) == "" || strings.TrimSpace(p.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET are not configured", ErrConfiguration)
	}
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{paypalOAuthScope},
		Endpoint: oauth2.Endpoint{
			AuthURL:   a.webURL(p.Sandbox) + "/signin/authorize",
			TokenURL:  a.apiURL(p.Sandbox) + "/v1/oauth2/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}, nil
}

// BuildOAuthURL returns the PayPal Connect authorize URL.
func (a *PayPalAdapter) BuildOAuthURL(state, redirectURI string) (string, error) {
	cfg, err := a.oauthConfig(redirectURI)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("flowEntry", "static")), nil
}

// ExchangeCodeForCredentials links the merchant login to the platform REST app.
// API calls keep using the platform client credentials; the refresh token
// proves the merchant consented.
func (a *PayPalAdapter) ExchangeCodeForCredentials(ctx context.Context, code, redirectURI string) (Credentials, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("oauth code is required")
	}
	cfg, err := a.oauthConfig(redirectURI)
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.opts.HTTPClient)
	token, err := cfg.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("paypal token exchange failed: %w", err)
	}
	creds := PayPalCredentials{
		ClientID:     a.opts.Platform.ClientID,
		ClientSecret: a.opts.Platform.ClientSecret,
		Sandbox:      a.opts.Platform.Sandbox,
		RefreshToken: token.RefreshToken,
	}
	return creds.Map(), nil
}

func (a *PayPalAdapter) explicit(creds Credentials) (oauth2.TokenSource, PayPalCredentials, error) {
	decoded, err := DecodePayPalCredentials(creds)
	if err != nil {
		return nil, decoded, err
	}
	return a.tokenSource(decoded), decoded, nil
}

type paypalEventType struct {
	Name string `json:"name"`
}

// RegisterWebhook subscribes the URL to billing subscription events.
func (a *PayPalAdapter) RegisterWebhook(ctx context.Context, webhookURL string, creds Credentials) (*WebhookRegistration, error) {
	tokens, decoded, err := a.explicit(creds)
	if err != nil {
		return nil, err
	}
	types := make([]paypalEventType, 0, len(paypalWebhookEvents))
	for _, name := range paypalWebhookEvents {
		types = append(types, paypalEventType{Name: name})
	}
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]any{"url": webhookURL, "event_types": types}
	if err := a.do(ctx, tokens, decoded.Sandbox, http.MethodPost, "/v1/notifications/webhooks", body, &out); err != nil {
		return nil, fmt.Errorf("paypal: failed to register webhook: %w", err)
	}
	if out.ID == "" {
		return nil, errors.New("paypal: webhook registration returned empty id")
	}
	// PayPal verifies deliveries against the webhook id rather than a shared secret.
	return &WebhookRegistration{WebhookID: out.ID, WebhookSecret: out.ID}, nil
}

// DeleteWebhook removes a webhook. An empty id is a no-op.
func (a *PayPalAdapter) DeleteWebhook(ctx context.Context, webhookID string, creds Credentials) error {
	if strings.TrimSpace(webhookID) == "" {
		return nil
	}
	tokens, decoded, err := a.explicit(creds)
	if err != nil {
		return err
	}
	path := "/v1/notifications/webhooks/" + url.PathEscape(webhookID)
	if err := a.do(ctx, tokens, decoded.Sandbox, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("paypal: failed to delete webhook %s: %w", webhookID, err)
	}
	return nil
}

// ValidateCredentials reports whether the client id and secret yield a token.
func (a *PayPalAdapter) ValidateCredentials(ctx context.Context, creds Credentials) (bool, error) {
	tokens, _, err := a.explicit(creds)
	if err != nil {
		return false, nil
	}
	if _, err := tokens.Token(); err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return false, nil
		}
		return false, fmt.Errorf("paypal: credential check failed: %w", err)
	}
	return true, nil
}

func paypalInterval(cycle string) string {
	if cycle == models.BillingCycleYearly {
		return "YEAR"
	}
	return "MONTH"
}

type paypalMoney struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

func (a *PayPalAdapter) ensurePlan(ctx context.Context, tokens oauth2.TokenSource, sandbox bool, in CreateSubscriptionParams, price paypalMoney) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.productID == "" {
		name := in.ProductName
		if name == "" {
			name = defaultProductName
		}
		var product struct {
			ID string `json:"id"`
		}
		body := map[string]any{"name": name, "type": "SERVICE", "category": "SOFTWARE"}
		if err := a.do(ctx, tokens, sandbox, http.MethodPost, "/v1/catalogs/products", body, &product); err != nil {
			return "", fmt.Errorf("paypal: failed to create product: %w", err)
		}
		a.productID = product.ID
	}

	key := in.BillingCycle + ":" + price.CurrencyCode
	if id, ok := a.plans[key]; ok {
		return id, nil
	}
	var plan struct {
		ID string `json:"id"`
	}
	body := map[string]any{
		"product_id": a.productID,
		"name":       fmt.Sprintf("Almanac %s", in.BillingCycle),
		"billing_cycles": []map[string]any{{
			"frequency":      map[string]any{"interval_unit": paypalInterval(in.BillingCycle), "interval_count": 1},
			"tenure_type":    "REGULAR",
			"sequence":       1,
			"total_cycles":   0,
			"pricing_scheme": map[string]any{"fixed_price": price},
		}},
		"payment_preferences": map[string]any{
			"auto_bill_outstanding":     true,
			"payment_failure_threshold": 3,
		},
	}
	if err := a.do(ctx, tokens, sandbox, http.MethodPost, "/v1/billing/plans", body, &plan); err != nil {
		return "", fmt.Errorf("paypal: failed to create plan: %w", err)
	}
	a.plans[key] = plan.ID
	return plan.ID, nil
}

type paypalSubscription struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	StartTime  string `json:"start_time"`
	Subscriber struct {
		PayerID string `json:"payer_id"`
	} `json:"subscriber"`
	BillingInfo struct {
		LastPayment struct {
			Time string `json:"time"`
		} `json:"last_payment"`
		NextBillingTime string `json:"next_billing_time"`
	} `json:"billing_info"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

func (s paypalSubscription) toProvider() *ProviderSubscription {
	out := &ProviderSubscription{
		SubscriptionID:   s.ID,
		CustomerID:       s.Subscriber.PayerID,
		Status:           MapPayPalStatus(s.Status),
		CurrentPeriodEnd: parsePayPalTime(s.BillingInfo.NextBillingTime),
	}
	out.CurrentPeriodStart = parsePayPalTime(s.BillingInfo.LastPayment.Time)
	if out.CurrentPeriodStart == nil {
		out.CurrentPeriodStart = parsePayPalTime(s.StartTime)
	}
	for _, link := range s.Links {
		if link.Rel == "approve" {
			out.ApprovalURL = link.Href
		}
	}
	return out
}

// CreateSubscription creates a subscription awaiting buyer approval, creating the plan on first use.
func (a *PayPalAdapter) CreateSubscription(ctx context.Context, in CreateSubscriptionParams) (*ProviderSubscription, error) {
	tokens, creds, err := a.accountTokens()
	if err != nil {
		return nil, err
	}
	price := paypalMoney{
		Value:        MillicentsToDecimal(in.Amount).StringFixed(2),
		CurrencyCode: strings.ToUpper(in.Currency),
	}
	planID, err := a.ensurePlan(ctx, tokens, creds.Sandbox, in, price)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"plan_id":    planID,
		"custom_id":  in.AccountID,
		"subscriber": map[string]any{"email_address": in.Email},
		"plan": map[string]any{
			"billing_cycles": []map[string]any{{
				"sequence":       1,
				"pricing_scheme": map[string]any{"fixed_price": price},
			}},
		},
	}
	if in.ReturnURL != "" || in.CancelURL != "" {
		body["application_context"] = map[string]any{
			"return_url": in.ReturnURL,
			"cancel_url": in.CancelURL,
		}
	}

	var sub paypalSubscription
	if err := a.do(ctx, tokens, creds.Sandbox, http.MethodPost, "/v1/billing/subscriptions", body, &sub); err != nil {
		return nil, fmt.Errorf("paypal: failed to create subscription: %w", err)
	}
	a.log.Info("created subscription", zap.String("subscription_id", sub.ID), zap.String("status", sub.Status))
	return sub.toProvider(), nil
}

// CancelSubscription always cancels at PayPal; PayPal has no cancel-at-period-end,
// but the subscriber keeps what was already paid for.
func (a *PayPalAdapter) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) error {
	tokens, creds, err := a.accountTokens()
	if err != nil {
		return err
	}
	reason := "Cancelled at end of billing period"
	if immediate {
		reason = "Cancelled by administrator"
	}
	path := "/v1/billing/subscriptions/" + url.PathEscape(subscriptionID) + "/cancel"
	if err := a.do(ctx, tokens, creds.Sandbox, http.MethodPost, path, map[string]string{"reason": reason}, nil); err != nil {
		var apiErr *APIError
		// already cancelled upstream
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity &&
			strings.Contains(apiErr.Body, "SUBSCRIPTION_STATUS_INVALID") {
			return nil
		}
		return fmt.Errorf("paypal: failed to cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// GetSubscription fetches the current state of a subscription.
func (a *PayPalAdapter) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	tokens, creds, err := a.accountTokens()
	if err != nil {
		return nil, err
	}
	var sub paypalSubscription
	path := "/v1/billing/subscriptions/" + url.PathEscape(subscriptionID)
	if err := a.do(ctx, tokens, creds.Sandbox, http.MethodGet, path, nil, &sub); err != nil {
		return nil, fmt.Errorf("paypal: failed to get subscription %s: %w", subscriptionID, err)
	}
	return sub.toProvider(), nil
}

// GetBillingPortalURL returns the PayPal automatic payments page; PayPal has no per-customer portal sessions.
func (a *PayPalAdapter) GetBillingPortalURL(_ context.Context, _, _ string) (string, error) {
	return a.webURL(a.opts.Credentials.Sandbox) + "/myaccount/autopay/", nil
}

// VerifyWebhookSignature asks PayPal to verify the transmission headers.
func (a *PayPalAdapter) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) bool {
	if a.opts.WebhookID == "" || a.tokens == nil || !json.Valid(payload) {
		return false
	}
	required := []string{"PAYPAL-AUTH-ALGO", "PAYPAL-CERT-URL", "PAYPAL-TRANSMISSION-ID", "PAYPAL-TRANSMISSION-SIG", "PAYPAL-TRANSMISSION-TIME"}
	for _, h := range required {
		if headers.Get(h) == "" {
			return false
		}
	}

	body := map[string]any{
		"auth_algo":         headers.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          headers.Get("PAYPAL-CERT-URL"),
		"transmission_id":   headers.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  headers.Get("PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": headers.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        a.opts.WebhookID,
		"webhook_event":     json.RawMessage(payload),
	}
	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	err := a.do(ctx, a.tokens, a.opts.Credentials.Sandbox, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, &out)
	if err != nil {
		a.log.Warn("webhook signature verification request failed", zap.Error(err))
		return false
	}
	return out.VerificationStatus == "SUCCESS"
}

// ParseWebhookEvent normalizes a PayPal event payload.
func (a *PayPalAdapter) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			paypalSubscription
			BillingAgreementID string `json:"billing_agreement_id"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("paypal: invalid event payload: %w", err)
	}
	if event.ID == "" {
		return nil, errors.New("paypal: event id is missing")
	}

	out := &WebhookEvent{
		EventID:   event.ID,
		EventType: event.EventType,
		Kind:      EventUnknown,
		Payload:   payload,
	}
	res := event.Resource
	switch event.EventType {
	case paypalEventSaleDone:
		out.Kind = EventPaymentSucceeded
		out.SubscriptionID = res.BillingAgreementID
	case paypalEventSubActivated:
		out.Kind = EventPaymentSucceeded
		out.SubscriptionID = res.ID
	case paypalEventPayFailed, paypalEventSubSuspended:
		out.Kind = EventPaymentFailed
		out.SubscriptionID = res.ID
	case paypalEventSubCancelled, paypalEventSubExpired:
		out.Kind = EventSubscriptionCancelled
		out.SubscriptionID = res.ID
	case paypalEventSubUpdated:
		out.Kind = EventSubscriptionUpdated
		out.SubscriptionID = res.ID
		out.Status = MapPayPalStatus(res.Status)
	}
	if out.SubscriptionID == res.ID && res.ID != "" {
		p := res.paypalSubscription.toProvider()
		out.PeriodStart = p.CurrentPeriodStart
		out.PeriodEnd = p.CurrentPeriodEnd
	}
	return out, nil
}

// MapPayPalStatus folds PayPal's subscription statuses into the local vocabulary.
func MapPayPalStatus(status string) string {
	switch strings.ToUpper(status) {
	case "APPROVAL_PENDING", "APPROVED", "ACTIVE":
		return models.SubscriptionStatusActive
	case "SUSPENDED":
		return models.SubscriptionStatusPastDue
	case "CANCELLED", "EXPIRED":
		return models.SubscriptionStatusCancelled
	default:
		return ""
	}
}

func parsePayPalTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

var _ Adapter = (*PayPalAdapter)(nil)
