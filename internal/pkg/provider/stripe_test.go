package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

func TestMapStripeStatus(t *testing.T) {
	tests := []struct {
		in   stripe.SubscriptionStatus
		want string
	}{
		{in: stripe.SubscriptionStatusActive, want: models.SubscriptionStatusActive},
		{in: stripe.SubscriptionStatusTrialing, want: models.SubscriptionStatusActive},
		{in: stripe.SubscriptionStatusPastDue, want: models.SubscriptionStatusPastDue},
		{in: stripe.SubscriptionStatusUnpaid, want: models.SubscriptionStatusPastDue},
		{in: stripe.SubscriptionStatusCanceled, want: models.SubscriptionStatusCancelled},
		{in: stripe.SubscriptionStatusPaused, want: models.SubscriptionStatusSuspended},
		{in: "mystery", want: ""},
	}

	for _, tt := range tests {
		if got := MapStripeStatus(tt.in); got != tt.want {
			t.Fatalf("MapStripeStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripeParseWebhookEvent(t *testing.T) {
	a := NewStripeAdapter(StripeOptions{})

	paid, err := a.ParseWebhookEvent([]byte(`{
		"id": "evt_paid",
		"object": "event",
		"type": "invoice.paid",
		"data": {"object": {
			"id": "in_1",
			"object": "invoice",
			"subscription": "sub_123",
			"lines": {"object": "list", "data": [{"id": "il_1", "object": "line_item", "period": {"start": 1700000000, "end": 1702592000}}]}
		}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "evt_paid", paid.EventID)
	assert.Equal(t, EventPaymentSucceeded, paid.Kind)
	assert.Equal(t, "sub_123", paid.SubscriptionID)
	require.NotNil(t, paid.PeriodStart)
	require.NotNil(t, paid.PeriodEnd)
	assert.Equal(t, int64(1702592000), paid.PeriodEnd.Unix())

	failed, err := a.ParseWebhookEvent([]byte(`{"id":"evt_failed","type":"invoice.payment_failed","data":{"object":{"id":"in_2","object":"invoice","subscription":"sub_123"}}}`))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentFailed, failed.Kind)
	assert.Equal(t, "sub_123", failed.SubscriptionID)
	assert.Nil(t, failed.PeriodStart)

	updated, err := a.ParseWebhookEvent([]byte(`{"id":"evt_upd","type":"customer.subscription.updated","data":{"object":{"id":"sub_123","object":"subscription","status":"past_due","current_period_start":1700000000,"current_period_end":1702592000}}}`))
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionUpdated, updated.Kind)
	assert.Equal(t, models.SubscriptionStatusPastDue, updated.Status)
	require.NotNil(t, updated.PeriodStart)
	assert.Equal(t, int64(1700000000), updated.PeriodStart.Unix())

	deleted, err := a.ParseWebhookEvent([]byte(`{"id":"evt_del","type":"customer.subscription.deleted","data":{"object":{"id":"sub_123","object":"subscription","status":"canceled"}}}`))
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionCancelled, deleted.Kind)

	unknown, err := a.ParseWebhookEvent([]byte(`{"id":"evt_other","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`))
	require.NoError(t, err)
	assert.Equal(t, EventUnknown, unknown.Kind)
	assert.Empty(t, unknown.SubscriptionID)

	_, err = a.ParseWebhookEvent([]byte(`not json`))
	assert.Error(t, err)
	_, err = a.ParseWebhookEvent([]byte(`{"type":"invoice.paid"}`))
	assert.Error(t, err)
}

func TestStripeVerifyWebhookSignature(t *testing.T) {
	const secret = "whsec_test"
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})

	a := NewStripeAdapter(StripeOptions{WebhookSecret: secret})
	headers := http.Header{}
	headers.Set("Stripe-Signature", signed.Header)
	assert.True(t, a.VerifyWebhookSignature(context.Background(), payload, headers))

	assert.False(t, a.VerifyWebhookSignature(context.Background(), []byte(`{"id":"evt_2"}`), headers), "payload was altered")
	assert.False(t, a.VerifyWebhookSignature(context.Background(), payload, http.Header{}), "missing header")

	other := NewStripeAdapter(StripeOptions{WebhookSecret: "whsec_other"})
	assert.False(t, other.VerifyWebhookSignature(context.Background(), payload, headers))

	unconfigured := NewStripeAdapter(StripeOptions{})
	assert.False(t, unconfigured.VerifyWebhookSignature(context.Background(), payload, headers))
}

func TestStripeBuildOAuthURL(t *testing.T) {
	a := NewStripeAdapter(StripeOptions{Platform: StripePlatform{ConnectClientID: "ca_123", SecretKey: "sk_platform"}})

	raw, err := a.BuildOAuthURL("state-token", "https://almanac.example/api/subscription/v1/providers/stripe/callback")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "connect.stripe.com", u.Host)
	assert.Equal(t, "/oauth/authorize", u.Path)
	assert.Equal(t, "ca_123", u.Query().Get("client_id"))
	assert.Equal(t, "state-token", u.Query().Get("state"))
	assert.Equal(t, "read_write", u.Query().Get("scope"))

	_, err = NewStripeAdapter(StripeOptions{}).BuildOAuthURL("s", "https://x")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestStripeExchangeCodeForCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Equal(t, "/oauth/token", r.URL.Path)
		assert.Equal(t, "ac_code", r.PostForm.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"sk_connected","token_type":"bearer","stripe_user_id":"acct_1","stripe_publishable_key":"pk_1","scope":"read_write"}`)
	}))
	defer srv.Close()

	a := NewStripeAdapter(StripeOptions{
		Platform:   StripePlatform{ConnectClientID: "ca_123", SecretKey: "sk_platform"},
		ConnectURL: srv.URL,
		HTTPClient: srv.Client(),
	})
	creds, err := a.ExchangeCodeForCredentials(context.Background(), "ac_code", "https://almanac.example/cb")
	require.NoError(t, err)

	decoded, err := DecodeStripeCredentials(creds)
	require.NoError(t, err)
	assert.Equal(t, "sk_connected", decoded.SecretKey)
	assert.Equal(t, "acct_1", decoded.AccountID)
	assert.Equal(t, "pk_1", decoded.PublishableKey)
}

func TestStripeCancelSubscription(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path+" "+string(body))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"sub_1","object":"subscription","status":"active"}`)
	}))
	defer srv.Close()

	a := NewStripeAdapter(StripeOptions{
		Credentials: StripeCredentials{SecretKey: "sk_test_123"},
		APIURL:      srv.URL,
		HTTPClient:  srv.Client(),
	})

	require.NoError(t, a.CancelSubscription(context.Background(), "sub_1", true))
	require.NoError(t, a.CancelSubscription(context.Background(), "sub_1", false))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	assert.True(t, strings.HasPrefix(calls[0], "DELETE /v1/subscriptions/sub_1"), calls[0])
	assert.True(t, strings.HasPrefix(calls[1], "POST /v1/subscriptions/sub_1"), calls[1])
	assert.Contains(t, calls[1], "cancel_at_period_end=true")
}

func TestStripeAccountCallsRequireCredentials(t *testing.T) {
	a := NewStripeAdapter(StripeOptions{})

	err := a.CancelSubscription(context.Background(), "sub_1", true)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = a.GetSubscription(context.Background(), "sub_1")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Empty(t, a.Credentials())
}

func TestMillicentConversions(t *testing.T) {
	assert.Equal(t, int64(1000), MillicentsToCents(1_000_000))
	assert.Equal(t, int64(1), MillicentsToCents(500))
	assert.Equal(t, "10.00", MillicentsToDecimal(1_000_000).StringFixed(2))
	assert.Equal(t, "0.01", MillicentsToDecimal(1_000).StringFixed(2))
}
