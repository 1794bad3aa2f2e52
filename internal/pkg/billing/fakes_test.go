package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/ManuelReschke/Almanac/app/repository"
	"github.com/ManuelReschke/Almanac/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/Almanac/internal/pkg/provider"
	"github.com/stretchr/testify/require"
)

var errProviderDown = errors.New("provider unavailable")

// fakeAdapter records every provider call and lets tests inject failures.
type fakeAdapter struct {
	mu sync.Mutex

	typ   string
	creds provider.Credentials

	// fixedSubscriptionID makes every CreateSubscription return the same id.
	fixedSubscriptionID string
	createErr           error
	cancelErr           map[string]error
	registerErr         error
	credentialsValid    bool
	remote              *provider.ProviderSubscription

	seq             int
	created         []provider.CreateSubscriptionParams
	cancelled       []string
	immediate       []bool
	registered      []string
	deletedWebhooks []string
}

func newFakeAdapter(typ string) *fakeAdapter {
	return &fakeAdapter{
		typ:              typ,
		creds:            provider.Credentials{"secret_key": "sk_test_existing"},
		cancelErr:        map[string]error{},
		credentialsValid: true,
	}
}

func (f *fakeAdapter) Type() string { return f.typ }

func (f *fakeAdapter) BuildOAuthURL(state, redirectURI string) (string, error) {
	return "https://provider.test/authorize?state=" + url.QueryEscape(state) +
		"&redirect_uri=" + url.QueryEscape(redirectURI), nil
}

func (f *fakeAdapter) ExchangeCodeForCredentials(_ context.Context, code, _ string) (provider.Credentials, error) {
	return provider.Credentials{"secret_key": "sk_" + code}, nil
}

func (f *fakeAdapter) RegisterWebhook(_ context.Context, webhookURL string, _ provider.Credentials) (*provider.WebhookRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	f.seq++
	f.registered = append(f.registered, webhookURL)
	return &provider.WebhookRegistration{
		WebhookID:     fmt.Sprintf("we_%d", f.seq),
		WebhookSecret: fmt.Sprintf("whsec_%d", f.seq),
	}, nil
}

func (f *fakeAdapter) DeleteWebhook(_ context.Context, webhookID string, _ provider.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedWebhooks = append(f.deletedWebhooks, webhookID)
	return nil
}

func (f *fakeAdapter) ValidateCredentials(context.Context, provider.Credentials) (bool, error) {
	return f.credentialsValid, nil
}

func (f *fakeAdapter) CreateSubscription(_ context.Context, params provider.CreateSubscriptionParams) (*provider.ProviderSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	f.created = append(f.created, params)
	id := f.fixedSubscriptionID
	if id == "" {
		id = fmt.Sprintf("sub_%d", f.seq)
	}
	start := time.Now().UTC().Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	return &provider.ProviderSubscription{
		SubscriptionID:     id,
		CustomerID:         fmt.Sprintf("cus_%d", f.seq),
		Status:             models.SubscriptionStatusActive,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	}, nil
}

func (f *fakeAdapter) CancelSubscription(_ context.Context, subscriptionID string, immediate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.cancelErr[subscriptionID]; err != nil {
		return err
	}
	f.cancelled = append(f.cancelled, subscriptionID)
	f.immediate = append(f.immediate, immediate)
	return nil
}

func (f *fakeAdapter) GetSubscription(_ context.Context, subscriptionID string) (*provider.ProviderSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return nil, errProviderDown
	}
	remote := *f.remote
	remote.SubscriptionID = subscriptionID
	return &remote, nil
}

func (f *fakeAdapter) GetBillingPortalURL(_ context.Context, customerID, returnURL string) (string, error) {
	return "https://provider.test/portal/" + customerID + "?return=" + url.QueryEscape(returnURL), nil
}

func (f *fakeAdapter) VerifyWebhookSignature(context.Context, []byte, http.Header) bool { return true }

func (f *fakeAdapter) ParseWebhookEvent([]byte) (*provider.WebhookEvent, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdapter) Credentials() provider.Credentials { return f.creds }

func (f *fakeAdapter) cancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

// fakeRegistry resolves every config to the same adapter.
type fakeRegistry struct {
	mu          sync.Mutex
	adapter     *fakeAdapter
	oauthReady  bool
	invalidated []string
}

func (r *fakeRegistry) Adapter(*models.ProviderConfig) (provider.Adapter, error) {
	return r.adapter, nil
}

func (r *fakeRegistry) PlatformAdapter(string) (provider.Adapter, error) {
	return r.adapter, nil
}

func (r *fakeRegistry) Invalidate(configID string) {
	r.mu.Lock()
	r.invalidated = append(r.invalidated, configID)
	r.mu.Unlock()
}

func (r *fakeRegistry) HasPlatformCredentials(providerType string) bool {
	return r.oauthReady && providerType == r.adapter.typ
}

type testEnv struct {
	repos    *repository.Repositories
	adapter  *fakeAdapter
	registry *fakeRegistry
	settings *SettingsService
	service  *SubscriptionService
	cfg      *models.ProviderConfig
}

// sharedLocker stands in for a lock store shared between service instances.
type sharedLocker struct {
	mu   sync.Mutex
	held map[string]time.Duration
	err  error
}

func newSharedLocker() *sharedLocker {
	return &sharedLocker{held: map[string]time.Duration{}}
}

func (l *sharedLocker) TryLock(_ context.Context, name string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if _, ok := l.held[name]; ok {
		return nil, false, nil
	}
	l.held[name] = ttl
	return func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}, true, nil
}

func (l *sharedLocker) isHeld(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[name]
	return ok
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	repos := repository.NewRepositories(dbtest.New(t))
	settings := models.DefaultSubscriptionSettings()
	settings.Enabled = true
	require.NoError(t, repos.Setting.Save(ctx, &settings))

	cfg := &models.ProviderConfig{
		ProviderType: models.ProviderStripe,
		Enabled:      true,
		DisplayName:  "Stripe",
		WebhookID:    "we_existing",
	}
	require.NoError(t, repos.ProviderConfig.Create(ctx, cfg))

	adapter := newFakeAdapter(models.ProviderStripe)
	registry := &fakeRegistry{adapter: adapter}
	settingsService := NewSettingsService(repos.Setting)

	return &testEnv{
		repos:    repos,
		adapter:  adapter,
		registry: registry,
		settings: settingsService,
		service:  NewSubscriptionService(repos, registry, settingsService, nil, nil),
		cfg:      cfg,
	}
}

func (e *testEnv) subscribe(t *testing.T, accountID string) *models.Subscription {
	t.Helper()
	res, err := e.service.Subscribe(context.Background(), SubscribeRequest{
		AccountID:        accountID,
		Email:            "u@example.com",
		ProviderConfigID: e.cfg.ID,
		BillingCycle:     models.BillingCycleMonthly,
		Amount:           1_000_000,
	})
	require.NoError(t, err)
	return res.Subscription
}

func (e *testEnv) reload(t *testing.T, id string) *models.Subscription {
	t.Helper()
	sub, err := e.repos.Subscription.GetByID(context.Background(), id)
	require.NoError(t, err)
	return sub
}

// setColumns writes columns directly, bypassing the service and the version check.
func (e *testEnv) setColumns(t *testing.T, id string, columns map[string]any) {
	t.Helper()
	require.NoError(t, e.repos.DB().Model(&models.Subscription{}).Where("id = ?", id).UpdateColumns(columns).Error)
}
