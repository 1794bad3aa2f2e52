package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/ManuelReschke/Almanac/app/repository"
	"github.com/ManuelReschke/Almanac/internal/pkg/provider"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(id string, kind provider.EventKind, subscriptionID string) *provider.WebhookEvent {
	return &provider.WebhookEvent{
		EventID:        id,
		EventType:      string(kind),
		Kind:           kind,
		SubscriptionID: subscriptionID,
		Payload:        []byte(`{"id":"` + id + `"}`),
	}
}

func TestSubscribeAndWebhookLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub := env.subscribe(t, uuid.NewString())
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, int64(1_000_000), sub.Amount)
	assert.Equal(t, "USD", sub.Currency)
	require.Len(t, env.adapter.created, 1)
	assert.Equal(t, "u@example.com", env.adapter.created[0].Email)

	paid := event("evt_paid", provider.EventPaymentSucceeded, sub.ProviderSubscriptionID)
	paid.EventType = "invoice.paid"
	outcome, err := env.service.ProcessWebhookEvent(ctx, env.cfg, paid)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, models.SubscriptionStatusActive, env.reload(t, sub.ID).Status)

	ledger, err := env.repos.SubscriptionEvent.ListBySubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, "invoice.paid", ledger[0].EventType)

	failed := event("evt_failed", provider.EventPaymentFailed, sub.ProviderSubscriptionID)
	failed.EventType = "invoice.payment_failed"
	outcome, err = env.service.ProcessWebhookEvent(ctx, env.cfg, failed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, models.SubscriptionStatusPastDue, env.reload(t, sub.ID).Status)

	outcome, err = env.service.ProcessWebhookEvent(ctx, env.cfg, failed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, models.SubscriptionStatusPastDue, env.reload(t, sub.ID).Status)

	ledger, err = env.repos.SubscriptionEvent.ListBySubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, ledger, 2)
}

func TestProcessWebhookEvent_ReplayDoesNotReapply(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.subscribe(t, uuid.NewString())

	failed := event("evt_1", provider.EventPaymentFailed, sub.ProviderSubscriptionID)
	_, err := env.service.ProcessWebhookEvent(ctx, env.cfg, failed)
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionStatusPastDue, env.reload(t, sub.ID).Status)

	env.setColumns(t, sub.ID, map[string]any{"status": models.SubscriptionStatusActive})

	outcome, err := env.service.ProcessWebhookEvent(ctx, env.cfg, failed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, models.SubscriptionStatusActive, env.reload(t, sub.ID).Status)
}

func TestProcessWebhookEvent_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.subscribe(t, uuid.NewString())

	const deliveries = 8
	outcomes := make(chan WebhookOutcome, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := env.service.ProcessWebhookEvent(ctx, env.cfg,
				event("evt_race", provider.EventPaymentFailed, sub.ProviderSubscriptionID))
			assert.NoError(t, err)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[WebhookOutcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[OutcomeProcessed])
	assert.Equal(t, deliveries-1, counts[OutcomeDuplicate])

	ledger, err := env.repos.SubscriptionEvent.ListBySubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, ledger, 1)
	assert.Equal(t, int64(1), env.reload(t, sub.ID).Version)
}

func TestProcessWebhookEvent_UntrackedAndIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.subscribe(t, uuid.NewString())

	outcome, err := env.service.ProcessWebhookEvent(ctx, env.cfg, event("evt_other", provider.EventPaymentFailed, "sub_unknown"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUntracked, outcome)
	exists, err := env.repos.SubscriptionEvent.Exists(ctx, "evt_other")
	require.NoError(t, err)
	assert.False(t, exists)

	outcome, err = env.service.ProcessWebhookEvent(ctx, env.cfg, event("evt_ping", provider.EventPaymentFailed, ""))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUntracked, outcome)

	unknown := event("evt_unknown", provider.EventUnknown, sub.ProviderSubscriptionID)
	unknown.EventType = "customer.updated"
	outcome, err = env.service.ProcessWebhookEvent(ctx, env.cfg, unknown)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	exists, err = env.repos.SubscriptionEvent.Exists(ctx, "evt_unknown")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, models.SubscriptionStatusActive, env.reload(t, sub.ID).Status)

	_, err = env.service.ProcessWebhookEvent(ctx, env.cfg, event("", provider.EventPaymentFailed, sub.ProviderSubscriptionID))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestProcessWebhookEvent_CancelledRowIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.subscribe(t, uuid.NewString())

	outcome, err := env.service.ProcessWebhookEvent(ctx, env.cfg, event("evt_del", provider.EventSubscriptionCancelled, sub.ProviderSubscriptionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	cancelled := env.reload(t, sub.ID)
	assert.Equal(t, models.SubscriptionStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	outcome, err = env.service.ProcessWebhookEvent(ctx, env.cfg, event("evt_paid_late", provider.EventPaymentSucceeded, sub.ProviderSubscriptionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, models.SubscriptionStatusCancelled, env.reload(t, sub.ID).Status)
}

func TestProcessWebhookEvent_UpdatesBillingPeriod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.subscribe(t, uuid.NewString())

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	paid := event("evt_renewal", provider.EventPaymentSucceeded, sub.ProviderSubscriptionID)
	paid.PeriodStart = &start
	paid.PeriodEnd = &end

	_, err := env.service.ProcessWebhookEvent(ctx, env.cfg, paid)
	require.NoError(t, err)

	got := env.reload(t, sub.ID)
	require.NotNil(t, got.CurrentPeriodStart)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.True(t, start.Equal(*got.CurrentPeriodStart))
	assert.True(t, end.Equal(*got.CurrentPeriodEnd))
}

func TestNextStatus(t *testing.T) {
	updated := func(status string) *provider.WebhookEvent {
		return &provider.WebhookEvent{Kind: provider.EventSubscriptionUpdated, Status: status}
	}
	kind := func(k provider.EventKind) *provider.WebhookEvent {
		return &provider.WebhookEvent{Kind: k}
	}

	tests := []struct {
		name    string
		current string
		event   *provider.WebhookEvent
		want    string
	}{
		{"paid keeps active", models.SubscriptionStatusActive, kind(provider.EventPaymentSucceeded), models.SubscriptionStatusActive},
		{"paid recovers past_due", models.SubscriptionStatusPastDue, kind(provider.EventPaymentSucceeded), models.SubscriptionStatusActive},
		{"paid lifts suspension", models.SubscriptionStatusSuspended, kind(provider.EventPaymentSucceeded), models.SubscriptionStatusActive},
		{"failed from active", models.SubscriptionStatusActive, kind(provider.EventPaymentFailed), models.SubscriptionStatusPastDue},
		{"failed stays past_due", models.SubscriptionStatusPastDue, kind(provider.EventPaymentFailed), models.SubscriptionStatusPastDue},
		{"failed keeps suspension", models.SubscriptionStatusSuspended, kind(provider.EventPaymentFailed), models.SubscriptionStatusSuspended},
		{"cancel from suspended", models.SubscriptionStatusSuspended, kind(provider.EventSubscriptionCancelled), models.SubscriptionStatusCancelled},
		{"cancelled is terminal", models.SubscriptionStatusCancelled, kind(provider.EventPaymentSucceeded), models.SubscriptionStatusCancelled},
		{"updated follows provider", models.SubscriptionStatusActive, updated(models.SubscriptionStatusPastDue), models.SubscriptionStatusPastDue},
		{"updated keeps suspension", models.SubscriptionStatusSuspended, updated(models.SubscriptionStatusPastDue), models.SubscriptionStatusSuspended},
		{"updated without status", models.SubscriptionStatusActive, updated(""), models.SubscriptionStatusActive},
		{"unknown kind", models.SubscriptionStatusPastDue, kind(provider.EventUnknown), models.SubscriptionStatusPastDue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextStatus(tt.current, tt.event))
		})
	}
}

func TestTransitionUpdates_PeriodChangeKeepsGraceAnchor(t *testing.T) {
	anchor := time.Now().UTC().Add(-72 * time.Hour)
	sub := &models.Subscription{Status: models.SubscriptionStatusPastDue, UpdatedAt: anchor}
	end := time.Now().UTC().Add(24 * time.Hour)

	updates := transitionUpdates(sub, &provider.WebhookEvent{Kind: provider.EventPaymentFailed, PeriodEnd: &end}, time.Now().UTC())
	require.NotNil(t, updates)
	assert.NotContains(t, updates, "status")
	assert.Equal(t, anchor, updates["updated_at"])

	assert.Nil(t, transitionUpdates(sub, &provider.WebhookEvent{Kind: provider.EventPaymentFailed}, time.Now().UTC()))
}

func TestSubscribe_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := func() SubscribeRequest {
		return SubscribeRequest{
			AccountID:        uuid.NewString(),
			Email:            "u@example.com",
			ProviderConfigID: env.cfg.ID,
			BillingCycle:     models.BillingCycleMonthly,
			Amount:           1_000_000,
		}
	}

	tests := []struct {
		name   string
		mutate func(*SubscribeRequest)
	}{
		{"account id", func(r *SubscribeRequest) { r.AccountID = "acct-1" }},
		{"email", func(r *SubscribeRequest) { r.Email = "not-an-email" }},
		{"billing cycle", func(r *SubscribeRequest) { r.BillingCycle = "weekly" }},
		{"negative amount", func(r *SubscribeRequest) { r.Amount = -1 }},
		{"fixed price", func(r *SubscribeRequest) { r.Amount = 500_000 }},
		{"currency", func(r *SubscribeRequest) { r.Currency = "EUR" }},
		{"provider", func(r *SubscribeRequest) { r.ProviderConfigID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(&req)
			_, err := env.service.Subscribe(ctx, req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Empty(t, env.adapter.created)
}

func TestSubscribe_Rules(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t)
		off := false
		_, err := env.settings.UpdateSettings(ctx, UpdateSettingsRequest{Enabled: &off})
		require.NoError(t, err)

		_, err = env.service.Subscribe(ctx, SubscribeRequest{
			AccountID: uuid.NewString(), Email: "u@example.com", ProviderConfigID: env.cfg.ID, BillingCycle: "monthly",
		})
		assert.ErrorIs(t, err, ErrSubscriptionsDisabled)
	})

	t.Run("zero amount uses suggested price", func(t *testing.T) {
		env := newTestEnv(t)
		res, err := env.service.Subscribe(ctx, SubscribeRequest{
			AccountID: uuid.NewString(), Email: "u@example.com", ProviderConfigID: env.cfg.ID, BillingCycle: "yearly",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(10_000_000), res.Subscription.Amount)
		assert.Equal(t, models.BillingCycleYearly, res.Subscription.BillingCycle)
	})

	t.Run("pay what you can", func(t *testing.T) {
		env := newTestEnv(t)
		on := true
		_, err := env.settings.UpdateSettings(ctx, UpdateSettingsRequest{PayWhatYouCan: &on})
		require.NoError(t, err)

		res, err := env.service.Subscribe(ctx, SubscribeRequest{
			AccountID: uuid.NewString(), Email: "u@example.com", ProviderConfigID: env.cfg.ID, BillingCycle: "monthly", Amount: 250_000,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(250_000), res.Subscription.Amount)
		assert.Equal(t, int64(250_000), env.adapter.created[0].Amount)
	})

	t.Run("one open subscription per account", func(t *testing.T) {
		env := newTestEnv(t)
		account := uuid.NewString()
		env.subscribe(t, account)

		_, err := env.service.Subscribe(ctx, SubscribeRequest{
			AccountID: account, Email: "u@example.com", ProviderConfigID: env.cfg.ID, BillingCycle: "monthly",
		})
		assert.ErrorIs(t, err, ErrSubscriptionExists)
		assert.Len(t, env.adapter.created, 1)
	})

	t.Run("cancelled account can resubscribe", func(t *testing.T) {
		env := newTestEnv(t)
		account := uuid.NewString()
		first := env.subscribe(t, account)
		_, err := env.service.Cancel(ctx, first.ID, true)
		require.NoError(t, err)

		second := env.subscribe(t, account)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("provider missing or disabled", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Subscribe(ctx, SubscribeRequest{
			AccountID: uuid.NewString(), Email: "u@example.com", ProviderConfigID: uuid.NewString(), BillingCycle: "monthly",
		})
		assert.ErrorIs(t, err, ErrProviderNotFound)

		off := false
		_, err = NewConnectionService(env.repos, env.registry, nil, nil, nil, nil, nil).
			UpdateProvider(ctx, env.cfg.ID, UpdateProviderRequest{Enabled: &off})
		require.NoError(t, err)
		_, err = env.service.Subscribe(ctx, SubscribeRequest{
			AccountID: uuid.NewString(), Email: "u@example.com", ProviderConfigID: env.cfg.ID, BillingCycle: "monthly",
		})
		assert.ErrorIs(t, err, ErrProviderDisabled)
	})

	t.Run("provider error leaves no row", func(t *testing.T) {
		env := newTestEnv(t)
		env.adapter.createErr = errProviderDown
		account := uuid.NewString()
		_, err := env.service.Subscribe(ctx, SubscribeRequest{
			AccountID: account, Email: "u@example.com", ProviderConfigID: env.cfg.ID, BillingCycle: "monthly",
		})
		assert.ErrorIs(t, err, errProviderDown)

		active, err := env.service.HasActiveSubscription(ctx, account)
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("persist failure cancels at provider", func(t *testing.T) {
		env := newTestEnv(t)
		env.adapter.fixedSubscriptionID = "sub_dup"
		env.subscribe(t, uuid.NewString())

		_, err := env.service.Subscribe(ctx, SubscribeRequest{
			AccountID: uuid.NewString(), Email: "u@example.com", ProviderConfigID: env.cfg.ID, BillingCycle: "monthly",
		})
		require.Error(t, err)
		assert.Equal(t, []string{"sub_dup"}, env.adapter.cancelledIDs())
	})
}

func TestSubscribe_ConcurrentSameAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := uuid.NewString()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.service.Subscribe(ctx, SubscribeRequest{
				AccountID: account, Email: "u@example.com", ProviderConfigID: env.cfg.ID, BillingCycle: "monthly",
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrSubscriptionExists)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestSubscribe_SharedAccountLock(t *testing.T) {
	ctx := context.Background()

	t.Run("held by another instance", func(t *testing.T) {
		env := newTestEnv(t)
		locker := newSharedLocker()
		env.service.SetAccountLocker(locker)
		other := NewSubscriptionService(env.repos, env.registry, env.settings, nil, nil)
		other.SetAccountLocker(locker)

		account := uuid.NewString()
		release, ok, err := locker.TryLock(ctx, "subscribe:"+account, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, err = other.Subscribe(ctx, SubscribeRequest{
			AccountID: account, Email: "u@example.com", ProviderConfigID: env.cfg.ID, BillingCycle: "monthly",
		})
		assert.ErrorIs(t, err, ErrSubscribeInProgress)
		assert.Empty(t, env.adapter.created)

		release()
		sub := env.subscribe(t, account)
		assert.Equal(t, account, sub.AccountID)

		_, err = other.Subscribe(ctx, SubscribeRequest{
			AccountID: account, Email: "u@example.com", ProviderConfigID: env.cfg.ID, BillingCycle: "monthly",
		})
		assert.ErrorIs(t, err, ErrSubscriptionExists)
	})

	t.Run("released after subscribe", func(t *testing.T) {
		env := newTestEnv(t)
		locker := newSharedLocker()
		env.service.SetAccountLocker(locker)
		env.service.SetProviderTimeout(5 * time.Second)

		account := uuid.NewString()
		env.subscribe(t, account)
		assert.False(t, locker.isHeld("subscribe:"+account))
	})

	t.Run("locker failure falls back to local lock", func(t *testing.T) {
		env := newTestEnv(t)
		locker := newSharedLocker()
		locker.err = errors.New("cache unreachable")
		env.service.SetAccountLocker(locker)

		sub := env.subscribe(t, uuid.NewString())
		assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	})
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.subscribe(t, uuid.NewString())

	cancelled, err := env.service.Cancel(ctx, sub.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, []string{sub.ProviderSubscriptionID}, env.adapter.cancelledIDs())
	assert.Equal(t, []bool{false}, env.adapter.immediate)

	_, err = env.service.Cancel(ctx, sub.ID, true)
	assert.ErrorIs(t, err, ErrSubscriptionTerminal)

	_, err = env.service.Cancel(ctx, uuid.NewString(), true)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestCancel_ProviderFailureKeepsStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.subscribe(t, uuid.NewString())
	env.adapter.cancelErr[sub.ProviderSubscriptionID] = errProviderDown

	_, err := env.service.Cancel(ctx, sub.ID, true)
	assert.ErrorIs(t, err, errProviderDown)
	assert.Equal(t, models.SubscriptionStatusActive, env.reload(t, sub.ID).Status)
}

func TestHasActiveSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := uuid.NewString()

	active, err := env.service.HasActiveSubscription(ctx, account)
	require.NoError(t, err)
	assert.False(t, active)

	sub := env.subscribe(t, account)
	active, err = env.service.HasActiveSubscription(ctx, account)
	require.NoError(t, err)
	assert.True(t, active)

	env.setColumns(t, sub.ID, map[string]any{"status": models.SubscriptionStatusPastDue})
	active, err = env.service.HasActiveSubscription(ctx, account)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestListAndGetSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.subscribe(t, uuid.NewString())
	b := env.subscribe(t, uuid.NewString())
	env.setColumns(t, b.ID, map[string]any{"status": models.SubscriptionStatusPastDue})

	all, total, err := env.service.ListSubscriptions(ctx, repository.SubscriptionFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)

	pastDue, total, err := env.service.ListSubscriptions(ctx, repository.SubscriptionFilter{Status: models.SubscriptionStatusPastDue})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, b.ID, pastDue[0].ID)

	_, _, err = env.service.ListSubscriptions(ctx, repository.SubscriptionFilter{Status: "paused"})
	assert.ErrorIs(t, err, ErrValidation)

	got, err := env.service.GetSubscription(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.AccountID, got.AccountID)
}

func TestBillingPortalURL(t *testing.T) {
	env := newTestEnv(t)
	sub := env.subscribe(t, uuid.NewString())

	url, err := env.service.BillingPortalURL(context.Background(), sub.ID, "https://calendar.example.com/account")
	require.NoError(t, err)
	assert.Contains(t, url, "/portal/"+sub.ProviderCustomerID)
}

func TestSyncFromProvider(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.subscribe(t, uuid.NewString())

	end := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	env.adapter.remote = &provider.ProviderSubscription{Status: models.SubscriptionStatusPastDue, CurrentPeriodEnd: &end}

	synced, err := env.service.SyncFromProvider(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, synced.Status)
	require.NotNil(t, synced.CurrentPeriodEnd)
	assert.True(t, end.Equal(*synced.CurrentPeriodEnd))

	ledger, err := env.repos.SubscriptionEvent.ListBySubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, ledger)

	env.adapter.remote = &provider.ProviderSubscription{Status: models.SubscriptionStatusCancelled}
	synced, err = env.service.SyncFromProvider(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, synced.Status)
	assert.NotNil(t, synced.CancelledAt)
}
