package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/ManuelReschke/Almanac/app/repository"
	"github.com/ManuelReschke/Almanac/internal/pkg/metrics"
	"github.com/ManuelReschke/Almanac/internal/pkg/provider"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultProviderTimeout = 20 * time.Second
	maxUpdateAttempts      = 3
	accountLockMargin      = 10 * time.Second
)

// AccountLocker leases a named lock shared by every instance of the service.
type AccountLocker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// AdapterResolver hands out provider adapters for stored configs.
type AdapterResolver interface {
	Adapter(cfg *models.ProviderConfig) (provider.Adapter, error)
	PlatformAdapter(providerType string) (provider.Adapter, error)
	Invalidate(configID string)
}

type SubscribeRequest struct {
	AccountID        string `json:"account_id"`
	Email            string `json:"email"`
	ProviderConfigID string `json:"provider_config_id"`
	BillingCycle     string `json:"billing_cycle"`
	Amount           int64  `json:"amount"`
	// Currency is optional; when set it must match the configured currency.
	Currency  string `json:"currency"`
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
}

type SubscribeResult struct {
	Subscription *models.Subscription `json:"subscription"`
	ApprovalURL  string               `json:"approval_url,omitempty"`
}

// SubscriptionService owns the subscription state machine.
type SubscriptionService struct {
	store           repository.Store
	adapters        AdapterResolver
	settings        SettingsSource
	log             *zap.Logger
	metrics         *metrics.Metrics
	validate        *validator.Validate
	now             func() time.Time
	providerTimeout time.Duration

	accountLocks  sync.Map
	accountLocker AccountLocker
}

// NewSubscriptionService wires the service with a nop logger when log is nil.
func NewSubscriptionService(store repository.Store, adapters AdapterResolver, settings SettingsSource, log *zap.Logger, m *metrics.Metrics) *SubscriptionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SubscriptionService{
		store:           store,
		adapters:        adapters,
		settings:        settings,
		log:             log.Named("subscriptions"),
		metrics:         m,
		validate:        validator.New(),
		now:             func() time.Time { return time.Now().UTC() },
		providerTimeout: defaultProviderTimeout,
	}
}

// SetProviderTimeout bounds every provider call made by the service.
func (s *SubscriptionService) SetProviderTimeout(d time.Duration) {
	if d > 0 {
		s.providerTimeout = d
	}
}

func (s *SubscriptionService) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.providerTimeout)
}

// SetAccountLocker makes Subscribe hold a per-account lease across instances.
func (s *SubscriptionService) SetAccountLocker(l AccountLocker) {
	s.accountLocker = l
}

// lockAccount serializes subscribe calls per account. The in-process mutex is
// always taken; the shared lease is added when a locker is configured. A
// locker error degrades to the in-process mutex only.
func (s *SubscriptionService) lockAccount(ctx context.Context, accountID string) (func(), error) {
	v, _ := s.accountLocks.LoadOrStore(accountID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	if s.accountLocker == nil {
		return mu.Unlock, nil
	}

	release, ok, err := s.accountLocker.TryLock(ctx, "subscribe:"+accountID, s.providerTimeout+accountLockMargin)
	switch {
	case err != nil:
		s.log.Warn("account lock unavailable, using local lock only",
			zap.String("account_id", accountID), zap.Error(err))
		return mu.Unlock, nil
	case !ok:
		mu.Unlock()
		return nil, ErrSubscribeInProgress
	}
	return func() {
		release()
		mu.Unlock()
	}, nil
}

func (s *SubscriptionService) validateSubscribe(req *SubscribeRequest) error {
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.Email = strings.TrimSpace(req.Email)
	req.BillingCycle = strings.ToLower(strings.TrimSpace(req.BillingCycle))

	if _, err := uuid.Parse(req.AccountID); err != nil {
		return fmt.Errorf("%w: account id must be a UUID", ErrValidation)
	}
	if err := s.validate.Var(req.Email, "required,email"); err != nil {
		return fmt.Errorf("%w: email is invalid", ErrValidation)
	}
	if !models.IsValidBillingCycle(req.BillingCycle) {
		return fmt.Errorf("%w: billing cycle must be monthly or yearly", ErrValidation)
	}
	if req.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	if strings.TrimSpace(req.ProviderConfigID) == "" {
		return fmt.Errorf("%w: provider config id is required", ErrValidation)
	}
	return nil
}

// Subscribe creates the subscription at the provider and records it locally.
func (s *SubscriptionService) Subscribe(ctx context.Context, req SubscribeRequest) (*SubscribeResult, error) {
	if err := s.validateSubscribe(&req); err != nil {
		return nil, err
	}

	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !settings.Enabled {
		return nil, ErrSubscriptionsDisabled
	}
	if req.Currency != "" && !strings.EqualFold(req.Currency, settings.Currency) {
		return nil, fmt.Errorf("%w: currency must be %s", ErrValidation, settings.Currency)
	}
	amount := req.Amount
	suggested := settings.SuggestedPrice(req.BillingCycle)
	if amount == 0 {
		amount = suggested
	} else if !settings.PayWhatYouCan && amount != suggested {
		return nil, fmt.Errorf("%w: amount must be %d", ErrValidation, suggested)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: no price configured for %s billing", ErrValidation, req.BillingCycle)
	}

	unlock, err := s.lockAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	open, err := s.store.Subscriptions().CountNonTerminalByAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if open > 0 {
		return nil, ErrSubscriptionExists
	}

	cfg, err := s.providerConfig(ctx, req.ProviderConfigID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, ErrProviderDisabled
	}
	adapter, err := s.adapters.Adapter(cfg)
	if err != nil {
		return nil, err
	}

	pctx, cancel := s.providerContext(ctx)
	defer cancel()
	created, err := adapter.CreateSubscription(pctx, provider.CreateSubscriptionParams{
		AccountID:    req.AccountID,
		Email:        req.Email,
		BillingCycle: req.BillingCycle,
		Amount:       amount,
		Currency:     settings.Currency,
		ReturnURL:    req.ReturnURL,
		CancelURL:    req.CancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create provider subscription: %w", err)
	}

	status := created.Status
	if !models.IsValidSubscriptionStatus(status) || models.IsTerminalStatus(status) {
		status = models.SubscriptionStatusActive
	}
	sub := &models.Subscription{
		AccountID:              req.AccountID,
		ProviderConfigID:       cfg.ID,
		ProviderSubscriptionID: created.SubscriptionID,
		ProviderCustomerID:     created.CustomerID,
		Status:                 status,
		BillingCycle:           req.BillingCycle,
		Amount:                 amount,
		Currency:               settings.Currency,
		CurrentPeriodStart:     created.CurrentPeriodStart,
		CurrentPeriodEnd:       created.CurrentPeriodEnd,
	}
	if err := s.store.Subscriptions().Create(ctx, sub); err != nil {
		s.log.Error("failed to persist subscription, cancelling at provider",
			zap.String("provider", cfg.ProviderType),
			zap.String("provider_subscription_id", created.SubscriptionID),
			zap.Error(err))
		if cerr := adapter.CancelSubscription(pctx, created.SubscriptionID, true); cerr != nil {
			s.log.Error("failed to roll back provider subscription",
				zap.String("provider_subscription_id", created.SubscriptionID),
				zap.Error(cerr))
		}
		return nil, fmt.Errorf("persist subscription: %w", err)
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("account_id", sub.AccountID),
		zap.String("provider", cfg.ProviderType),
		zap.String("status", sub.Status))
	return &SubscribeResult{Subscription: sub, ApprovalURL: created.ApprovalURL}, nil
}

// Cancel cancels at the provider and marks the row cancelled. With immediate=false
// the provider stops renewal at period end, but the local row is cancelled now.
func (s *SubscriptionService) Cancel(ctx context.Context, subscriptionID string, immediate bool) (*models.Subscription, error) {
	sub, err := s.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.IsTerminal() {
		return nil, ErrSubscriptionTerminal
	}
	cfg, err := s.providerConfig(ctx, sub.ProviderConfigID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapters.Adapter(cfg)
	if err != nil {
		return nil, err
	}

	pctx, cancel := s.providerContext(ctx)
	defer cancel()
	if err := adapter.CancelSubscription(pctx, sub.ProviderSubscriptionID, immediate); err != nil {
		return nil, fmt.Errorf("cancel provider subscription: %w", err)
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		if sub.IsTerminal() {
			return sub, nil
		}
		now := s.now()
		ok, err := s.store.Subscriptions().UpdateIfUnchanged(ctx, sub.ID, sub.Version, "", map[string]any{
			"status":       models.SubscriptionStatusCancelled,
			"cancelled_at": now,
			"updated_at":   now,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			s.log.Info("subscription cancelled",
				zap.String("subscription_id", sub.ID),
				zap.String("provider", cfg.ProviderType),
				zap.Bool("immediate", immediate))
			return s.GetSubscription(ctx, sub.ID)
		}
		if sub, err = s.GetSubscription(ctx, sub.ID); err != nil {
			return nil, err
		}
	}
	return nil, ErrConcurrentUpdate
}

// HasActiveSubscription reports whether the account's latest subscription is active.
func (s *SubscriptionService) HasActiveSubscription(ctx context.Context, accountID string) (bool, error) {
	sub, err := s.store.Subscriptions().GetLatestByAccount(ctx, strings.TrimSpace(accountID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.Status == models.SubscriptionStatusActive, nil
}

// GetSubscription returns one subscription or ErrSubscriptionNotFound.
func (s *SubscriptionService) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	sub, err := s.store.Subscriptions().GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	return sub, err
}

// ListSubscriptions returns a filtered page of subscriptions.
func (s *SubscriptionService) ListSubscriptions(ctx context.Context, filter repository.SubscriptionFilter) ([]models.Subscription, int64, error) {
	if filter.Status != "" && !models.IsValidSubscriptionStatus(filter.Status) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	return s.store.Subscriptions().List(ctx, filter)
}

// BillingPortalURL returns the provider page where the subscriber manages payment details.
func (s *SubscriptionService) BillingPortalURL(ctx context.Context, subscriptionID, returnURL string) (string, error) {
	sub, err := s.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	cfg, err := s.providerConfig(ctx, sub.ProviderConfigID)
	if err != nil {
		return "", err
	}
	adapter, err := s.adapters.Adapter(cfg)
	if err != nil {
		return "", err
	}
	pctx, cancel := s.providerContext(ctx)
	defer cancel()
	return adapter.GetBillingPortalURL(pctx, sub.ProviderCustomerID, returnURL)
}

// SyncFromProvider pulls the provider's view of a subscription and applies it
// through the same transition rules as webhooks. No ledger row is written.
func (s *SubscriptionService) SyncFromProvider(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	sub, err := s.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.IsTerminal() {
		return sub, nil
	}
	cfg, err := s.providerConfig(ctx, sub.ProviderConfigID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapters.Adapter(cfg)
	if err != nil {
		return nil, err
	}
	pctx, cancel := s.providerContext(ctx)
	defer cancel()
	remote, err := adapter.GetSubscription(pctx, sub.ProviderSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("fetch provider subscription: %w", err)
	}

	kind := provider.EventSubscriptionUpdated
	if remote.Status == models.SubscriptionStatusCancelled {
		kind = provider.EventSubscriptionCancelled
	}
	event := &provider.WebhookEvent{
		Kind:        kind,
		Status:      remote.Status,
		PeriodStart: remote.CurrentPeriodStart,
		PeriodEnd:   remote.CurrentPeriodEnd,
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		updates := transitionUpdates(sub, event, s.now())
		if len(updates) == 0 {
			return sub, nil
		}
		ok, err := s.store.Subscriptions().UpdateIfUnchanged(ctx, sub.ID, sub.Version, "", updates)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.GetSubscription(ctx, sub.ID)
		}
		if sub, err = s.GetSubscription(ctx, sub.ID); err != nil {
			return nil, err
		}
	}
	return nil, ErrConcurrentUpdate
}

func (s *SubscriptionService) providerConfig(ctx context.Context, id string) (*models.ProviderConfig, error) {
	cfg, err := s.store.ProviderConfigs().GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProviderNotFound
	}
	return cfg, err
}
