package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/ManuelReschke/Almanac/app/repository"
	"github.com/ManuelReschke/Almanac/internal/pkg/provider"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProviderRegistry is the adapter registry as seen by the connection flow.
type ProviderRegistry interface {
	AdapterResolver
	HasPlatformCredentials(providerType string) bool
}

// StateTokens issues and consumes single-use OAuth state tokens.
type StateTokens interface {
	GenerateToken(ctx context.Context, providerType string) (string, error)
	ValidateToken(ctx context.Context, token, providerType string) (bool, error)
}

// SubscriptionCanceller is the part of SubscriptionService a disconnect needs.
type SubscriptionCanceller interface {
	Cancel(ctx context.Context, subscriptionID string, immediate bool) (*models.Subscription, error)
}

// CredentialSealer encrypts credential material before it is stored.
type CredentialSealer interface {
	SealMap(values map[string]string) (string, error)
	SealString(plaintext string) (string, error)
}

type OAuthInitiation struct {
	OAuthURL string `json:"oauth_url"`
	State    string `json:"state"`
}

type DisconnectResult struct {
	RequiresConfirmation    bool  `json:"requires_confirmation"`
	ActiveSubscriptionCount int64 `json:"active_subscription_count"`
	Cancelled               int   `json:"cancelled"`
	Disconnected            bool  `json:"disconnected"`
}

type UpdateProviderRequest struct {
	Enabled     *bool   `json:"enabled"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=100"`
}

type ProviderStatus struct {
	ProviderType   string `json:"provider_type"`
	OAuthAvailable bool   `json:"oauth_available"`
	Connected      bool   `json:"connected"`
	Enabled        bool   `json:"enabled"`
	ConfigID       string `json:"config_id,omitempty"`
}

// ConnectionService links, reconfigures and unlinks payment providers.
type ConnectionService struct {
	store         repository.Store
	registry      ProviderRegistry
	states        StateTokens
	webhooks      *WebhookManager
	sealer        CredentialSealer
	subscriptions SubscriptionCanceller
	log           *zap.Logger
	timeout       time.Duration
}

// NewConnectionService wires the provider connection service.
func NewConnectionService(store repository.Store, registry ProviderRegistry, states StateTokens, webhooks *WebhookManager, sealer CredentialSealer, subscriptions SubscriptionCanceller, log *zap.Logger) *ConnectionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConnectionService{
		store:         store,
		registry:      registry,
		states:        states,
		webhooks:      webhooks,
		sealer:        sealer,
		subscriptions: subscriptions,
		log:           log.Named("providers"),
		timeout:       defaultProviderTimeout,
	}
}

// SetProviderTimeout bounds every provider call made by the service.
func (s *ConnectionService) SetProviderTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

func normalizeProviderType(providerType string) (string, error) {
	providerType = strings.ToLower(strings.TrimSpace(providerType))
	if !models.IsValidProviderType(providerType) {
		return "", fmt.Errorf("%w: unknown provider type %q", ErrValidation, providerType)
	}
	return providerType, nil
}

func defaultDisplayName(providerType string) string {
	switch providerType {
	case models.ProviderStripe:
		return "Stripe"
	case models.ProviderPayPal:
		return "PayPal"
	default:
		return providerType
	}
}

// InitiateOAuth starts the provider linking flow.
func (s *ConnectionService) InitiateOAuth(ctx context.Context, providerType string) (*OAuthInitiation, error) {
	providerType, err := normalizeProviderType(providerType)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.PlatformAdapter(providerType)
	if err != nil {
		return nil, err
	}
	state, err := s.states.GenerateToken(ctx, providerType)
	if err != nil {
		return nil, err
	}
	url, err := adapter.BuildOAuthURL(state, s.webhooks.OAuthRedirectURL(providerType))
	if err != nil {
		return nil, err
	}
	return &OAuthInitiation{OAuthURL: url, State: state}, nil
}

// HandleCallback finishes the OAuth flow. An invalid state returns false with
// no side effects. The provider config is written only after the webhook exists.
func (s *ConnectionService) HandleCallback(ctx context.Context, providerType, code, state string) (bool, error) {
	providerType, err := normalizeProviderType(providerType)
	if err != nil {
		return false, err
	}
	valid, err := s.states.ValidateToken(ctx, state, providerType)
	if err != nil || !valid {
		return false, err
	}
	if strings.TrimSpace(code) == "" {
		return false, fmt.Errorf("%w: authorization code is required", ErrValidation)
	}

	adapter, err := s.registry.PlatformAdapter(providerType)
	if err != nil {
		return false, err
	}
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	creds, err := adapter.ExchangeCodeForCredentials(pctx, code, s.webhooks.OAuthRedirectURL(providerType))
	if err != nil {
		return false, fmt.Errorf("exchange authorization code: %w", err)
	}
	if _, err := s.link(ctx, adapter, providerType, creds, ""); err != nil {
		return false, err
	}
	return true, nil
}

// ConfigureProvider links a provider from manually entered credentials.
func (s *ConnectionService) ConfigureProvider(ctx context.Context, providerType string, creds provider.Credentials, displayName string) (*models.ProviderConfig, error) {
	providerType, err := normalizeProviderType(providerType)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.PlatformAdapter(providerType)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := adapter.ValidateCredentials(pctx, creds)
	if err != nil {
		if errors.Is(err, provider.ErrConfiguration) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: credentials were rejected by %s", ErrValidation, providerType)
	}
	return s.link(ctx, adapter, providerType, creds, displayName)
}

func (s *ConnectionService) link(ctx context.Context, adapter provider.Adapter, providerType string, creds provider.Credentials, displayName string) (*models.ProviderConfig, error) {
	existing, err := s.store.ProviderConfigs().GetByType(ctx, providerType)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		existing = nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	reg, err := adapter.RegisterWebhook(pctx, s.webhooks.GenerateWebhookURL(providerType), creds)
	if err != nil {
		return nil, fmt.Errorf("register webhook: %w", err)
	}

	sealedCreds, err := s.sealer.SealMap(creds)
	if err != nil {
		s.dropWebhook(pctx, adapter, reg.WebhookID, creds)
		return nil, err
	}
	sealedSecret, err := s.sealer.SealString(reg.WebhookSecret)
	if err != nil {
		s.dropWebhook(pctx, adapter, reg.WebhookID, creds)
		return nil, err
	}

	var previous *models.ProviderConfig
	cfg := &models.ProviderConfig{ProviderType: providerType}
	if existing != nil {
		old := *existing
		previous = &old
		cfg = existing
	}
	if displayName = strings.TrimSpace(displayName); displayName != "" {
		cfg.DisplayName = displayName
	} else if cfg.DisplayName == "" {
		cfg.DisplayName = defaultDisplayName(providerType)
	}
	cfg.Enabled = true
	cfg.Credentials = sealedCreds
	cfg.WebhookID = reg.WebhookID
	cfg.WebhookSecret = sealedSecret

	if previous != nil {
		err = s.store.ProviderConfigs().Save(ctx, cfg)
	} else {
		err = s.store.ProviderConfigs().Create(ctx, cfg)
	}
	if err != nil {
		s.dropWebhook(pctx, adapter, reg.WebhookID, creds)
		return nil, fmt.Errorf("save provider config: %w", err)
	}

	if previous != nil && previous.WebhookID != "" && previous.WebhookID != reg.WebhookID {
		if oldAdapter, err := s.registry.Adapter(previous); err == nil {
			s.dropWebhook(pctx, oldAdapter, previous.WebhookID, oldAdapter.Credentials())
		} else {
			s.log.Warn("could not load previous credentials to remove old webhook",
				zap.String("provider", providerType), zap.Error(err))
		}
	}
	s.registry.Invalidate(cfg.ID)

	s.log.Info("provider linked",
		zap.String("provider", providerType),
		zap.String("config_id", cfg.ID),
		zap.String("webhook_id", reg.WebhookID),
		zap.Bool("replaced", previous != nil))
	return cfg, nil
}

func (s *ConnectionService) dropWebhook(ctx context.Context, adapter provider.Adapter, webhookID string, creds provider.Credentials) {
	if webhookID == "" {
		return
	}
	if err := adapter.DeleteWebhook(ctx, webhookID, creds); err != nil {
		s.log.Warn("failed to delete provider webhook",
			zap.String("provider", adapter.Type()),
			zap.String("webhook_id", webhookID),
			zap.Error(err))
	}
}

// DisconnectProvider unlinks a provider. Without confirmation it only reports how
// many open subscriptions would be cancelled. Subscriptions are cancelled before the
// config is deleted, since the config carries the credentials needed to cancel them.
func (s *ConnectionService) DisconnectProvider(ctx context.Context, providerType string, confirmed bool) (*DisconnectResult, error) {
	providerType, err := normalizeProviderType(providerType)
	if err != nil {
		return nil, err
	}
	cfg, err := s.store.ProviderConfigs().GetByType(ctx, providerType)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}

	count, err := s.store.Subscriptions().CountNonTerminalByProvider(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}
	result := &DisconnectResult{ActiveSubscriptionCount: count}
	if !confirmed && count > 0 {
		result.RequiresConfirmation = true
		return result, nil
	}

	subs, err := s.store.Subscriptions().ListNonTerminalByProvider(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}
	var failures []error
	for _, sub := range subs {
		_, err := s.subscriptions.Cancel(ctx, sub.ID, true)
		if err != nil && !errors.Is(err, ErrSubscriptionTerminal) {
			failures = append(failures, fmt.Errorf("cancel %s: %w", sub.ID, err))
			s.log.Error("failed to cancel subscription during disconnect",
				zap.String("provider", providerType),
				zap.String("subscription_id", sub.ID),
				zap.Error(err))
			continue
		}
		result.Cancelled++
	}
	if len(failures) > 0 {
		return result, fmt.Errorf("%w: %d of %d subscriptions could not be cancelled: %w",
			ErrDisconnectIncomplete, len(failures), len(subs), errors.Join(failures...))
	}

	if cfg.WebhookID != "" {
		if adapter, err := s.registry.Adapter(cfg); err == nil {
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			s.dropWebhook(pctx, adapter, cfg.WebhookID, adapter.Credentials())
			cancel()
		} else {
			s.log.Warn("could not load credentials to remove webhook",
				zap.String("provider", providerType), zap.Error(err))
		}
	}

	if err := s.store.ProviderConfigs().Delete(ctx, cfg.ID); err != nil {
		return result, err
	}
	s.registry.Invalidate(cfg.ID)
	result.Disconnected = true

	s.log.Info("provider disconnected",
		zap.String("provider", providerType),
		zap.String("config_id", cfg.ID),
		zap.Int("cancelled_subscriptions", result.Cancelled))
	return result, nil
}

// ListProviders returns every linked provider config.
func (s *ConnectionService) ListProviders(ctx context.Context) ([]models.ProviderConfig, error) {
	return s.store.ProviderConfigs().List(ctx)
}

// UpdateProvider toggles a provider or renames it.
func (s *ConnectionService) UpdateProvider(ctx context.Context, id string, req UpdateProviderRequest) (*models.ProviderConfig, error) {
	cfg, err := s.store.ProviderConfigs().GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" || len(name) > 100 {
			return nil, fmt.Errorf("%w: display name must be 1-100 characters", ErrValidation)
		}
		cfg.DisplayName = name
	}
	if err := s.store.ProviderConfigs().Save(ctx, cfg); err != nil {
		return nil, err
	}
	s.registry.Invalidate(cfg.ID)
	return cfg, nil
}

// OAuthStatus reports, per provider type, whether OAuth linking is possible and
// whether the type is already linked.
func (s *ConnectionService) OAuthStatus(ctx context.Context) ([]ProviderStatus, error) {
	configs, err := s.store.ProviderConfigs().List(ctx)
	if err != nil {
		return nil, err
	}
	byType := make(map[string]models.ProviderConfig, len(configs))
	for _, cfg := range configs {
		byType[cfg.ProviderType] = cfg
	}

	types := []string{models.ProviderStripe, models.ProviderPayPal}
	statuses := make([]ProviderStatus, 0, len(types))
	for _, t := range types {
		st := ProviderStatus{ProviderType: t, OAuthAvailable: s.registry.HasPlatformCredentials(t)}
		if cfg, ok := byType[t]; ok {
			st.Connected = true
			st.Enabled = cfg.Enabled
			st.ConfigID = cfg.ID
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
