package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/Almanac/app/models"
	"gorm.io/gorm"
)

// SubscriptionFilter narrows the admin subscription list. Zero values mean "any".
type SubscriptionFilter struct {
	AccountID        string
	ProviderConfigID string
	Status           string
	Offset           int
	Limit            int
}

// SubscriptionRepository defines the interface for subscription persistence
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	GetByID(ctx context.Context, id string) (*models.Subscription, error)
	GetByProviderSubscriptionID(ctx context.Context, providerConfigID, providerSubscriptionID string) (*models.Subscription, error)
	GetLatestByAccount(ctx context.Context, accountID string) (*models.Subscription, error)
	List(ctx context.Context, filter SubscriptionFilter) ([]models.Subscription, int64, error)
	ListByStatus(ctx context.Context, status string) ([]models.Subscription, error)
	ListNonTerminalByProvider(ctx context.Context, providerConfigID string) ([]models.Subscription, error)
	CountNonTerminalByProvider(ctx context.Context, providerConfigID string) (int64, error)
	CountNonTerminalByAccount(ctx context.Context, accountID string) (int64, error)
	// UpdateIfUnchanged applies updates only while the row still carries the given
	// version (and status, when non-empty). It bumps the version and reports whether a row changed.
	UpdateIfUnchanged(ctx context.Context, id string, version int64, status string, updates map[string]any) (bool, error)
}

// ProviderConfigRepository defines the interface for provider configuration persistence
type ProviderConfigRepository interface {
	Create(ctx context.Context, cfg *models.ProviderConfig) error
	Save(ctx context.Context, cfg *models.ProviderConfig) error
	GetByID(ctx context.Context, id string) (*models.ProviderConfig, error)
	GetByType(ctx context.Context, providerType string) (*models.ProviderConfig, error)
	List(ctx context.Context) ([]models.ProviderConfig, error)
	Delete(ctx context.Context, id string) error
}

// SubscriptionEventRepository defines the interface for the webhook ledger
type SubscriptionEventRepository interface {
	Exists(ctx context.Context, providerEventID string) (bool, error)
	// CreateIfNotExists inserts the ledger row unless the provider event id is
	// already recorded. created is false for a duplicate.
	CreateIfNotExists(ctx context.Context, event *models.SubscriptionEvent) (created bool, err error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]models.SubscriptionEvent, error)
}

// OAuthStateRepository defines the interface for OAuth state token persistence
type OAuthStateRepository interface {
	Create(ctx context.Context, token *models.OAuthStateToken) error
	// ConsumeUnexpired deletes the matching token if it has not expired and
	// reports whether this caller removed it.
	ConsumeUnexpired(ctx context.Context, tokenHash, providerType string, now time.Time) (bool, error)
	Delete(ctx context.Context, tokenHash, providerType string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SettingsRepository defines the interface for the singleton subscription settings row
type SettingsRepository interface {
	Get(ctx context.Context) (*models.SubscriptionSettings, error)
	Save(ctx context.Context, settings *models.SubscriptionSettings) error
}

// Store is the unit-of-work view used by the billing services.
type Store interface {
	Subscriptions() SubscriptionRepository
	ProviderConfigs() ProviderConfigRepository
	SubscriptionEvents() SubscriptionEventRepository
	Settings() SettingsRepository
	// Transaction runs fn against repositories bound to a single database transaction.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	db                *gorm.DB
	Subscription      SubscriptionRepository
	ProviderConfig    ProviderConfigRepository
	SubscriptionEvent SubscriptionEventRepository
	OAuthState        OAuthStateRepository
	Setting           SettingsRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:                db,
		Subscription:      NewSubscriptionRepository(db),
		ProviderConfig:    NewProviderConfigRepository(db),
		SubscriptionEvent: NewSubscriptionEventRepository(db),
		OAuthState:        NewOAuthStateRepository(db),
		Setting:           NewSettingsRepository(db),
	}
}

// DB exposes the underlying handle for health checks and maintenance commands.
func (r *Repositories) DB() *gorm.DB { return r.db }

func (r *Repositories) Subscriptions() SubscriptionRepository           { return r.Subscription }
func (r *Repositories) ProviderConfigs() ProviderConfigRepository       { return r.ProviderConfig }
func (r *Repositories) SubscriptionEvents() SubscriptionEventRepository { return r.SubscriptionEvent }
func (r *Repositories) Settings() SettingsRepository                    { return r.Setting }

// Transaction implements Store.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

var _ Store = (*Repositories)(nil)
