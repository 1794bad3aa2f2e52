package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/ManuelReschke/Almanac/app/repository"
	"github.com/ManuelReschke/Almanac/internal/pkg/provider"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WebhookOutcome describes what ingestion did with a verified event.
type WebhookOutcome string

const (
	OutcomeProcessed WebhookOutcome = "processed"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeIgnored   WebhookOutcome = "ignored"
	OutcomeUntracked WebhookOutcome = "untracked"
)

// ProcessWebhookEvent applies a verified provider event to the matching subscription.
// The ledger insert and the row update share one transaction, so a redelivered
// event id is always a no-op.
func (s *SubscriptionService) ProcessWebhookEvent(ctx context.Context, cfg *models.ProviderConfig, event *provider.WebhookEvent) (WebhookOutcome, error) {
	if cfg == nil || event == nil {
		return "", fmt.Errorf("%w: provider config and event are required", ErrValidation)
	}
	if event.EventID == "" {
		return "", fmt.Errorf("%w: event has no id", ErrValidation)
	}

	var (
		outcome WebhookOutcome
		err     error
	)
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		outcome, err = s.ingest(ctx, cfg, event)
		if !errors.Is(err, ErrConcurrentUpdate) {
			break
		}
		s.log.Debug("webhook lost update race, retrying",
			zap.String("event_id", event.EventID),
			zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return "", err
	}

	s.metrics.WebhookEvent(cfg.ProviderType, string(outcome))
	fields := []zap.Field{
		zap.String("provider", cfg.ProviderType),
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("provider_subscription_id", event.SubscriptionID),
		zap.String("outcome", string(outcome)),
	}
	switch outcome {
	case OutcomeIgnored:
		s.log.Info("webhook event ignored", fields...)
	case OutcomeProcessed:
		s.log.Info("webhook event processed", fields...)
	default:
		s.log.Debug("webhook event skipped", fields...)
	}
	return outcome, nil
}

func (s *SubscriptionService) ingest(ctx context.Context, cfg *models.ProviderConfig, event *provider.WebhookEvent) (WebhookOutcome, error) {
	if event.SubscriptionID == "" {
		return OutcomeUntracked, nil
	}

	var outcome WebhookOutcome
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		sub, err := tx.Subscriptions().GetByProviderSubscriptionID(ctx, cfg.ID, event.SubscriptionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = OutcomeUntracked
			return nil
		}
		if err != nil {
			return err
		}

		created, err := tx.SubscriptionEvents().CreateIfNotExists(ctx, &models.SubscriptionEvent{
			ProviderEventID:  event.EventID,
			EventType:        event.EventType,
			Payload:          string(event.Payload),
			SubscriptionID:   sub.ID,
			ProviderConfigID: cfg.ID,
		})
		if err != nil {
			return err
		}
		if !created {
			outcome = OutcomeDuplicate
			return nil
		}

		if event.Kind == provider.EventUnknown || event.Kind == "" || sub.IsTerminal() {
			outcome = OutcomeIgnored
			return nil
		}

		outcome = OutcomeProcessed
		updates := transitionUpdates(sub, event, s.now())
		if len(updates) == 0 {
			return nil
		}
		ok, err := tx.Subscriptions().UpdateIfUnchanged(ctx, sub.ID, sub.Version, "", updates)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrentUpdate
		}
		return nil
	})
	return outcome, err
}

// nextStatus returns the status an event moves a subscription to.
func nextStatus(current string, event *provider.WebhookEvent) string {
	if models.IsTerminalStatus(current) {
		return current
	}
	switch event.Kind {
	case provider.EventPaymentSucceeded:
		return models.SubscriptionStatusActive
	case provider.EventPaymentFailed:
		if current == models.SubscriptionStatusSuspended {
			return current
		}
		return models.SubscriptionStatusPastDue
	case provider.EventSubscriptionCancelled:
		return models.SubscriptionStatusCancelled
	case provider.EventSubscriptionUpdated:
		if !models.IsValidSubscriptionStatus(event.Status) {
			return current
		}
		// A provider still retrying payment must not lift a suspension.
		if current == models.SubscriptionStatusSuspended && event.Status == models.SubscriptionStatusPastDue {
			return current
		}
		return event.Status
	default:
		return current
	}
}

// transitionUpdates builds the column changes for applying event to sub.
// An empty map means nothing changes.
func transitionUpdates(sub *models.Subscription, event *provider.WebhookEvent, now time.Time) map[string]any {
	updates := map[string]any{}
	next := nextStatus(sub.Status, event)
	if next != sub.Status {
		updates["status"] = next
		if next == models.SubscriptionStatusCancelled {
			updates["cancelled_at"] = now
		}
	}
	if event.PeriodStart != nil && !sameTime(sub.CurrentPeriodStart, event.PeriodStart) {
		updates["current_period_start"] = *event.PeriodStart
	}
	if event.PeriodEnd != nil && !sameTime(sub.CurrentPeriodEnd, event.PeriodEnd) {
		updates["current_period_end"] = *event.PeriodEnd
	}
	if len(updates) == 0 {
		return nil
	}
	if next == sub.Status && next == models.SubscriptionStatusPastDue {
		// updated_at anchors the grace period; period changes must not move it.
		updates["updated_at"] = sub.UpdatedAt
	} else {
		updates["updated_at"] = now
	}
	return updates
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}
