package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuelReschke/Almanac/app/models"
	"go.uber.org/zap"
)

// SweepResult summarizes one grace-period sweep.
type SweepResult struct {
	Checked   int `json:"checked"`
	Suspended int `json:"suspended"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// SuspendExpiredSubscriptions suspends past_due subscriptions whose grace period
// has run out. Rows are handled independently and every write is conditioned on
// the row still being past_due at the version that was read, so re-running is safe.
func (s *SubscriptionService) SuspendExpiredSubscriptions(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return result, fmt.Errorf("load settings: %w", err)
	}
	rows, err := s.store.Subscriptions().ListByStatus(ctx, models.SubscriptionStatusPastDue)
	if err != nil {
		return result, fmt.Errorf("list past_due subscriptions: %w", err)
	}

	now := s.now()
	threshold := now.Add(-settings.GracePeriod())
	var errs []error
	for i := range rows {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		sub := &rows[i]
		result.Checked++
		if !sub.UpdatedAt.Before(threshold) {
			continue
		}

		ok, err := s.store.Subscriptions().UpdateIfUnchanged(ctx, sub.ID, sub.Version, models.SubscriptionStatusPastDue, map[string]any{
			"status":       models.SubscriptionStatusSuspended,
			"suspended_at": now,
			"updated_at":   now,
		})
		switch {
		case err != nil:
			result.Failed++
			errs = append(errs, fmt.Errorf("suspend %s: %w", sub.ID, err))
			s.log.Error("failed to suspend subscription", zap.String("subscription_id", sub.ID), zap.Error(err))
		case !ok:
			// Cancelled, recovered or otherwise touched since the snapshot.
			result.Skipped++
		default:
			result.Suspended++
			s.log.Info("subscription suspended after grace period",
				zap.String("subscription_id", sub.ID),
				zap.String("account_id", sub.AccountID),
				zap.Time("past_due_since", sub.UpdatedAt))
		}
	}

	s.metrics.GraceSweep(result.Suspended, result.Failed)
	return result, errors.Join(errs...)
}
