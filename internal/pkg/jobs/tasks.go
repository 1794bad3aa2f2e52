package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ManuelReschke/Almanac/internal/pkg/billing"
)

const (
	GraceSweepJob   = "grace_sweep"
	StateCleanupJob = "oauth_state_cleanup"
)

type Sweeper interface {
	SuspendExpiredSubscriptions(ctx context.Context) (billing.SweepResult, error)
}

type StateCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// GraceSweepTask suspends past_due subscriptions whose grace period ran out.
func GraceSweepTask(sweeper Sweeper, interval time.Duration, log *zap.Logger) Task {
	if log == nil {
		log = zap.NewNop()
	}
	return Task{
		Name:     GraceSweepJob,
		Interval: interval,
		Run: func(ctx context.Context) error {
			result, err := sweeper.SuspendExpiredSubscriptions(ctx)
			if result.Suspended > 0 || result.Failed > 0 {
				log.Info("grace sweep finished",
					zap.Int("checked", result.Checked),
					zap.Int("suspended", result.Suspended),
					zap.Int("skipped", result.Skipped),
					zap.Int("failed", result.Failed))
			}
			return err
		},
	}
}

// StateCleanupTask purges expired OAuth state tokens.
func StateCleanupTask(cleaner StateCleaner, interval time.Duration) Task {
	return Task{
		Name:     StateCleanupJob,
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := cleaner.CleanupExpired(ctx)
			return err
		},
	}
}
