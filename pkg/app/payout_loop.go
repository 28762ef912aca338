package app

import (
	"context"
	"log/slog"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	disbursement_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/disbursement/services"
)

// PayoutLoop ticks the disbursement scheduler for a fixed set of tenants.
// Payout idempotency keys are date-scoped, so ticking more often than the
// schedule fires never double-pays.
type PayoutLoop struct {
	scheduler *disbursement_services.Scheduler
	tenants   common.TenantDirectory
	tenantIDs []string
	interval  time.Duration
}

func NewPayoutLoop(scheduler *disbursement_services.Scheduler, tenants common.TenantDirectory, tenantIDs []string) *PayoutLoop {
	return &PayoutLoop{
		scheduler: scheduler,
		tenants:   tenants,
		tenantIDs: tenantIDs,
		interval:  time.Hour,
	}
}

// Run ticks until the context is cancelled. A failure for one tenant never
// blocks the others.
func (l *PayoutLoop) Run(ctx context.Context) error {
	if len(l.tenantIDs) == 0 {
		<-ctx.Done()

		return ctx.Err()
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *PayoutLoop) tick(ctx context.Context) {
	for _, raw := range l.tenantIDs {
		tenantID := common.TenantID(raw)

		view, err := l.tenants.Get(ctx, tenantID)
		if err != nil {
			slog.ErrorContext(ctx, "payout tick: tenant lookup failed", "tenant_id", tenantID, "error", err)

			continue
		}

		schedule, err := disbursement_services.ParseSchedule(view.Payout.Schedule)
		if err != nil {
			slog.WarnContext(ctx, "payout tick: tenant has no valid schedule", "tenant_id", tenantID, "error", err)

			continue
		}

		result, err := l.scheduler.RunIfDue(ctx, tenantID, schedule)
		if err != nil {
			slog.ErrorContext(ctx, "payout batch failed", "tenant_id", tenantID, "error", err)

			continue
		}

		if result.Eligible > 0 {
			slog.InfoContext(ctx, "payout batch complete",
				"tenant_id", tenantID,
				"eligible", result.Eligible,
				"processed", result.Processed,
				"failed", result.Failed,
				"skipped", result.Skipped,
			)
		}
	}
}
