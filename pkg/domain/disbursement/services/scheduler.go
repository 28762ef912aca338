package disbursement_services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	disbursement_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/disbursement/entities"
)

// Schedule is a parsed payout cadence: daily, weekly on a day of week, or
// monthly on a day of month.
type Schedule struct {
	Kind       ScheduleKind
	DayOfWeek  time.Weekday
	DayOfMonth int
}

type ScheduleKind string

const (
	ScheduleDaily   ScheduleKind = "daily"
	ScheduleWeekly  ScheduleKind = "weekly"
	ScheduleMonthly ScheduleKind = "monthly"
)

// ParseSchedule accepts "daily", "weekly:monday".."weekly:sunday" and
// "monthly:1".."monthly:28".
func ParseSchedule(raw string) (Schedule, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(raw)), ":", 2)

	switch parts[0] {
	case "daily":
		return Schedule{Kind: ScheduleDaily}, nil
	case "weekly":
		if len(parts) != 2 {
			return Schedule{}, common.E(common.KindValidation, "invalid_schedule", "weekly schedule needs a day, e.g. weekly:friday")
		}

		dow, ok := weekdays[parts[1]]
		if !ok {
			return Schedule{}, common.Ef(common.KindValidation, "invalid_schedule", "unknown weekday %q", parts[1])
		}

		return Schedule{Kind: ScheduleWeekly, DayOfWeek: dow}, nil
	case "monthly":
		if len(parts) != 2 {
			return Schedule{}, common.E(common.KindValidation, "invalid_schedule", "monthly schedule needs a day, e.g. monthly:15")
		}

		dom, err := strconv.Atoi(parts[1])
		if err != nil || dom < 1 || dom > 28 {
			return Schedule{}, common.Ef(common.KindValidation, "invalid_schedule", "day of month must be 1..28, got %q", parts[1])
		}

		return Schedule{Kind: ScheduleMonthly, DayOfMonth: dom}, nil
	default:
		return Schedule{}, common.Ef(common.KindValidation, "invalid_schedule", "unknown schedule %q", raw)
	}
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

// DueOn reports whether the schedule fires on the given day.
func (s Schedule) DueOn(day time.Time) bool {
	switch s.Kind {
	case ScheduleDaily:
		return true
	case ScheduleWeekly:
		return day.Weekday() == s.DayOfWeek
	case ScheduleMonthly:
		return day.Day() == s.DayOfMonth
	default:
		return false
	}
}

// SchedulerConfig bounds one batch run.
type SchedulerConfig struct {
	// BatchSize caps how many owners one run processes.
	BatchSize int
	// DelayBetween smooths provider rate limits between transfers.
	DelayBetween time.Duration
	// MinimumPayoutMinor skips owners below this balance.
	MinimumPayoutMinor int64
}

// BatchResult summarises one scheduler run.
type BatchResult struct {
	Eligible  int
	Processed int
	Failed    int
	Skipped   int
	Payouts   []*disbursement_entities.Disbursement
}

// Scheduler runs batch payouts for a tenant. A single owner failure never
// aborts the batch; owners beyond the batch cap wait for the next run.
type Scheduler struct {
	service *Service
	config  SchedulerConfig
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewScheduler(service *Service, config SchedulerConfig) *Scheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}

	return &Scheduler{
		service: service,
		config:  config,
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunOnce processes one payout batch for the tenant, regardless of cadence.
// Callers gate on Schedule.DueOn.
func (s *Scheduler) RunOnce(ctx context.Context, tenantID common.TenantID) (*BatchResult, error) {
	owners, err := s.service.EligibleOwners(ctx, tenantID, s.config.MinimumPayoutMinor)
	if err != nil {
		return nil, fmt.Errorf("list eligible owners: %w", err)
	}

	result := &BatchResult{Eligible: len(owners)}
	runDate := s.now().Format("2006-01-02")

	for i, owner := range owners {
		if i >= s.config.BatchSize {
			result.Skipped = len(owners) - i

			break
		}

		if i > 0 {
			if err := s.sleep(ctx, s.config.DelayBetween); err != nil {
				result.Skipped = len(owners) - i

				return result, err
			}
		}

		payout, err := s.service.Process(ctx, ProcessRequest{
			TenantID:       tenantID,
			OwnerID:        owner.OwnerID,
			IdempotencyKey: fmt.Sprintf("sched-%s-%s", runDate, owner.OwnerID),
		})
		if err != nil {
			result.Failed++

			slog.WarnContext(ctx, "scheduled payout failed",
				"tenant_id", tenantID,
				"owner_id", owner.OwnerID,
				"error", err,
			)

			continue
		}

		result.Processed++
		result.Payouts = append(result.Payouts, payout)
	}

	slog.InfoContext(ctx, "payout batch complete",
		"tenant_id", tenantID,
		"eligible", result.Eligible,
		"processed", result.Processed,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)

	return result, nil
}

// RunIfDue runs the batch only when the schedule fires today.
func (s *Scheduler) RunIfDue(ctx context.Context, tenantID common.TenantID, schedule Schedule) (*BatchResult, error) {
	if !schedule.DueOn(s.now()) {
		return &BatchResult{}, nil
	}

	return s.RunOnce(ctx, tenantID)
}
