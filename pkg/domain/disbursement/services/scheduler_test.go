package disbursement_services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
	ledger_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/services"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		raw     string
		want    Schedule
		wantErr bool
	}{
		{raw: "daily", want: Schedule{Kind: ScheduleDaily}},
		{raw: "weekly:friday", want: Schedule{Kind: ScheduleWeekly, DayOfWeek: time.Friday}},
		{raw: "monthly:15", want: Schedule{Kind: ScheduleMonthly, DayOfMonth: 15}},
		{raw: "weekly", wantErr: true},
		{raw: "monthly:31", wantErr: true},
		{raw: "hourly", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ParseSchedule(tc.raw)
		if tc.wantErr {
			require.Error(t, err, tc.raw)
			continue
		}

		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestScheduleDueOn(t *testing.T) {
	friday := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	assert.True(t, Schedule{Kind: ScheduleDaily}.DueOn(friday))
	assert.True(t, Schedule{Kind: ScheduleWeekly, DayOfWeek: time.Friday}.DueOn(friday))
	assert.False(t, Schedule{Kind: ScheduleWeekly, DayOfWeek: time.Monday}.DueOn(friday))
	assert.True(t, Schedule{Kind: ScheduleMonthly, DayOfMonth: 13}.DueOn(friday))
	assert.False(t, Schedule{Kind: ScheduleMonthly, DayOfMonth: 1}.DueOn(friday))
}

func addFundedOwner(t *testing.T, f *serviceFixture, ownerID common.OwnerID, amountMinor int64) {
	t.Helper()

	ctx := context.Background()
	holding := ledger_entities.NewAccount(f.tenantID, ledger_entities.AccountTypePlatformHolding,
		"holding "+string(ownerID), shared_vo.KES, ledger_entities.AccountScope{OwnerID: &ownerID})
	operating := ledger_entities.NewAccount(f.tenantID, ledger_entities.AccountTypeOwnerOperating,
		"operating "+string(ownerID), shared_vo.KES, ledger_entities.AccountScope{OwnerID: &ownerID})
	scratch := ledger_entities.NewAccount(f.tenantID, ledger_entities.AccountTypeCustomerLiability,
		"scratch "+string(ownerID), shared_vo.KES, ledger_entities.AccountScope{})

	require.NoError(t, f.accounts.Create(ctx, holding))
	require.NoError(t, f.accounts.Create(ctx, operating))
	require.NoError(t, f.accounts.Create(ctx, scratch))

	_, err := f.ledger.PostJournal(ctx, ledger_services.JournalRequest{
		TenantID: f.tenantID,
		Lines: []ledger_services.JournalLine{
			{AccountID: scratch.ID, Direction: ledger_entities.DirectionDebit, Amount: shared_vo.NewMoney(amountMinor, shared_vo.KES), Type: ledger_entities.EntryTypeRentPayment},
			{AccountID: holding.ID, Direction: ledger_entities.DirectionCredit, Amount: shared_vo.NewMoney(amountMinor, shared_vo.KES), Type: ledger_entities.EntryTypeRentPayment},
		},
	})
	require.NoError(t, err)
}

func TestRunOnce_ProcessesEligibleOwners(t *testing.T) {
	f := newServiceFixture(t)
	f.fundHolding(t, 40_000)
	addFundedOwner(t, f, common.OwnerID("own_akinyi"), 25_000)

	var slept []time.Duration

	scheduler := NewScheduler(f.service, SchedulerConfig{
		BatchSize:          10,
		DelayBetween:       5 * time.Second,
		MinimumPayoutMinor: 10_000,
	})
	scheduler.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	result, err := scheduler.RunOnce(context.Background(), f.tenantID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Eligible)
	assert.Equal(t, 2, result.Processed)
	assert.Zero(t, result.Failed)
	assert.Equal(t, []time.Duration{5 * time.Second}, slept, "delay applies between transfers, not before the first")
}

func TestRunOnce_BatchSizeCapsRun(t *testing.T) {
	f := newServiceFixture(t)
	f.fundHolding(t, 40_000)
	addFundedOwner(t, f, common.OwnerID("own_akinyi"), 25_000)
	addFundedOwner(t, f, common.OwnerID("own_baraka"), 25_000)

	scheduler := NewScheduler(f.service, SchedulerConfig{BatchSize: 2})
	scheduler.sleep = func(context.Context, time.Duration) error { return nil }

	result, err := scheduler.RunOnce(context.Background(), f.tenantID)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Eligible)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Skipped)
}

func TestRunOnce_SingleFailureDoesNotAbortBatch(t *testing.T) {
	f := newServiceFixture(t)
	f.fundHolding(t, 40_000)
	addFundedOwner(t, f, common.OwnerID("own_akinyi"), 25_000)

	// Suspend the first owner's operating account so their payout fails at
	// the journal stage while the other owner still pays out.
	suspended, err := f.accounts.GetByID(context.Background(), f.tenantID, f.operating.ID)
	require.NoError(t, err)
	require.NoError(t, f.accounts.UpdateStatus(context.Background(), f.tenantID, suspended.ID, ledger_entities.AccountStatusSuspended))

	scheduler := NewScheduler(f.service, SchedulerConfig{BatchSize: 10})
	scheduler.sleep = func(context.Context, time.Duration) error { return nil }

	result, err := scheduler.RunOnce(context.Background(), f.tenantID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Processed)
}

func TestRunIfDue_SkipsOffScheduleDays(t *testing.T) {
	f := newServiceFixture(t)
	f.fundHolding(t, 40_000)

	scheduler := NewScheduler(f.service, SchedulerConfig{BatchSize: 10})
	scheduler.now = func() time.Time { return time.Date(2026, 2, 13, 8, 0, 0, 0, time.UTC) } // a Friday

	result, err := scheduler.RunIfDue(context.Background(), f.tenantID, Schedule{Kind: ScheduleWeekly, DayOfWeek: time.Monday})
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
	assert.Zero(t, result.Eligible)

	result, err = scheduler.RunIfDue(context.Background(), f.tenantID, Schedule{Kind: ScheduleWeekly, DayOfWeek: time.Friday})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
}
