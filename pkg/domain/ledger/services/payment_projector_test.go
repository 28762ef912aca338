package ledger_services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	event_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/entities"
	ledger_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/entities"
	ledger_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/ports/out"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

type staticOwnerResolver struct {
	owner common.OwnerID
	err   error
}

func (r staticOwnerResolver) OwnerForLease(_ context.Context, _ common.TenantID, _ common.LeaseID) (common.OwnerID, error) {
	return r.owner, r.err
}

type projectorFixture struct {
	*ledgerFixture
	chart     *ChartService
	projector *PaymentProjector
}

func newProjectorFixture(t *testing.T, owners OwnerResolver) *projectorFixture {
	t.Helper()

	base := newLedgerFixture(t)
	chart := NewChartService(base.accounts)

	return &projectorFixture{
		ledgerFixture: base,
		chart:         chart,
		projector:     NewPaymentProjector(base.service, chart, owners),
	}
}

func settledEnvelope(t *testing.T, leaseID *common.LeaseID, amountMinor, feeMinor int64) *event_entities.Envelope {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"payment_intent_id": "pi_settle_1",
		"customer_id":       "cus_1",
		"lease_id":          leaseID,
		"type":              "rent",
		"amount":            shared_vo.NewMoney(amountMinor, shared_vo.KES),
		"platform_fee":      shared_vo.NewMoney(feeMinor, shared_vo.KES),
		"net_amount":        shared_vo.NewMoney(amountMinor-feeMinor, shared_vo.KES),
		"paid_at":           time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	return event_entities.NewEnvelope(common.DomainEvent{
		ID:            "evt_settle_1",
		AggregateType: "payment_intent",
		AggregateID:   "pi_settle_1",
		Type:          common.EventPaymentSucceeded,
		TenantID:      testTenant,
		OccurredAt:    time.Now().UTC(),
	}, payload)
}

func (f *projectorFixture) balanceOf(t *testing.T, account *ledger_entities.Account) int64 {
	t.Helper()

	fresh, err := f.accounts.GetByID(context.Background(), testTenant, account.ID)
	require.NoError(t, err)

	return fresh.Balance().AmountMinor
}

func TestPaymentProjector_SettlementJournal(t *testing.T) {
	lease := common.LeaseID("lease_9")
	f := newProjectorFixture(t, staticOwnerResolver{owner: common.OwnerID("own_1")})
	ctx := context.Background()

	require.NoError(t, f.projector.HandleEnvelope(ctx, settledEnvelope(t, &lease, 100_000, 5_000)))

	customerID := common.CustomerID("cus_1")
	liability, err := f.accounts.GetByScope(ctx, testTenant, ledger_entities.AccountTypeCustomerLiability,
		ledger_entities.AccountScope{CustomerID: &customerID})
	require.NoError(t, err)
	require.NotNil(t, liability)

	ownerID := common.OwnerID("own_1")
	holding, err := f.accounts.GetByScope(ctx, testTenant, ledger_entities.AccountTypePlatformHolding,
		ledger_entities.AccountScope{OwnerID: &ownerID})
	require.NoError(t, err)
	require.NotNil(t, holding)

	// Debits add, credits subtract, so the journal nets to zero across the
	// three accounts.
	assert.Equal(t, int64(100_000), f.balanceOf(t, liability))
	assert.Equal(t, int64(-95_000), f.balanceOf(t, holding))

	revenues, err := f.accounts.ListByType(ctx, testTenant, ledger_entities.AccountTypePlatformRevenue)
	require.NoError(t, err)
	require.Len(t, revenues, 1)
	assert.Equal(t, int64(-5_000), f.balanceOf(t, revenues[0]))

	entries, total, err := f.entries.FindByAccount(ctx, testTenant, liability.ID, ledger_out.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger_entities.EntryTypeRentPayment, entries[0].Type)
	require.NotNil(t, entries[0].Refs.PaymentIntentID)
	assert.Equal(t, common.PaymentIntentID("pi_settle_1"), *entries[0].Refs.PaymentIntentID)
}

func TestPaymentProjector_NoLeaseFallsBackToTenantHolding(t *testing.T) {
	f := newProjectorFixture(t, staticOwnerResolver{})
	ctx := context.Background()

	require.NoError(t, f.projector.HandleEnvelope(ctx, settledEnvelope(t, nil, 50_000, 2_500)))

	holdings, err := f.accounts.ListByType(ctx, testTenant, ledger_entities.AccountTypePlatformHolding)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, ledger_entities.AccountScope{}, holdings[0].Scope)
	assert.Equal(t, int64(-47_500), f.balanceOf(t, holdings[0]))
}

func TestPaymentProjector_UnresolvableOwnerFallsBackToTenantHolding(t *testing.T) {
	lease := common.LeaseID("lease_orphan")
	f := newProjectorFixture(t, staticOwnerResolver{err: common.E(common.KindNotFound, "lease_not_found", "no such lease")})
	ctx := context.Background()

	require.NoError(t, f.projector.HandleEnvelope(ctx, settledEnvelope(t, &lease, 50_000, 2_500)))

	holdings, err := f.accounts.ListByType(ctx, testTenant, ledger_entities.AccountTypePlatformHolding)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, ledger_entities.AccountScope{}, holdings[0].Scope)
}

func TestPaymentProjector_RefundReversesProportionally(t *testing.T) {
	lease := common.LeaseID("lease_9")
	f := newProjectorFixture(t, staticOwnerResolver{owner: common.OwnerID("own_1")})
	ctx := context.Background()

	require.NoError(t, f.projector.HandleEnvelope(ctx, settledEnvelope(t, &lease, 100_000, 5_000)))

	payload, err := json.Marshal(map[string]any{
		"payment_intent_id":     "pi_settle_1",
		"customer_id":           "cus_1",
		"lease_id":              lease,
		"amount_minor":          40_000,
		"currency":              shared_vo.KES,
		"total_refunded":        40_000,
		"original_amount_minor": 100_000,
		"platform_fee_minor":    5_000,
	})
	require.NoError(t, err)

	refunded := event_entities.NewEnvelope(common.DomainEvent{
		ID:            "evt_refund_1",
		AggregateType: "payment_intent",
		AggregateID:   "pi_settle_1",
		Type:          common.EventPaymentRefunded,
		TenantID:      testTenant,
		OccurredAt:    time.Now().UTC(),
	}, payload)

	require.NoError(t, f.projector.HandleEnvelope(ctx, refunded))

	customerID := common.CustomerID("cus_1")
	liability, err := f.accounts.GetByScope(ctx, testTenant, ledger_entities.AccountTypeCustomerLiability,
		ledger_entities.AccountScope{CustomerID: &customerID})
	require.NoError(t, err)

	ownerID := common.OwnerID("own_1")
	holding, err := f.accounts.GetByScope(ctx, testTenant, ledger_entities.AccountTypePlatformHolding,
		ledger_entities.AccountScope{OwnerID: &ownerID})
	require.NoError(t, err)

	revenues, err := f.accounts.ListByType(ctx, testTenant, ledger_entities.AccountTypePlatformRevenue)
	require.NoError(t, err)
	require.Len(t, revenues, 1)

	// Fee share of the refund is 40_000 * 5_000 / 100_000 = 2_000, net
	// share is 38_000.
	assert.Equal(t, int64(60_000), f.balanceOf(t, liability))
	assert.Equal(t, int64(-57_000), f.balanceOf(t, holding))
	assert.Equal(t, int64(-3_000), f.balanceOf(t, revenues[0]))
}

func TestPaymentProjector_IgnoresUnrelatedEvents(t *testing.T) {
	f := newProjectorFixture(t, staticOwnerResolver{})
	ctx := context.Background()

	envelope := event_entities.NewEnvelope(common.DomainEvent{
		ID:         "evt_other",
		Type:       common.EventStatementGenerated,
		TenantID:   testTenant,
		OccurredAt: time.Now().UTC(),
	}, []byte(`{}`))

	require.NoError(t, f.projector.HandleEnvelope(ctx, envelope))

	accounts, err := f.accounts.ListByTenant(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestProportionalFee(t *testing.T) {
	assert.Equal(t, int64(2_000), proportionalFee(40_000, 100_000, 5_000))
	assert.Equal(t, int64(5_000), proportionalFee(100_000, 100_000, 5_000))
	assert.Equal(t, int64(0), proportionalFee(40_000, 100_000, 0))
	assert.Equal(t, int64(0), proportionalFee(40_000, 0, 5_000))
	// Half rounds away from zero.
	assert.Equal(t, int64(17), proportionalFee(333, 1_000, 50))
}
