package payment_services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	payment_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/entities"
	payment_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/ports/out"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
	"github.com/nyumbani-pay/nyumbani-pay/pkg/infra/memory"
)

type stubProvider struct {
	name        string
	currencies  []shared_vo.Currency
	createCalls int

	createResult *payment_out.PaymentIntentResult
	createErr    error
	refundErr    error
	refunds      []int64
}

func (s *stubProvider) Name() string                                  { return s.name }
func (s *stubProvider) SupportedCurrencies() []shared_vo.Currency     { return s.currencies }

func (s *stubProvider) CreateCustomer(context.Context, string, string, map[string]string) (string, error) {
	return "cus_stub", nil
}

func (s *stubProvider) CreatePaymentIntent(_ context.Context, params payment_out.CreatePaymentIntentParams) (*payment_out.PaymentIntentResult, error) {
	s.createCalls++

	if s.createErr != nil {
		return nil, s.createErr
	}

	if s.createResult != nil {
		return s.createResult, nil
	}

	return &payment_out.PaymentIntentResult{
		ExternalID: "ext_" + params.IdempotencyKey,
		Status:     payment_out.ProviderStatusPending,
	}, nil
}

func (s *stubProvider) ConfirmPaymentIntent(context.Context, string, string) (*payment_out.PaymentIntentResult, error) {
	return nil, common.E(common.KindUnsupported, "unsupported", "not implemented")
}

func (s *stubProvider) CancelPaymentIntent(context.Context, string) error { return nil }

func (s *stubProvider) GetPaymentIntentStatus(context.Context, string) (*payment_out.PaymentIntentResult, error) {
	return s.createResult, nil
}

func (s *stubProvider) RefundPayment(_ context.Context, _ string, amount shared_vo.Money, _ string) (string, error) {
	if s.refundErr != nil {
		return "", s.refundErr
	}

	s.refunds = append(s.refunds, amount.AmountMinor)

	return "re_stub", nil
}

func (s *stubProvider) CreateTransfer(context.Context, payment_out.TransferParams) (*payment_out.TransferResult, error) {
	return nil, common.E(common.KindUnsupported, "unsupported", "not implemented")
}

func (s *stubProvider) GetTransferStatus(context.Context, string) (*payment_out.TransferResult, error) {
	return nil, common.E(common.KindUnsupported, "unsupported", "not implemented")
}

func (s *stubProvider) ListPaymentMethods(context.Context, string) ([]payment_out.PaymentMethod, error) {
	return nil, nil
}

func (s *stubProvider) AttachPaymentMethod(context.Context, string, string) error { return nil }
func (s *stubProvider) DetachPaymentMethod(context.Context, string) error         { return nil }

func (s *stubProvider) CreateConnectedAccount(context.Context, string, string) (string, error) {
	return "acct_stub", nil
}

func (s *stubProvider) CreateAccountLink(context.Context, string, string, string) (string, error) {
	return "https://example.test/onboard", nil
}

func (s *stubProvider) VerifyWebhookSignature([]byte, string) error { return nil }

func (s *stubProvider) ParseWebhookEvent([]byte) (*payment_out.WebhookEvent, error) {
	return nil, common.E(common.KindUnsupported, "unsupported", "not implemented")
}

type tenantFixture struct {
	views map[common.TenantID]*common.TenantView
}

func (f *tenantFixture) Get(_ context.Context, id common.TenantID) (*common.TenantView, error) {
	view, ok := f.views[id]
	if !ok {
		return nil, common.Ef(common.KindNotFound, "tenant_not_found", "tenant %s not found", id)
	}

	return view, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []common.DomainEvent
}

func (r *eventRecorder) Publish(_ context.Context, events ...common.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, events...)

	return nil
}

func (r *eventRecorder) ofType(eventType string) []common.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []common.DomainEvent

	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}

	return out
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	intents      *memory.PaymentIntentRepository
	provider     *stubProvider
	events       *eventRecorder
	tenantID     common.TenantID
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	provider := &stubProvider{
		name:       "stub",
		currencies: []shared_vo.Currency{shared_vo.KES, shared_vo.USD},
	}

	tenantID := common.TenantID("ten_acme")
	tenants := &tenantFixture{views: map[common.TenantID]*common.TenantView{
		tenantID: {
			ID:                 tenantID,
			Name:               "Acme Properties",
			PlatformFeePercent: decimal.RequireFromString("5"),
		},
	}}

	intents := memory.NewPaymentIntentRepository()
	events := &eventRecorder{}

	return &orchestratorFixture{
		orchestrator: NewOrchestrator(intents, NewProviderRegistry(provider), tenants, events),
		intents:      intents,
		provider:     provider,
		events:       events,
		tenantID:     tenantID,
	}
}

func (f *orchestratorFixture) createRequest() CreatePaymentRequest {
	return CreatePaymentRequest{
		TenantID:       f.tenantID,
		CustomerID:     common.CustomerID("cust_wanjiku"),
		Type:           payment_entities.PaymentTypeRent,
		Amount:         shared_vo.NewMoney(100_000, shared_vo.KES),
		Description:    "Rent March, Unit 5A",
		IdempotencyKey: "rent-2026-03-unit5a",
	}
}

func TestCreatePayment_ComputesPlatformFee(t *testing.T) {
	f := newOrchestratorFixture(t)

	result, err := f.orchestrator.CreatePayment(context.Background(), f.createRequest())
	require.NoError(t, err)

	intent := result.Intent
	assert.Equal(t, payment_entities.StatusPending, intent.Status)
	assert.Equal(t, int64(5_000), intent.PlatformFee.AmountMinor)
	assert.Equal(t, int64(95_000), intent.NetAmount.AmountMinor)
	assert.Len(t, f.events.ofType(common.EventPaymentCreated), 1)
}

func TestCreatePayment_IdempotencyKeyReturnsExisting(t *testing.T) {
	f := newOrchestratorFixture(t)
	req := f.createRequest()
	req.PaymentMethod = "pm_card"

	first, err := f.orchestrator.CreatePayment(context.Background(), req)
	require.NoError(t, err)

	second, err := f.orchestrator.CreatePayment(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Intent.ID, second.Intent.ID)
	assert.Equal(t, 1, f.provider.createCalls, "replay must not reach the provider")
	assert.Len(t, f.events.ofType(common.EventPaymentCreated), 1)
}

func TestCreatePayment_RejectsLongDescriptor(t *testing.T) {
	f := newOrchestratorFixture(t)
	req := f.createRequest()
	req.StatementDescriptor = "NYUMBANI RENT UNIT 5A LONG"

	_, err := f.orchestrator.CreatePayment(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "descriptor_too_long", common.CodeOf(err))
}

func TestCreatePayment_RejectsNonPositiveAmount(t *testing.T) {
	f := newOrchestratorFixture(t)
	req := f.createRequest()
	req.Amount = shared_vo.NewMoney(0, shared_vo.KES)

	_, err := f.orchestrator.CreatePayment(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "non_positive_amount", common.CodeOf(err))
}

func TestCreatePayment_ImmediateProviderSuccess(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.provider.createResult = &payment_out.PaymentIntentResult{
		ExternalID: "ext_1",
		Status:     payment_out.ProviderStatusSucceeded,
		ReceiptURL: "https://example.test/receipt/1",
	}

	req := f.createRequest()
	req.PaymentMethod = "pm_card"

	result, err := f.orchestrator.CreatePayment(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, payment_entities.StatusSucceeded, result.Intent.Status)
	require.NotNil(t, result.Intent.PaidAt)

	succeeded := f.events.ofType(common.EventPaymentSucceeded)
	require.Len(t, succeeded, 1)

	payload, ok := succeeded[0].Payload.(SucceededPayload)
	require.True(t, ok)
	assert.Equal(t, int64(100_000), payload.Amount.AmountMinor)
	assert.Equal(t, int64(5_000), payload.PlatformFee.AmountMinor)
	assert.Equal(t, int64(95_000), payload.NetAmount.AmountMinor)
}

func TestCreatePayment_ProviderRejectionFailsIntent(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.provider.createErr = errors.New("card_declined")

	req := f.createRequest()
	req.PaymentMethod = "pm_card"

	_, err := f.orchestrator.CreatePayment(context.Background(), req)
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindProvider))

	stored, err := f.intents.GetByIdempotencyKey(context.Background(), f.tenantID, req.IdempotencyKey)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, payment_entities.StatusFailed, stored.Status)
}

func settledIntent(t *testing.T, f *orchestratorFixture) *payment_entities.PaymentIntent {
	t.Helper()

	f.provider.createResult = &payment_out.PaymentIntentResult{
		ExternalID: "ext_settle",
		Status:     payment_out.ProviderStatusSucceeded,
	}

	req := f.createRequest()
	req.PaymentMethod = "pm_card"

	result, err := f.orchestrator.CreatePayment(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, payment_entities.StatusSucceeded, result.Intent.Status)

	return result.Intent
}

func TestRefund_PartialThenFullThenOverRefund(t *testing.T) {
	f := newOrchestratorFixture(t)
	intent := settledIntent(t, f)
	ctx := context.Background()

	partial := shared_vo.NewMoney(30_000, shared_vo.KES)
	result, err := f.orchestrator.Refund(ctx, f.tenantID, intent.ID, &partial, "tenant moved out")
	require.NoError(t, err)
	assert.Equal(t, payment_entities.StatusPartiallyRefunded, result.Intent.Status)
	assert.Equal(t, int64(30_000), result.Intent.RefundedMinor)

	rest := shared_vo.NewMoney(70_000, shared_vo.KES)
	result, err = f.orchestrator.Refund(ctx, f.tenantID, intent.ID, &rest, "")
	require.NoError(t, err)
	assert.Equal(t, payment_entities.StatusRefunded, result.Intent.Status)
	assert.Equal(t, int64(100_000), result.Intent.RefundedMinor)

	one := shared_vo.NewMoney(1, shared_vo.KES)
	_, err = f.orchestrator.Refund(ctx, f.tenantID, intent.ID, &one, "")
	require.Error(t, err)
	assert.Equal(t, "illegal_transition", common.CodeOf(err))

	assert.Equal(t, []int64{30_000, 70_000}, f.provider.refunds)
	assert.Len(t, f.events.ofType(common.EventPaymentRefunded), 2)
}

func TestRefund_OverRefundRejectedBeforeProvider(t *testing.T) {
	f := newOrchestratorFixture(t)
	intent := settledIntent(t, f)

	excess := shared_vo.NewMoney(100_001, shared_vo.KES)
	_, err := f.orchestrator.Refund(context.Background(), f.tenantID, intent.ID, &excess, "")
	require.Error(t, err)
	assert.Equal(t, "over_refund", common.CodeOf(err))
	assert.Empty(t, f.provider.refunds)
}

func TestRefund_NilAmountRefundsRemainder(t *testing.T) {
	f := newOrchestratorFixture(t)
	intent := settledIntent(t, f)
	ctx := context.Background()

	partial := shared_vo.NewMoney(40_000, shared_vo.KES)
	_, err := f.orchestrator.Refund(ctx, f.tenantID, intent.ID, &partial, "")
	require.NoError(t, err)

	result, err := f.orchestrator.Refund(ctx, f.tenantID, intent.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, payment_entities.StatusRefunded, result.Intent.Status)
	assert.Equal(t, []int64{40_000, 60_000}, f.provider.refunds)
}

func processingIntent(t *testing.T, f *orchestratorFixture) *payment_entities.PaymentIntent {
	t.Helper()

	f.provider.createResult = &payment_out.PaymentIntentResult{
		ExternalID: "ext_hook",
		Status:     payment_out.ProviderStatusPending,
	}

	req := f.createRequest()
	req.PaymentMethod = "pm_card"

	result, err := f.orchestrator.CreatePayment(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, payment_entities.StatusProcessing, result.Intent.Status)

	return result.Intent
}

func TestHandleWebhook_SuccessIsIdempotent(t *testing.T) {
	f := newOrchestratorFixture(t)
	intent := processingIntent(t, f)
	ctx := context.Background()

	hook := payment_out.WebhookEvent{
		Provider:   "stub",
		ExternalID: "ext_hook",
		Status:     payment_out.ProviderStatusSucceeded,
		ReceiptURL: "https://example.test/receipt/hook",
	}

	require.NoError(t, f.orchestrator.HandleWebhook(ctx, hook))
	require.NoError(t, f.orchestrator.HandleWebhook(ctx, hook))

	stored, err := f.orchestrator.GetIntent(ctx, f.tenantID, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, payment_entities.StatusSucceeded, stored.Status)
	assert.Equal(t, "https://example.test/receipt/hook", stored.ReceiptURL)

	assert.Len(t, f.events.ofType(common.EventPaymentSucceeded), 1, "redelivery must not re-emit")
}

func TestHandleWebhook_UnknownExternalIDAcked(t *testing.T) {
	f := newOrchestratorFixture(t)

	err := f.orchestrator.HandleWebhook(context.Background(), payment_out.WebhookEvent{
		Provider:   "stub",
		ExternalID: "ext_ghost",
		Status:     payment_out.ProviderStatusSucceeded,
	})
	require.NoError(t, err)
}

func TestHandleWebhook_FailureMovesIntent(t *testing.T) {
	f := newOrchestratorFixture(t)
	intent := processingIntent(t, f)
	ctx := context.Background()

	err := f.orchestrator.HandleWebhook(ctx, payment_out.WebhookEvent{
		Provider:      "stub",
		ExternalID:    "ext_hook",
		Status:        payment_out.ProviderStatusFailed,
		FailureReason: "insufficient_funds",
	})
	require.NoError(t, err)

	stored, err := f.orchestrator.GetIntent(ctx, f.tenantID, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, payment_entities.StatusFailed, stored.Status)
	assert.Equal(t, "insufficient_funds", stored.FailureReason)
	assert.Len(t, f.events.ofType(common.EventPaymentFailed), 1)
}

func TestCancel_PendingIntent(t *testing.T) {
	f := newOrchestratorFixture(t)

	result, err := f.orchestrator.CreatePayment(context.Background(), f.createRequest())
	require.NoError(t, err)

	err = f.orchestrator.Cancel(context.Background(), f.tenantID, result.Intent.ID, "customer request")
	require.NoError(t, err)

	stored, err := f.orchestrator.GetIntent(context.Background(), f.tenantID, result.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, payment_entities.StatusCancelled, stored.Status)
}

func TestProcessPayment_RejectsNonPending(t *testing.T) {
	f := newOrchestratorFixture(t)
	intent := settledIntent(t, f)

	_, err := f.orchestrator.ProcessPayment(context.Background(), f.tenantID, intent.ID, "cus_x", "pm_card")
	require.Error(t, err)
	assert.Equal(t, "illegal_transition", common.CodeOf(err))
}
