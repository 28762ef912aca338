package payment_services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	payment_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/entities"
	payment_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/ports/out"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// CreatePaymentRequest is the orchestrator's creation input.
type CreatePaymentRequest struct {
	TenantID            common.TenantID
	CustomerID          common.CustomerID
	CustomerRef         string
	LeaseID             *common.LeaseID
	Type                payment_entities.PaymentType
	Amount              shared_vo.Money
	Description         string
	StatementDescriptor string
	IdempotencyKey      string
	// PaymentMethod, when set, triggers provider processing immediately;
	// otherwise the intent stays pending until ProcessPayment.
	PaymentMethod string
}

// PaymentResult carries the intent plus any client-side continuation data.
type PaymentResult struct {
	Intent        *payment_entities.PaymentIntent
	ClientSecret  string
	NextActionURL string
}

// RefundResult reports a completed refund.
type RefundResult struct {
	Intent        *payment_entities.PaymentIntent
	RefundRef     string
	RefundedMinor int64
}

// SucceededPayload is the payload of payment.succeeded; ledger subscribers
// post the settlement journal from it.
type SucceededPayload struct {
	PaymentIntentID common.PaymentIntentID       `json:"payment_intent_id"`
	CustomerID      common.CustomerID            `json:"customer_id"`
	LeaseID         *common.LeaseID              `json:"lease_id,omitempty"`
	Type            payment_entities.PaymentType `json:"type"`
	Amount          shared_vo.Money              `json:"amount"`
	PlatformFee     shared_vo.Money              `json:"platform_fee"`
	NetAmount       shared_vo.Money              `json:"net_amount"`
	PaidAt          time.Time                    `json:"paid_at"`
	ReceiptURL      string                       `json:"receipt_url,omitempty"`
}

// RefundedPayload is the payload of payment.refunded. It carries enough of
// the original intent for ledger subscribers to reverse net and fee
// proportionally without a lookup.
type RefundedPayload struct {
	PaymentIntentID     common.PaymentIntentID `json:"payment_intent_id"`
	CustomerID          common.CustomerID      `json:"customer_id"`
	LeaseID             *common.LeaseID        `json:"lease_id,omitempty"`
	AmountMinor         int64                  `json:"amount_minor"`
	Currency            shared_vo.Currency     `json:"currency"`
	TotalRefunded       int64                  `json:"total_refunded"`
	OriginalAmountMinor int64                  `json:"original_amount_minor"`
	PlatformFeeMinor    int64                  `json:"platform_fee_minor"`
	Reason              string                 `json:"reason,omitempty"`
}

// Orchestrator drives the payment intent lifecycle across providers.
type Orchestrator struct {
	intents   payment_out.PaymentIntentRepository
	registry  *ProviderRegistry
	tenants   common.TenantDirectory
	publisher common.EventPublisher
	now       func() time.Time
}

// NewOrchestrator wires the payment orchestrator.
func NewOrchestrator(intents payment_out.PaymentIntentRepository, registry *ProviderRegistry, tenants common.TenantDirectory, publisher common.EventPublisher) *Orchestrator {
	return &Orchestrator{
		intents:   intents,
		registry:  registry,
		tenants:   tenants,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) validateCreate(req CreatePaymentRequest) error {
	if req.Amount.AmountMinor <= 0 {
		return common.E(common.KindValidation, "non_positive_amount", "payment amount must be positive")
	}

	if len(req.StatementDescriptor) > payment_entities.MaxStatementDescriptor {
		return common.Ef(common.KindValidation, "descriptor_too_long",
			"statement descriptor exceeds %d characters", payment_entities.MaxStatementDescriptor)
	}

	if req.IdempotencyKey == "" {
		return common.E(common.KindValidation, "missing_idempotency_key", "idempotency key is required")
	}

	if _, err := shared_vo.ParseCurrency(string(req.Amount.Currency)); err != nil {
		return err
	}

	return nil
}

// CreatePayment creates (or returns, under the idempotency key) a payment
// intent, and when a payment method is supplied immediately hands it to the
// routed provider. The platform fee is fixed at creation time.
func (o *Orchestrator) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentResult, error) {
	if err := o.validateCreate(req); err != nil {
		return nil, err
	}

	if existing, err := o.intents.GetByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey); err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	} else if existing != nil {
		slog.InfoContext(ctx, "payment create deduplicated by idempotency key",
			"tenant_id", req.TenantID,
			"payment_intent_id", existing.ID,
			"idempotency_key", req.IdempotencyKey,
		)

		return &PaymentResult{Intent: existing}, nil
	}

	tenant, err := o.tenants.Get(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant %s: %w", req.TenantID, err)
	}

	fee := req.Amount.Percent(tenant.PlatformFeePercent)

	net, err := req.Amount.Sub(fee)
	if err != nil {
		return nil, err
	}

	now := o.now()
	intent := &payment_entities.PaymentIntent{
		ID:                  common.NewPaymentIntentID(),
		TenantID:            req.TenantID,
		CustomerID:          req.CustomerID,
		LeaseID:             req.LeaseID,
		Type:                req.Type,
		Status:              payment_entities.StatusPending,
		Amount:              req.Amount,
		PlatformFee:         fee,
		NetAmount:           net,
		Description:         req.Description,
		StatementDescriptor: req.StatementDescriptor,
		IdempotencyKey:      req.IdempotencyKey,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	// The intent is durable before any provider sees it, so a crashed
	// provider call can be retried under the same key.
	if err := o.intents.Create(ctx, intent); err != nil {
		return nil, fmt.Errorf("persist payment intent: %w", err)
	}

	if err := o.publisher.Publish(ctx, common.NewEvent(common.EventPaymentCreated, "payment_intent", intent.ID.String(), intent.TenantID, intent)); err != nil {
		slog.WarnContext(ctx, "failed to publish payment.created", "payment_intent_id", intent.ID, "error", err)
	}

	if req.PaymentMethod == "" {
		return &PaymentResult{Intent: intent}, nil
	}

	return o.processWithProvider(ctx, intent, req.CustomerRef, req.PaymentMethod)
}

// ProcessPayment sends a pending intent to its routed provider.
func (o *Orchestrator) ProcessPayment(ctx context.Context, tenantID common.TenantID, id common.PaymentIntentID, customerRef, paymentMethod string) (*PaymentResult, error) {
	intent, err := o.getIntent(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if intent.Status != payment_entities.StatusPending {
		return nil, common.Ef(common.KindState, "illegal_transition",
			"payment %s is %s, only pending intents can be processed", intent.ID, intent.Status)
	}

	return o.processWithProvider(ctx, intent, customerRef, paymentMethod)
}

func (o *Orchestrator) processWithProvider(ctx context.Context, intent *payment_entities.PaymentIntent, customerRef, paymentMethod string) (*PaymentResult, error) {
	provider, err := o.registry.ForCurrency(intent.Amount.Currency)
	if err != nil {
		return nil, err
	}

	result, err := provider.CreatePaymentIntent(ctx, payment_out.CreatePaymentIntentParams{
		Amount:              intent.Amount,
		CustomerRef:         customerRef,
		PaymentMethod:       paymentMethod,
		Description:         intent.Description,
		StatementDescriptor: intent.StatementDescriptor,
		Metadata: map[string]string{
			"payment_intent_id": intent.ID.String(),
			"tenant_id":         intent.TenantID.String(),
		},
		IdempotencyKey:   intent.IdempotencyKey,
		PlatformFeeMinor: intent.PlatformFee.AmountMinor,
	})
	if err != nil {
		if markErr := intent.MarkProcessing(provider.Name(), ""); markErr == nil {
			_ = intent.MarkFailed(err.Error())
			if saveErr := o.intents.Update(ctx, intent); saveErr != nil {
				slog.ErrorContext(ctx, "failed to persist provider failure", "payment_intent_id", intent.ID, "error", saveErr)
			}
		}

		return nil, common.Wrap(common.KindProvider, "provider_error", "provider rejected payment", err)
	}

	if err := intent.MarkProcessing(provider.Name(), result.ExternalID); err != nil {
		return nil, err
	}

	out := &PaymentResult{Intent: intent, ClientSecret: result.ClientSecret, NextActionURL: result.NextActionURL}

	switch result.Status {
	case payment_out.ProviderStatusRequiresAction:
		if err := intent.MarkRequiresAction(); err != nil {
			return nil, err
		}
		if err := o.intents.Update(ctx, intent); err != nil {
			return nil, fmt.Errorf("persist intent: %w", err)
		}
	case payment_out.ProviderStatusSucceeded:
		if err := o.settle(ctx, intent, result.ReceiptURL); err != nil {
			return nil, err
		}
	case payment_out.ProviderStatusFailed:
		if err := intent.MarkFailed(result.FailureReason); err != nil {
			return nil, err
		}
		if err := o.intents.Update(ctx, intent); err != nil {
			return nil, fmt.Errorf("persist intent: %w", err)
		}
		o.publishStatus(ctx, intent, common.EventPaymentFailed)
	default:
		if err := o.intents.Update(ctx, intent); err != nil {
			return nil, fmt.Errorf("persist intent: %w", err)
		}
	}

	return out, nil
}

// settle moves an intent to succeeded, persists it and emits
// payment.succeeded exactly once per settlement.
func (o *Orchestrator) settle(ctx context.Context, intent *payment_entities.PaymentIntent, receiptURL string) error {
	if intent.Status == payment_entities.StatusSucceeded {
		return nil
	}

	if err := intent.MarkSucceeded(receiptURL, o.now()); err != nil {
		return err
	}

	if err := o.intents.Update(ctx, intent); err != nil {
		return fmt.Errorf("persist intent: %w", err)
	}

	event := common.NewEvent(common.EventPaymentSucceeded, "payment_intent", intent.ID.String(), intent.TenantID,
		SucceededPayload{
			PaymentIntentID: intent.ID,
			CustomerID:      intent.CustomerID,
			LeaseID:         intent.LeaseID,
			Type:            intent.Type,
			Amount:          intent.Amount,
			PlatformFee:     intent.PlatformFee,
			NetAmount:       intent.NetAmount,
			PaidAt:          *intent.PaidAt,
			ReceiptURL:      intent.ReceiptURL,
		})

	if err := o.publisher.Publish(ctx, event); err != nil {
		slog.ErrorContext(ctx, "failed to publish payment.succeeded", "payment_intent_id", intent.ID, "error", err)
	}

	slog.InfoContext(ctx, "payment succeeded",
		"tenant_id", intent.TenantID,
		"payment_intent_id", intent.ID,
		"amount_minor", intent.Amount.AmountMinor,
		"currency", intent.Amount.Currency,
	)

	return nil
}

func (o *Orchestrator) publishStatus(ctx context.Context, intent *payment_entities.PaymentIntent, eventType string) {
	if err := o.publisher.Publish(ctx, common.NewEvent(eventType, "payment_intent", intent.ID.String(), intent.TenantID, intent)); err != nil {
		slog.WarnContext(ctx, "failed to publish payment event", "type", eventType, "payment_intent_id", intent.ID, "error", err)
	}
}

// Refund refunds amount (nil = full remaining balance) through the intent's
// provider. The ledger effect is posted by event subscribers, not here.
func (o *Orchestrator) Refund(ctx context.Context, tenantID common.TenantID, id common.PaymentIntentID, amount *shared_vo.Money, reason string) (*RefundResult, error) {
	intent, err := o.getIntent(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if intent.Status != payment_entities.StatusSucceeded && intent.Status != payment_entities.StatusPartiallyRefunded {
		return nil, common.Ef(common.KindState, "illegal_transition", "payment %s is %s and cannot be refunded", intent.ID, intent.Status)
	}

	refund := shared_vo.NewMoney(intent.RefundableMinor(), intent.Amount.Currency)
	if amount != nil {
		refund = *amount
	}

	if refund.Currency != intent.Amount.Currency {
		return nil, common.E(common.KindValidation, "currency_mismatch", "refund currency must match the payment currency")
	}

	if refund.AmountMinor <= 0 {
		return nil, common.E(common.KindValidation, "non_positive_amount", "refund amount must be positive")
	}

	if refund.AmountMinor > intent.RefundableMinor() {
		return nil, common.Ef(common.KindState, "over_refund",
			"refund of %d exceeds refundable %d", refund.AmountMinor, intent.RefundableMinor())
	}

	provider, err := o.registry.ByName(intent.ProviderName)
	if err != nil {
		return nil, err
	}

	refundRef, err := provider.RefundPayment(ctx, intent.ExternalID, refund, reason)
	if err != nil {
		return nil, common.Wrap(common.KindProvider, "provider_error", "provider refused refund", err)
	}

	if err := intent.ApplyRefund(refund.AmountMinor); err != nil {
		return nil, err
	}

	if err := o.intents.Update(ctx, intent); err != nil {
		return nil, fmt.Errorf("persist intent: %w", err)
	}

	event := common.NewEvent(common.EventPaymentRefunded, "payment_intent", intent.ID.String(), intent.TenantID,
		RefundedPayload{
			PaymentIntentID:     intent.ID,
			CustomerID:          intent.CustomerID,
			LeaseID:             intent.LeaseID,
			AmountMinor:         refund.AmountMinor,
			Currency:            refund.Currency,
			TotalRefunded:       intent.RefundedMinor,
			OriginalAmountMinor: intent.Amount.AmountMinor,
			PlatformFeeMinor:    intent.PlatformFee.AmountMinor,
			Reason:              reason,
		})

	if err := o.publisher.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "failed to publish payment.refunded", "payment_intent_id", intent.ID, "error", err)
	}

	return &RefundResult{Intent: intent, RefundRef: refundRef, RefundedMinor: refund.AmountMinor}, nil
}

// HandleWebhook applies an authoritative provider status to the matching
// intent. Unknown external ids are logged and acked so providers stop
// retrying; replays of terminal states are no-ops.
func (o *Orchestrator) HandleWebhook(ctx context.Context, event payment_out.WebhookEvent) error {
	intent, err := o.intents.GetByExternalID(ctx, event.Provider, event.ExternalID)
	if err != nil {
		return fmt.Errorf("webhook lookup: %w", err)
	}

	if intent == nil {
		slog.WarnContext(ctx, "webhook for unknown payment, acking",
			"provider", event.Provider,
			"external_id", event.ExternalID,
			"status", event.Status,
		)

		return nil
	}

	before := intent.Status

	switch event.Status {
	case payment_out.ProviderStatusSucceeded:
		if err := o.settle(ctx, intent, event.ReceiptURL); err != nil {
			return err
		}

		return nil
	case payment_out.ProviderStatusFailed:
		if err := intent.MarkFailed(event.FailureReason); err != nil {
			return err
		}
	case payment_out.ProviderStatusCancelled:
		if err := intent.MarkCancelled(event.FailureReason); err != nil {
			return err
		}
	case payment_out.ProviderStatusRequiresAction:
		if intent.Status == payment_entities.StatusProcessing {
			if err := intent.MarkRequiresAction(); err != nil {
				return err
			}
		}
	default:
		return nil
	}

	if intent.Status == before {
		return nil
	}

	if err := o.intents.Update(ctx, intent); err != nil {
		return fmt.Errorf("persist intent: %w", err)
	}

	switch intent.Status {
	case payment_entities.StatusFailed:
		o.publishStatus(ctx, intent, common.EventPaymentFailed)
	case payment_entities.StatusCancelled:
		o.publishStatus(ctx, intent, common.EventPaymentCancelled)
	}

	return nil
}

// Cancel explicitly cancels a not-yet-settled intent, cancelling the
// provider side first when one is attached.
func (o *Orchestrator) Cancel(ctx context.Context, tenantID common.TenantID, id common.PaymentIntentID, reason string) error {
	intent, err := o.getIntent(ctx, tenantID, id)
	if err != nil {
		return err
	}

	if intent.ExternalID != "" {
		provider, err := o.registry.ByName(intent.ProviderName)
		if err != nil {
			return err
		}

		if err := provider.CancelPaymentIntent(ctx, intent.ExternalID); err != nil {
			return common.Wrap(common.KindProvider, "provider_error", "provider refused cancellation", err)
		}
	}

	if err := intent.MarkCancelled(reason); err != nil {
		return err
	}

	if err := o.intents.Update(ctx, intent); err != nil {
		return fmt.Errorf("persist intent: %w", err)
	}

	o.publishStatus(ctx, intent, common.EventPaymentCancelled)

	return nil
}

// GetIntent fetches one intent scoped to a tenant.
func (o *Orchestrator) GetIntent(ctx context.Context, tenantID common.TenantID, id common.PaymentIntentID) (*payment_entities.PaymentIntent, error) {
	return o.getIntent(ctx, tenantID, id)
}

func (o *Orchestrator) getIntent(ctx context.Context, tenantID common.TenantID, id common.PaymentIntentID) (*payment_entities.PaymentIntent, error) {
	intent, err := o.intents.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if intent == nil {
		return nil, common.Ef(common.KindNotFound, "payment_not_found", "payment intent %s not found", id)
	}

	return intent, nil
}
