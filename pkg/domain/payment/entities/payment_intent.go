package payment_entities

import (
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// PaymentStatus is the intent lifecycle state.
type PaymentStatus string

const (
	StatusPending           PaymentStatus = "pending"
	StatusProcessing        PaymentStatus = "processing"
	StatusRequiresAction    PaymentStatus = "requires_action"
	StatusSucceeded         PaymentStatus = "succeeded"
	StatusFailed            PaymentStatus = "failed"
	StatusCancelled         PaymentStatus = "cancelled"
	StatusPartiallyRefunded PaymentStatus = "partially_refunded"
	StatusRefunded          PaymentStatus = "refunded"
)

// PaymentType categorises what the payment is for.
type PaymentType string

const (
	PaymentTypeRent    PaymentType = "rent"
	PaymentTypeDeposit PaymentType = "deposit"
	PaymentTypeFee     PaymentType = "fee"
	PaymentTypeOther   PaymentType = "other"
)

// MaxStatementDescriptor is the card-network limit on descriptor length.
const MaxStatementDescriptor = 22

// PaymentIntent is the aggregate tracking one payment across providers.
// State mutations happen only through the transition methods below, which
// enforce the state machine and terminality.
type PaymentIntent struct {
	ID                  common.PaymentIntentID `json:"id" bson:"_id"`
	TenantID            common.TenantID        `json:"tenant_id" bson:"tenant_id"`
	CustomerID          common.CustomerID      `json:"customer_id" bson:"customer_id"`
	LeaseID             *common.LeaseID        `json:"lease_id,omitempty" bson:"lease_id,omitempty"`
	Type                PaymentType            `json:"type" bson:"type"`
	Status              PaymentStatus          `json:"status" bson:"status"`
	Amount              shared_vo.Money        `json:"amount" bson:"amount"`
	PlatformFee         shared_vo.Money        `json:"platform_fee" bson:"platform_fee"`
	NetAmount           shared_vo.Money        `json:"net_amount" bson:"net_amount"`
	Description         string                 `json:"description" bson:"description"`
	StatementDescriptor string                 `json:"statement_descriptor" bson:"statement_descriptor"`
	IdempotencyKey      string                 `json:"idempotency_key" bson:"idempotency_key"`
	ExternalID          string                 `json:"external_id,omitempty" bson:"external_id,omitempty"`
	ProviderName        string                 `json:"provider_name,omitempty" bson:"provider_name,omitempty"`
	RefundedMinor       int64                  `json:"refunded_minor" bson:"refunded_minor"`
	FailureReason       string                 `json:"failure_reason,omitempty" bson:"failure_reason,omitempty"`
	ReceiptURL          string                 `json:"receipt_url,omitempty" bson:"receipt_url,omitempty"`
	CreatedAt           time.Time              `json:"created_at" bson:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at" bson:"updated_at"`
	PaidAt              *time.Time             `json:"paid_at,omitempty" bson:"paid_at,omitempty"`
}

// IsTerminal reports whether no further transitions are allowed. succeeded
// is terminal for everything except the refund path.
func (p *PaymentIntent) IsTerminal() bool {
	switch p.Status {
	case StatusFailed, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// RefundableMinor is the amount still refundable in minor units.
func (p *PaymentIntent) RefundableMinor() int64 {
	return p.Amount.AmountMinor - p.RefundedMinor
}

func (p *PaymentIntent) illegal(target PaymentStatus) error {
	return common.Ef(common.KindState, "illegal_transition",
		"payment %s cannot move from %s to %s", p.ID, p.Status, target)
}

func (p *PaymentIntent) touch() { p.UpdatedAt = time.Now().UTC() }

// MarkProcessing moves pending → processing after a provider accepts the
// intent.
func (p *PaymentIntent) MarkProcessing(provider, externalID string) error {
	if p.Status != StatusPending {
		return p.illegal(StatusProcessing)
	}

	p.Status = StatusProcessing
	p.ProviderName = provider
	p.ExternalID = externalID
	p.touch()

	return nil
}

// MarkRequiresAction parks the intent on a user step (3DS, STK prompt).
func (p *PaymentIntent) MarkRequiresAction() error {
	if p.Status != StatusProcessing {
		return p.illegal(StatusRequiresAction)
	}

	p.Status = StatusRequiresAction
	p.touch()

	return nil
}

// MarkSucceeded records provider success. Replaying success on an already
// succeeded intent is a no-op so webhook redelivery stays idempotent.
func (p *PaymentIntent) MarkSucceeded(receiptURL string, paidAt time.Time) error {
	if p.Status == StatusSucceeded {
		return nil
	}

	if p.Status != StatusProcessing && p.Status != StatusRequiresAction {
		return p.illegal(StatusSucceeded)
	}

	p.Status = StatusSucceeded
	p.ReceiptURL = receiptURL
	paid := paidAt.UTC()
	p.PaidAt = &paid
	p.touch()

	return nil
}

// MarkFailed records provider failure; idempotent on replay.
func (p *PaymentIntent) MarkFailed(reason string) error {
	if p.Status == StatusFailed {
		return nil
	}

	if p.Status != StatusProcessing && p.Status != StatusRequiresAction {
		return p.illegal(StatusFailed)
	}

	p.Status = StatusFailed
	p.FailureReason = reason
	p.touch()

	return nil
}

// MarkCancelled cancels a not-yet-settled intent; idempotent on replay.
func (p *PaymentIntent) MarkCancelled(reason string) error {
	if p.Status == StatusCancelled {
		return nil
	}

	switch p.Status {
	case StatusPending, StatusProcessing, StatusRequiresAction:
	default:
		return p.illegal(StatusCancelled)
	}

	p.Status = StatusCancelled
	p.FailureReason = reason
	p.touch()

	return nil
}

// ApplyRefund records a provider-confirmed refund of amountMinor and moves
// the intent to partially_refunded or refunded.
func (p *PaymentIntent) ApplyRefund(amountMinor int64) error {
	if p.Status != StatusSucceeded && p.Status != StatusPartiallyRefunded {
		return p.illegal(StatusRefunded)
	}

	if amountMinor <= 0 {
		return common.E(common.KindValidation, "non_positive_amount", "refund amount must be positive")
	}

	if amountMinor > p.RefundableMinor() {
		return common.Ef(common.KindState, "over_refund",
			"refund of %d exceeds refundable %d", amountMinor, p.RefundableMinor())
	}

	p.RefundedMinor += amountMinor

	if p.RefundedMinor == p.Amount.AmountMinor {
		p.Status = StatusRefunded
	} else {
		p.Status = StatusPartiallyRefunded
	}

	p.touch()

	return nil
}
