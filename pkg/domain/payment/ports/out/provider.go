package payment_out

import (
	"context"
	"time"

	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// ProviderPaymentStatus is the provider-side view of a payment, normalised.
type ProviderPaymentStatus string

const (
	ProviderStatusPending        ProviderPaymentStatus = "pending"
	ProviderStatusRequiresAction ProviderPaymentStatus = "requires_action"
	ProviderStatusSucceeded      ProviderPaymentStatus = "succeeded"
	ProviderStatusFailed         ProviderPaymentStatus = "failed"
	ProviderStatusCancelled      ProviderPaymentStatus = "cancelled"
)

// ProviderTransferStatus is the normalised payout transfer state.
type ProviderTransferStatus string

const (
	TransferStatusProcessing ProviderTransferStatus = "processing"
	TransferStatusInTransit  ProviderTransferStatus = "in_transit"
	TransferStatusPaid       ProviderTransferStatus = "paid"
	TransferStatusFailed     ProviderTransferStatus = "failed"
)

// CreatePaymentIntentParams is the provider-agnostic payment creation input.
type CreatePaymentIntentParams struct {
	Amount              shared_vo.Money
	CustomerRef         string
	PaymentMethod       string
	Description         string
	StatementDescriptor string
	Metadata            map[string]string
	IdempotencyKey      string
	PlatformFeeMinor    int64
	Destination         string
}

// PaymentIntentResult is what the provider reports back on create/confirm.
type PaymentIntentResult struct {
	ExternalID     string
	Status         ProviderPaymentStatus
	ClientSecret   string
	NextActionURL  string
	ReceiptURL     string
	FailureReason  string
}

// TransferParams requests a payout to an external destination.
type TransferParams struct {
	Amount         shared_vo.Money
	Destination    string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// TransferResult is the provider acknowledgement of a transfer.
type TransferResult struct {
	TransferID       string
	Status           ProviderTransferStatus
	EstimatedArrival *time.Time
	FailureReason    string
}

// PaymentMethod is a stored payment instrument summary.
type PaymentMethod struct {
	ID      string
	Kind    string
	Display string
}

// WebhookEvent is a provider webhook normalised to the core's vocabulary.
type WebhookEvent struct {
	Provider      string
	ExternalID    string
	Status        ProviderPaymentStatus
	ReceiptURL    string
	FailureReason string
}

// PaymentProvider is the adapter interface each payment provider implements.
// A provider missing a capability surfaces an unsupported-kind error rather
// than silently no-oping.
type PaymentProvider interface {
	Name() string
	SupportedCurrencies() []shared_vo.Currency

	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (customerRef string, err error)
	CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntentResult, error)
	ConfirmPaymentIntent(ctx context.Context, externalID, paymentMethod string) (*PaymentIntentResult, error)
	CancelPaymentIntent(ctx context.Context, externalID string) error
	GetPaymentIntentStatus(ctx context.Context, externalID string) (*PaymentIntentResult, error)
	RefundPayment(ctx context.Context, externalID string, amount shared_vo.Money, reason string) (refundRef string, err error)

	CreateTransfer(ctx context.Context, params TransferParams) (*TransferResult, error)
	GetTransferStatus(ctx context.Context, transferID string) (*TransferResult, error)

	ListPaymentMethods(ctx context.Context, customerRef string) ([]PaymentMethod, error)
	AttachPaymentMethod(ctx context.Context, customerRef, methodID string) error
	DetachPaymentMethod(ctx context.Context, methodID string) error

	CreateConnectedAccount(ctx context.Context, email, country string) (accountRef string, err error)
	CreateAccountLink(ctx context.Context, accountRef, refreshURL, returnURL string) (url string, err error)

	VerifyWebhookSignature(payload []byte, signature string) error
	ParseWebhookEvent(payload []byte) (*WebhookEvent, error)
}
