package stripe_provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	payment_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/ports/out"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

const ProviderName = "stripe"

// Config holds the Stripe credentials and routing defaults.
type Config struct {
	SecretKey     string
	WebhookSecret string
	// Currencies this deployment routes through Stripe.
	Currencies []shared_vo.Currency
}

// Provider is the Stripe implementation of the payment provider port. Card
// rails, connected-account payouts, and stored payment methods all go
// through here.
type Provider struct {
	api           *client.API
	webhookSecret string
	currencies    []shared_vo.Currency
}

var _ payment_out.PaymentProvider = (*Provider)(nil)

func New(config Config) *Provider {
	api := &client.API{}
	api.Init(config.SecretKey, nil)

	currencies := config.Currencies
	if len(currencies) == 0 {
		currencies = []shared_vo.Currency{shared_vo.USD, shared_vo.EUR, shared_vo.GBP}
	}

	return &Provider{
		api:           api,
		webhookSecret: config.WebhookSecret,
		currencies:    currencies,
	}
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) SupportedCurrencies() []shared_vo.Currency {
	out := make([]shared_vo.Currency, len(p.currencies))
	copy(out, p.currencies)

	return out
}

func (p *Provider) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx

	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	customer, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}

	return customer.ID, nil
}

func (p *Provider) CreatePaymentIntent(ctx context.Context, in payment_out.CreatePaymentIntentParams) (*payment_out.PaymentIntentResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.Amount.AmountMinor),
		Currency: stripe.String(stripeCurrency(in.Amount.Currency)),
	}
	params.Context = ctx
	params.AddExpand("latest_charge")

	if in.CustomerRef != "" {
		params.Customer = stripe.String(in.CustomerRef)
	}

	if in.PaymentMethod != "" {
		params.PaymentMethod = stripe.String(in.PaymentMethod)
		params.Confirm = stripe.Bool(true)
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		}
	}

	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}

	if in.StatementDescriptor != "" {
		params.StatementDescriptorSuffix = stripe.String(in.StatementDescriptor)
	}

	if in.PlatformFeeMinor > 0 && in.Destination != "" {
		params.ApplicationFeeAmount = stripe.Int64(in.PlatformFeeMinor)
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(in.Destination),
		}
	}

	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}

	return intentResult(pi), nil
}

func (p *Provider) ConfirmPaymentIntent(ctx context.Context, externalID, paymentMethod string) (*payment_out.PaymentIntentResult, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	if paymentMethod != "" {
		params.PaymentMethod = stripe.String(paymentMethod)
	}

	pi, err := p.api.PaymentIntents.Confirm(externalID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe confirm payment intent %s: %w", externalID, err)
	}

	return intentResult(pi), nil
}

func (p *Provider) CancelPaymentIntent(ctx context.Context, externalID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	if _, err := p.api.PaymentIntents.Cancel(externalID, params); err != nil {
		return fmt.Errorf("stripe cancel payment intent %s: %w", externalID, err)
	}

	return nil
}

func (p *Provider) GetPaymentIntentStatus(ctx context.Context, externalID string) (*payment_out.PaymentIntentResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := p.api.PaymentIntents.Get(externalID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe get payment intent %s: %w", externalID, err)
	}

	return intentResult(pi), nil
}

func (p *Provider) RefundPayment(ctx context.Context, externalID string, amount shared_vo.Money, reason string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(externalID),
		Amount:        stripe.Int64(amount.AmountMinor),
	}
	params.Context = ctx

	if reason != "" {
		params.Reason = stripe.String(reason)
	}

	refund, err := p.api.Refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe refund %s: %w", externalID, err)
	}

	return refund.ID, nil
}

func (p *Provider) CreateTransfer(ctx context.Context, in payment_out.TransferParams) (*payment_out.TransferResult, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(in.Amount.AmountMinor),
		Currency:    stripe.String(stripeCurrency(in.Amount.Currency)),
		Destination: stripe.String(in.Destination),
	}
	params.Context = ctx

	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}

	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	transfer, err := p.api.Transfers.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create transfer: %w", err)
	}

	// Stripe transfers to connected accounts settle synchronously; arrival
	// at the external bank is the connected account's payout schedule.
	return &payment_out.TransferResult{
		TransferID: transfer.ID,
		Status:     payment_out.TransferStatusPaid,
	}, nil
}

func (p *Provider) GetTransferStatus(ctx context.Context, transferID string) (*payment_out.TransferResult, error) {
	params := &stripe.TransferParams{}
	params.Context = ctx

	transfer, err := p.api.Transfers.Get(transferID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe get transfer %s: %w", transferID, err)
	}

	status := payment_out.TransferStatusPaid
	if transfer.AmountReversed >= transfer.Amount && transfer.Amount > 0 {
		status = payment_out.TransferStatusFailed
	}

	return &payment_out.TransferResult{TransferID: transfer.ID, Status: status}, nil
}

func (p *Provider) ListPaymentMethods(ctx context.Context, customerRef string) ([]payment_out.PaymentMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerRef),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Context = ctx

	var out []payment_out.PaymentMethod

	iter := p.api.PaymentMethods.List(params)
	for iter.Next() {
		pm := iter.PaymentMethod()
		out = append(out, payment_out.PaymentMethod{
			ID:      pm.ID,
			Kind:    string(pm.Type),
			Display: cardDisplay(pm),
		})
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe list payment methods: %w", err)
	}

	return out, nil
}

func (p *Provider) AttachPaymentMethod(ctx context.Context, customerRef, methodID string) error {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerRef)}
	params.Context = ctx

	if _, err := p.api.PaymentMethods.Attach(methodID, params); err != nil {
		return fmt.Errorf("stripe attach payment method %s: %w", methodID, err)
	}

	return nil
}

func (p *Provider) DetachPaymentMethod(ctx context.Context, methodID string) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx

	if _, err := p.api.PaymentMethods.Detach(methodID, params); err != nil {
		return fmt.Errorf("stripe detach payment method %s: %w", methodID, err)
	}

	return nil
}

func (p *Provider) CreateConnectedAccount(ctx context.Context, email, country string) (string, error) {
	params := &stripe.AccountParams{
		Type:    stripe.String(string(stripe.AccountTypeExpress)),
		Email:   stripe.String(email),
		Country: stripe.String(country),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{
				Requested: stripe.Bool(true),
			},
		},
	}
	params.Context = ctx

	account, err := p.api.Accounts.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create connected account: %w", err)
	}

	return account.ID, nil
}

func (p *Provider) CreateAccountLink(ctx context.Context, accountRef, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountRef),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := p.api.AccountLinks.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create account link: %w", err)
	}

	return link.URL, nil
}

func (p *Provider) VerifyWebhookSignature(payload []byte, signature string) error {
	if _, err := webhook.ConstructEvent(payload, signature, p.webhookSecret); err != nil {
		return common.Wrap(common.KindValidation, "invalid_webhook_signature", "webhook signature rejected", err)
	}

	return nil
}

// ParseWebhookEvent normalises a Stripe event to the core's webhook
// vocabulary. Event types outside the payment intent lifecycle come back
// with an empty external id and are acked upstream.
func (p *Provider) ParseWebhookEvent(payload []byte) (*payment_out.WebhookEvent, error) {
	var event stripe.Event

	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, common.Wrap(common.KindValidation, "malformed_webhook", "cannot decode webhook payload", err)
	}

	var status payment_out.ProviderPaymentStatus

	switch event.Type {
	case "payment_intent.succeeded":
		status = payment_out.ProviderStatusSucceeded
	case "payment_intent.payment_failed":
		status = payment_out.ProviderStatusFailed
	case "payment_intent.canceled":
		status = payment_out.ProviderStatusCancelled
	case "payment_intent.requires_action":
		status = payment_out.ProviderStatusRequiresAction
	default:
		return &payment_out.WebhookEvent{Provider: ProviderName}, nil
	}

	var pi stripe.PaymentIntent

	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, common.Wrap(common.KindValidation, "malformed_webhook", "cannot decode webhook payload", err)
	}

	out := &payment_out.WebhookEvent{
		Provider:   ProviderName,
		ExternalID: pi.ID,
		Status:     status,
	}

	if pi.LatestCharge != nil {
		out.ReceiptURL = pi.LatestCharge.ReceiptURL
	}

	if pi.LastPaymentError != nil {
		out.FailureReason = pi.LastPaymentError.Msg
	}

	return out, nil
}

func stripeCurrency(c shared_vo.Currency) string {
	switch c {
	case shared_vo.KES:
		return string(stripe.CurrencyKES)
	case shared_vo.USD:
		return string(stripe.CurrencyUSD)
	case shared_vo.EUR:
		return string(stripe.CurrencyEUR)
	case shared_vo.GBP:
		return string(stripe.CurrencyGBP)
	case shared_vo.TZS:
		return string(stripe.CurrencyTZS)
	case shared_vo.UGX:
		return string(stripe.CurrencyUGX)
	default:
		return string(c)
	}
}

func cardDisplay(pm *stripe.PaymentMethod) string {
	if pm.Card == nil {
		return string(pm.Type)
	}

	return fmt.Sprintf("%s •••• %s", pm.Card.Brand, pm.Card.Last4)
}

func intentResult(pi *stripe.PaymentIntent) *payment_out.PaymentIntentResult {
	result := &payment_out.PaymentIntentResult{
		ExternalID:   pi.ID,
		Status:       mapIntentStatus(pi.Status),
		ClientSecret: pi.ClientSecret,
	}

	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		result.NextActionURL = pi.NextAction.RedirectToURL.URL
	}

	if pi.LatestCharge != nil {
		result.ReceiptURL = pi.LatestCharge.ReceiptURL

		if pi.LatestCharge.FailureMessage != "" {
			result.FailureReason = pi.LatestCharge.FailureMessage
		}
	}

	if pi.LastPaymentError != nil && result.FailureReason == "" {
		result.FailureReason = pi.LastPaymentError.Msg
	}

	return result
}

func mapIntentStatus(status stripe.PaymentIntentStatus) payment_out.ProviderPaymentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return payment_out.ProviderStatusSucceeded
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		return payment_out.ProviderStatusRequiresAction
	case stripe.PaymentIntentStatusCanceled:
		return payment_out.ProviderStatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return payment_out.ProviderStatusFailed
	default:
		return payment_out.ProviderStatusPending
	}
}
