package mpesa_provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	payment_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/ports/out"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

const ProviderName = "mpesa"

// Config holds the Daraja API credentials. BaseURL points at either the
// sandbox or the production gateway.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	// InitiatorName and SecurityCredential authorise B2C payouts.
	InitiatorName      string
	SecurityCredential string
	CallbackBaseURL    string
	// CallbackSecret signs callback URLs so inbound results can be verified.
	CallbackSecret string
	HTTPClient     *http.Client
}

// Provider is the Safaricom Daraja implementation of the payment provider
// port. Collections run over STK push, payouts over B2C. Card-style stored
// payment methods and connected accounts are not part of the rails.
type Provider struct {
	config Config
	client *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	now func() time.Time
}

var _ payment_out.PaymentProvider = (*Provider)(nil)

func New(config Config) *Provider {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Provider{
		config: config,
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) SupportedCurrencies() []shared_vo.Currency {
	return []shared_vo.Currency{shared_vo.KES}
}

// token fetches and caches the OAuth access token; Daraja tokens live for
// one hour.
func (p *Provider) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && p.now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.config.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	req.SetBasicAuth(p.config.ConsumerKey, p.config.ConsumerSecret)

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}

	if err := p.do(req, &body); err != nil {
		return "", fmt.Errorf("fetch daraja token: %w", err)
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(body.ExpiresIn); err == nil && secs > 60 {
		ttl = time.Duration(secs-60) * time.Second
	}

	p.accessToken = body.AccessToken
	p.tokenExpiry = p.now().Add(ttl)

	return p.accessToken, nil
}

func (p *Provider) post(ctx context.Context, path string, payload, out any) error {
	token, err := p.token(ctx)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode daraja request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build daraja request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	return p.do(req, out)
}

func (p *Provider) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return common.Wrap(common.KindProvider, "provider_unreachable", "daraja request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return common.Wrap(common.KindProvider, "provider_error", "read daraja response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return common.Ef(common.KindProvider, "provider_error",
			"daraja returned %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return common.Wrap(common.KindProvider, "provider_error", "decode daraja response", err)
	}

	return nil
}

// password is the Lipa na M-Pesa password: base64(shortcode + passkey +
// timestamp) with the timestamp in yyyyMMddHHmmss.
func (p *Provider) password(at time.Time) (string, string) {
	timestamp := at.Format("20060102150405")
	raw := p.config.ShortCode + p.config.Passkey + timestamp

	return base64.StdEncoding.EncodeToString([]byte(raw)), timestamp
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
}

func (p *Provider) CreateCustomer(context.Context, string, string, map[string]string) (string, error) {
	return "", common.E(common.KindUnsupported, "unsupported_capability", "mpesa does not store customers")
}

// CreatePaymentIntent issues an STK push to the payer's phone. The customer
// ref is the MSISDN; the result is always pending-action since the payer has
// to approve the prompt on the handset.
func (p *Provider) CreatePaymentIntent(ctx context.Context, in payment_out.CreatePaymentIntentParams) (*payment_out.PaymentIntentResult, error) {
	if in.Amount.Currency != shared_vo.KES {
		return nil, common.Ef(common.KindUnsupported, "unsupported_currency",
			"mpesa settles KES only, got %s", in.Amount.Currency)
	}

	if in.CustomerRef == "" {
		return nil, common.E(common.KindValidation, "missing_msisdn", "mpesa payments need the payer's phone number")
	}

	password, timestamp := p.password(p.now())

	// Daraja amounts are whole shillings.
	request := stkPushRequest{
		BusinessShortCode: p.config.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            strconv.FormatInt(in.Amount.AmountMinor/100, 10),
		PartyA:            in.CustomerRef,
		PartyB:            p.config.ShortCode,
		PhoneNumber:       in.CustomerRef,
		CallBackURL:       p.config.CallbackBaseURL + "/webhooks/mpesa/stk",
		AccountReference:  in.StatementDescriptor,
		TransactionDesc:   in.Description,
	}

	if request.AccountReference == "" {
		request.AccountReference = in.Metadata["payment_intent_id"]
	}

	var response stkPushResponse

	if err := p.post(ctx, "/mpesa/stkpush/v1/processrequest", request, &response); err != nil {
		return nil, err
	}

	if response.ResponseCode != "0" {
		return &payment_out.PaymentIntentResult{
			ExternalID:    response.CheckoutRequestID,
			Status:        payment_out.ProviderStatusFailed,
			FailureReason: response.ResponseDescription,
		}, nil
	}

	return &payment_out.PaymentIntentResult{
		ExternalID: response.CheckoutRequestID,
		Status:     payment_out.ProviderStatusRequiresAction,
	}, nil
}

func (p *Provider) ConfirmPaymentIntent(context.Context, string, string) (*payment_out.PaymentIntentResult, error) {
	return nil, common.E(common.KindUnsupported, "unsupported_capability",
		"mpesa payments are confirmed on the payer's handset")
}

func (p *Provider) CancelPaymentIntent(context.Context, string) error {
	// A pushed STK prompt cannot be withdrawn; it expires on the handset.
	return nil
}

type stkQueryResponse struct {
	ResponseCode      string `json:"ResponseCode"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

func (p *Provider) GetPaymentIntentStatus(ctx context.Context, externalID string) (*payment_out.PaymentIntentResult, error) {
	password, timestamp := p.password(p.now())

	request := map[string]string{
		"BusinessShortCode": p.config.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": externalID,
	}

	var response stkQueryResponse

	if err := p.post(ctx, "/mpesa/stkpushquery/v1/query", request, &response); err != nil {
		return nil, err
	}

	return &payment_out.PaymentIntentResult{
		ExternalID:    externalID,
		Status:        mapResultCode(response.ResultCode),
		FailureReason: failureReason(response.ResultCode, response.ResultDesc),
	}, nil
}

func (p *Provider) RefundPayment(ctx context.Context, externalID string, amount shared_vo.Money, reason string) (string, error) {
	// Reversal API; the receipt number is the transaction id to reverse.
	request := map[string]string{
		"Initiator":              p.config.InitiatorName,
		"SecurityCredential":     p.config.SecurityCredential,
		"CommandID":              "TransactionReversal",
		"TransactionID":          externalID,
		"Amount":                 strconv.FormatInt(amount.AmountMinor/100, 10),
		"ReceiverParty":          p.config.ShortCode,
		"RecieverIdentifierType": "11",
		"Remarks":                reason,
		"ResultURL":              p.config.CallbackBaseURL + "/webhooks/mpesa/reversal",
		"QueueTimeOutURL":        p.config.CallbackBaseURL + "/webhooks/mpesa/timeout",
	}

	var response struct {
		ConversationID      string `json:"ConversationID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
	}

	if err := p.post(ctx, "/mpesa/reversal/v1/request", request, &response); err != nil {
		return "", err
	}

	if response.ResponseCode != "0" {
		return "", common.Ef(common.KindProvider, "provider_error",
			"mpesa reversal rejected: %s", response.ResponseDescription)
	}

	return response.ConversationID, nil
}

type b2cResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// CreateTransfer runs a B2C payout to the destination MSISDN. B2C is
// asynchronous: the accepted request comes back in_transit and the result
// callback settles it.
func (p *Provider) CreateTransfer(ctx context.Context, in payment_out.TransferParams) (*payment_out.TransferResult, error) {
	if in.Amount.Currency != shared_vo.KES {
		return nil, common.Ef(common.KindUnsupported, "unsupported_currency",
			"mpesa settles KES only, got %s", in.Amount.Currency)
	}

	request := map[string]string{
		"InitiatorName":      p.config.InitiatorName,
		"SecurityCredential": p.config.SecurityCredential,
		"CommandID":          "BusinessPayment",
		"Amount":             strconv.FormatInt(in.Amount.AmountMinor/100, 10),
		"PartyA":             p.config.ShortCode,
		"PartyB":             in.Destination,
		"Remarks":            in.Description,
		"ResultURL":          p.config.CallbackBaseURL + "/webhooks/mpesa/b2c",
		"QueueTimeOutURL":    p.config.CallbackBaseURL + "/webhooks/mpesa/timeout",
		"Occasion":           in.Metadata["disbursement_id"],
	}

	var response b2cResponse

	if err := p.post(ctx, "/mpesa/b2c/v1/paymentrequest", request, &response); err != nil {
		return nil, err
	}

	if response.ResponseCode != "0" {
		return &payment_out.TransferResult{
			TransferID:    response.ConversationID,
			Status:        payment_out.TransferStatusFailed,
			FailureReason: response.ResponseDescription,
		}, nil
	}

	return &payment_out.TransferResult{
		TransferID: response.ConversationID,
		Status:     payment_out.TransferStatusInTransit,
	}, nil
}

func (p *Provider) GetTransferStatus(ctx context.Context, transferID string) (*payment_out.TransferResult, error) {
	request := map[string]string{
		"Initiator":          p.config.InitiatorName,
		"SecurityCredential": p.config.SecurityCredential,
		"CommandID":          "TransactionStatusQuery",
		"TransactionID":      transferID,
		"PartyA":             p.config.ShortCode,
		"IdentifierType":     "4",
		"ResultURL":          p.config.CallbackBaseURL + "/webhooks/mpesa/status",
		"QueueTimeOutURL":    p.config.CallbackBaseURL + "/webhooks/mpesa/timeout",
	}

	var response b2cResponse

	if err := p.post(ctx, "/mpesa/transactionstatus/v1/query", request, &response); err != nil {
		return nil, err
	}

	if response.ResponseCode != "0" {
		return &payment_out.TransferResult{
			TransferID:    transferID,
			Status:        payment_out.TransferStatusFailed,
			FailureReason: response.ResponseDescription,
		}, nil
	}

	return &payment_out.TransferResult{TransferID: transferID, Status: payment_out.TransferStatusInTransit}, nil
}

func (p *Provider) ListPaymentMethods(context.Context, string) ([]payment_out.PaymentMethod, error) {
	return nil, common.E(common.KindUnsupported, "unsupported_capability", "mpesa has no stored payment methods")
}

func (p *Provider) AttachPaymentMethod(context.Context, string, string) error {
	return common.E(common.KindUnsupported, "unsupported_capability", "mpesa has no stored payment methods")
}

func (p *Provider) DetachPaymentMethod(context.Context, string) error {
	return common.E(common.KindUnsupported, "unsupported_capability", "mpesa has no stored payment methods")
}

func (p *Provider) CreateConnectedAccount(context.Context, string, string) (string, error) {
	return "", common.E(common.KindUnsupported, "unsupported_capability", "mpesa has no connected accounts")
}

func (p *Provider) CreateAccountLink(context.Context, string, string, string) (string, error) {
	return "", common.E(common.KindUnsupported, "unsupported_capability", "mpesa has no connected accounts")
}

// VerifyWebhookSignature checks the HMAC the callback ingress computes over
// the payload with the shared callback secret. Daraja itself does not sign
// callbacks, so the callback URL carries the secret and the ingress derives
// the signature before handing the payload over.
func (p *Provider) VerifyWebhookSignature(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(p.config.CallbackSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return common.E(common.KindValidation, "invalid_webhook_signature", "mpesa callback signature rejected")
	}

	return nil
}

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseWebhookEvent normalises an STK push result callback. Result code 0
// is payer approval, 1032 is payer cancellation, anything else is a failure
// with the Daraja description as the reason.
func (p *Provider) ParseWebhookEvent(payload []byte) (*payment_out.WebhookEvent, error) {
	var envelope stkCallbackEnvelope

	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, common.Wrap(common.KindValidation, "malformed_webhook", "cannot decode stk callback", err)
	}

	callback := envelope.Body.StkCallback
	if callback.CheckoutRequestID == "" {
		return &payment_out.WebhookEvent{Provider: ProviderName}, nil
	}

	out := &payment_out.WebhookEvent{
		Provider:   ProviderName,
		ExternalID: callback.CheckoutRequestID,
		Status:     mapResultCode(strconv.Itoa(callback.ResultCode)),
	}

	if out.Status == payment_out.ProviderStatusSucceeded {
		for _, item := range callback.CallbackMetadata.Item {
			if item.Name == "MpesaReceiptNumber" {
				if receipt, ok := item.Value.(string); ok {
					out.ReceiptURL = receipt
				}
			}
		}
	} else if out.Status == payment_out.ProviderStatusFailed {
		out.FailureReason = callback.ResultDesc
	}

	return out, nil
}

type b2cResultEnvelope struct {
	Result struct {
		ResultCode     int    `json:"ResultCode"`
		ResultDesc     string `json:"ResultDesc"`
		ConversationID string `json:"ConversationID"`
		TransactionID  string `json:"TransactionID"`
	} `json:"Result"`
}

// B2CResult is a normalised B2C payout result callback.
type B2CResult struct {
	TransferID    string
	Status        payment_out.ProviderTransferStatus
	FailureReason string
}

// ParseB2CResult normalises a B2C result callback. The ConversationID is the
// transfer id handed out when the payout was accepted.
func ParseB2CResult(payload []byte) (*B2CResult, error) {
	var envelope b2cResultEnvelope

	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, common.Wrap(common.KindValidation, "malformed_webhook", "cannot decode b2c callback", err)
	}

	result := envelope.Result
	if result.ConversationID == "" {
		return nil, common.E(common.KindValidation, "malformed_webhook", "b2c callback missing conversation id")
	}

	out := &B2CResult{TransferID: result.ConversationID}

	if result.ResultCode == 0 {
		out.Status = payment_out.TransferStatusPaid
	} else {
		out.Status = payment_out.TransferStatusFailed
		out.FailureReason = result.ResultDesc
	}

	return out, nil
}

func mapResultCode(code string) payment_out.ProviderPaymentStatus {
	switch code {
	case "0":
		return payment_out.ProviderStatusSucceeded
	case "1032":
		return payment_out.ProviderStatusCancelled
	case "":
		return payment_out.ProviderStatusPending
	default:
		return payment_out.ProviderStatusFailed
	}
}

func failureReason(code, desc string) string {
	if mapResultCode(code) == payment_out.ProviderStatusFailed {
		return desc
	}

	return ""
}
