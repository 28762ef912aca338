package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	payment_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/entities"
	payment_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/services"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

type createPaymentBody struct {
	CustomerID          string `json:"customer_id"`
	CustomerRef         string `json:"customer_ref,omitempty"`
	LeaseID             string `json:"lease_id,omitempty"`
	Type                string `json:"type"`
	AmountMinor         int64  `json:"amount_minor"`
	Currency            string `json:"currency"`
	Description         string `json:"description,omitempty"`
	StatementDescriptor string `json:"statement_descriptor,omitempty"`
	IdempotencyKey      string `json:"idempotency_key"`
	PaymentMethod       string `json:"payment_method,omitempty"`
}

func (api *API) createPayment(w http.ResponseWriter, r *http.Request) {
	var body createPaymentBody

	if !decodeBody(w, r, &body) {
		return
	}

	req := payment_services.CreatePaymentRequest{
		TenantID:            tenantFrom(r),
		CustomerID:          common.CustomerID(body.CustomerID),
		CustomerRef:         body.CustomerRef,
		Type:                payment_entities.PaymentType(body.Type),
		Amount:              shared_vo.NewMoney(body.AmountMinor, shared_vo.Currency(body.Currency)),
		Description:         body.Description,
		StatementDescriptor: body.StatementDescriptor,
		IdempotencyKey:      body.IdempotencyKey,
		PaymentMethod:       body.PaymentMethod,
	}

	if body.LeaseID != "" {
		leaseID := common.LeaseID(body.LeaseID)
		req.LeaseID = &leaseID
	}

	result, err := api.Payments.CreatePayment(r.Context(), req)
	if err != nil {
		writeError(w, r, err)

		return
	}

	api.Metrics.PaymentsCreated.
		WithLabelValues(string(req.TenantID), result.Intent.ProviderName).
		Inc()

	writeJSON(w, http.StatusCreated, paymentResponse(result))
}

func paymentResponse(result *payment_services.PaymentResult) map[string]any {
	out := map[string]any{"payment": result.Intent}

	if result.ClientSecret != "" {
		out["client_secret"] = result.ClientSecret
	}

	if result.NextActionURL != "" {
		out["next_action_url"] = result.NextActionURL
	}

	return out
}

func paymentID(r *http.Request) (common.PaymentIntentID, error) {
	return common.ParsePaymentIntentID(mux.Vars(r)["id"])
}

func (api *API) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := paymentID(r)
	if err != nil {
		writeError(w, r, err)

		return
	}

	intent, err := api.Payments.GetIntent(r.Context(), tenantFrom(r), id)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"payment": intent})
}

func (api *API) processPayment(w http.ResponseWriter, r *http.Request) {
	id, err := paymentID(r)
	if err != nil {
		writeError(w, r, err)

		return
	}

	var body struct {
		CustomerRef   string `json:"customer_ref,omitempty"`
		PaymentMethod string `json:"payment_method,omitempty"`
	}

	if !decodeBody(w, r, &body) {
		return
	}

	result, err := api.Payments.ProcessPayment(r.Context(), tenantFrom(r), id, body.CustomerRef, body.PaymentMethod)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, paymentResponse(result))
}

func (api *API) cancelPayment(w http.ResponseWriter, r *http.Request) {
	id, err := paymentID(r)
	if err != nil {
		writeError(w, r, err)

		return
	}

	var body struct {
		Reason string `json:"reason,omitempty"`
	}

	if !decodeBody(w, r, &body) {
		return
	}

	if err := api.Payments.Cancel(r.Context(), tenantFrom(r), id, body.Reason); err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (api *API) refundPayment(w http.ResponseWriter, r *http.Request) {
	id, err := paymentID(r)
	if err != nil {
		writeError(w, r, err)

		return
	}

	var body struct {
		AmountMinor *int64 `json:"amount_minor,omitempty"`
		Currency    string `json:"currency,omitempty"`
		Reason      string `json:"reason,omitempty"`
	}

	if !decodeBody(w, r, &body) {
		return
	}

	var amount *shared_vo.Money

	if body.AmountMinor != nil {
		m := shared_vo.NewMoney(*body.AmountMinor, shared_vo.Currency(body.Currency))
		amount = &m
	}

	result, err := api.Payments.Refund(r.Context(), tenantFrom(r), id, amount, body.Reason)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"payment":        result.Intent,
		"refund_ref":     result.RefundRef,
		"refunded_minor": result.RefundedMinor,
	})
}
