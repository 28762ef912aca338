package httpapi

import (
	"io"
	"net/http"

	payment_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/ports/out"
	mpesa_provider "github.com/nyumbani-pay/nyumbani-pay/pkg/infra/providers/mpesa"
)

func readPayload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)

		return nil, false
	}

	return payload, true
}

// handleStripeWebhook verifies the signature, normalises the event and hands
// it to the orchestrator. Unknown intents are acked so Stripe stops
// redelivering.
func (api *API) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, ok := readPayload(w, r)
	if !ok {
		return
	}

	signature := r.Header.Get("Stripe-Signature")

	if err := api.Stripe.VerifyWebhookSignature(payload, signature); err != nil {
		api.Metrics.WebhooksReceived.WithLabelValues("stripe", "rejected").Inc()
		writeError(w, r, err)

		return
	}

	event, err := api.Stripe.ParseWebhookEvent(payload)
	if err != nil {
		api.Metrics.WebhooksReceived.WithLabelValues("stripe", "malformed").Inc()
		writeError(w, r, err)

		return
	}

	if event.ExternalID == "" {
		// Event type outside the payment lifecycle.
		api.Metrics.WebhooksReceived.WithLabelValues("stripe", "ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})

		return
	}

	if err := api.Payments.HandleWebhook(r.Context(), *event); err != nil {
		api.Metrics.WebhooksReceived.WithLabelValues("stripe", "error").Inc()
		writeError(w, r, err)

		return
	}

	api.Metrics.WebhooksReceived.WithLabelValues("stripe", "processed").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// handleMpesaSTKCallback processes STK push results. The ingress HMAC in
// X-Callback-Signature protects the endpoint; Daraja itself does not sign.
func (api *API) handleMpesaSTKCallback(w http.ResponseWriter, r *http.Request) {
	payload, ok := readPayload(w, r)
	if !ok {
		return
	}

	if err := api.Mpesa.VerifyWebhookSignature(payload, r.Header.Get("X-Callback-Signature")); err != nil {
		api.Metrics.WebhooksReceived.WithLabelValues("mpesa", "rejected").Inc()
		writeError(w, r, err)

		return
	}

	event, err := api.Mpesa.ParseWebhookEvent(payload)
	if err != nil {
		api.Metrics.WebhooksReceived.WithLabelValues("mpesa", "malformed").Inc()
		writeError(w, r, err)

		return
	}

	if event.ExternalID == "" {
		api.Metrics.WebhooksReceived.WithLabelValues("mpesa", "ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"ResultCode": "0"})

		return
	}

	if err := api.Payments.HandleWebhook(r.Context(), *event); err != nil {
		api.Metrics.WebhooksReceived.WithLabelValues("mpesa", "error").Inc()
		writeError(w, r, err)

		return
	}

	api.Metrics.WebhooksReceived.WithLabelValues("mpesa", "processed").Inc()
	// Daraja expects this acknowledgement shape.
	writeJSON(w, http.StatusOK, map[string]string{"ResultCode": "0", "ResultDesc": "Accepted"})
}

// handleMpesaB2CCallback settles payout transfers from B2C result
// callbacks.
func (api *API) handleMpesaB2CCallback(w http.ResponseWriter, r *http.Request) {
	payload, ok := readPayload(w, r)
	if !ok {
		return
	}

	if err := api.Mpesa.VerifyWebhookSignature(payload, r.Header.Get("X-Callback-Signature")); err != nil {
		api.Metrics.WebhooksReceived.WithLabelValues("mpesa_b2c", "rejected").Inc()
		writeError(w, r, err)

		return
	}

	result, err := mpesa_provider.ParseB2CResult(payload)
	if err != nil {
		api.Metrics.WebhooksReceived.WithLabelValues("mpesa_b2c", "malformed").Inc()
		writeError(w, r, err)

		return
	}

	err = api.Disbursements.HandleTransferResult(r.Context(),
		mpesa_provider.ProviderName, result.TransferID, result.Status, result.FailureReason, false)
	if err != nil {
		api.Metrics.WebhooksReceived.WithLabelValues("mpesa_b2c", "error").Inc()
		writeError(w, r, err)

		return
	}

	api.Metrics.WebhooksReceived.WithLabelValues("mpesa_b2c", "processed").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"ResultCode": "0", "ResultDesc": "Accepted"})
}

// handleMpesaTimeout receives queue-timeout callbacks. The transfer outcome
// is unknown, so the disbursement is flagged for reconciliation instead of
// being settled either way.
func (api *API) handleMpesaTimeout(w http.ResponseWriter, r *http.Request) {
	payload, ok := readPayload(w, r)
	if !ok {
		return
	}

	if err := api.Mpesa.VerifyWebhookSignature(payload, r.Header.Get("X-Callback-Signature")); err != nil {
		api.Metrics.WebhooksReceived.WithLabelValues("mpesa_timeout", "rejected").Inc()
		writeError(w, r, err)

		return
	}

	result, err := mpesa_provider.ParseB2CResult(payload)
	if err != nil {
		api.Metrics.WebhooksReceived.WithLabelValues("mpesa_timeout", "malformed").Inc()
		writeError(w, r, err)

		return
	}

	err = api.Disbursements.HandleTransferResult(r.Context(),
		mpesa_provider.ProviderName, result.TransferID, payment_out.TransferStatusProcessing, "", true)
	if err != nil {
		api.Metrics.WebhooksReceived.WithLabelValues("mpesa_timeout", "error").Inc()
		writeError(w, r, err)

		return
	}

	api.Metrics.WebhooksReceived.WithLabelValues("mpesa_timeout", "processed").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"ResultCode": "0", "ResultDesc": "Accepted"})
}
