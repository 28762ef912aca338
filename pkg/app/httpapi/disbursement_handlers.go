package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	disbursement_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/disbursement/entities"
	disbursement_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/disbursement/services"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

type createDisbursementBody struct {
	OwnerID         string `json:"owner_id"`
	AmountMinor     *int64 `json:"amount_minor,omitempty"`
	Currency        string `json:"currency,omitempty"`
	Destination     string `json:"destination"`
	DestinationType string `json:"destination_type"`
	IdempotencyKey  string `json:"idempotency_key"`
}

func (api *API) createDisbursement(w http.ResponseWriter, r *http.Request) {
	var body createDisbursementBody

	if !decodeBody(w, r, &body) {
		return
	}

	req := disbursement_services.ProcessRequest{
		TenantID:        tenantFrom(r),
		OwnerID:         common.OwnerID(body.OwnerID),
		Destination:     body.Destination,
		DestinationType: disbursement_entities.DestinationType(body.DestinationType),
		IdempotencyKey:  body.IdempotencyKey,
	}

	if body.AmountMinor != nil {
		amount := shared_vo.NewMoney(*body.AmountMinor, shared_vo.Currency(body.Currency))
		req.Amount = &amount
	}

	record, err := api.Disbursements.Process(r.Context(), req)
	if err != nil {
		writeError(w, r, err)

		return
	}

	api.Metrics.DisbursementsRun.
		WithLabelValues(string(req.TenantID), string(record.Status)).
		Inc()

	writeJSON(w, http.StatusCreated, map[string]any{"disbursement": record})
}

func (api *API) getOwnerBalance(w http.ResponseWriter, r *http.Request) {
	ownerID := common.OwnerID(mux.Vars(r)["owner_id"])

	preview, err := api.Disbursements.Preview(r.Context(), tenantFrom(r), ownerID, nil)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, preview)
}

func (api *API) getOwnerBreakdown(w http.ResponseWriter, r *http.Request) {
	ownerID := common.OwnerID(mux.Vars(r)["owner_id"])

	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, r, common.E(common.KindValidation, "invalid_period", "from must be RFC 3339"))

		return
	}

	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, r, common.E(common.KindValidation, "invalid_period", "to must be RFC 3339"))

		return
	}

	breakdown, err := api.Disbursements.Breakdown(r.Context(), tenantFrom(r), ownerID, from, to)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, breakdown)
}
