package httpapi

import (
	"net/http"
	"time"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	reconciliation_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/reconciliation/entities"
	reconciliation_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/reconciliation/services"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

func (api *API) verifyLedger(w http.ResponseWriter, r *http.Request) {
	checks, err := api.Reconciler.VerifyLedger(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, r, err)

		return
	}

	healthy := true

	for _, check := range checks {
		if !check.Healthy() {
			healthy = false

			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"healthy": healthy, "accounts": checks})
}

func (api *API) syncProviders(w http.ResponseWriter, r *http.Request) {
	synced, err := api.Reconciler.SyncProviderStatus(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"synced": synced})
}

type bankTransactionBody struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Direction   string `json:"direction"`
	Reference   string `json:"reference,omitempty"`
	Description string `json:"description,omitempty"`
}

type reconcileBankBody struct {
	AccountID    string                `json:"account_id"`
	PeriodStart  string                `json:"period_start"`
	PeriodEnd    string                `json:"period_end"`
	OpeningMinor int64                 `json:"opening_minor"`
	Currency     string                `json:"currency"`
	Transactions []bankTransactionBody `json:"transactions"`
}

func (api *API) reconcileBank(w http.ResponseWriter, r *http.Request) {
	var body reconcileBankBody

	if !decodeBody(w, r, &body) {
		return
	}

	accountID, err := common.ParseAccountID(body.AccountID)
	if err != nil {
		writeError(w, r, err)

		return
	}

	periodStart, err := time.Parse(time.RFC3339, body.PeriodStart)
	if err != nil {
		writeError(w, r, common.E(common.KindValidation, "invalid_period", "period_start must be RFC 3339"))

		return
	}

	periodEnd, err := time.Parse(time.RFC3339, body.PeriodEnd)
	if err != nil {
		writeError(w, r, common.E(common.KindValidation, "invalid_period", "period_end must be RFC 3339"))

		return
	}

	currency, err := shared_vo.ParseCurrency(body.Currency)
	if err != nil {
		writeError(w, r, err)

		return
	}

	req := reconciliation_services.BankReconcileRequest{
		TenantID:       tenantFrom(r),
		AccountID:      accountID,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		OpeningBalance: shared_vo.NewMoney(body.OpeningMinor, currency),
	}

	for _, txn := range body.Transactions {
		date, err := time.Parse(time.RFC3339, txn.Date)
		if err != nil {
			writeError(w, r, common.Ef(common.KindValidation, "invalid_transaction_date",
				"transaction %s date must be RFC 3339", txn.ID))

			return
		}

		req.Transactions = append(req.Transactions, reconciliation_entities.BankTransaction{
			ID:          txn.ID,
			Date:        date,
			Amount:      shared_vo.NewMoney(txn.AmountMinor, shared_vo.Currency(txn.Currency)),
			Direction:   reconciliation_entities.BankDirection(txn.Direction),
			Reference:   txn.Reference,
			Description: txn.Description,
		})
	}

	record, err := api.Reconciler.ReconcileBank(r.Context(), req)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"reconciliation": record})
}
