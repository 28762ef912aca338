package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	ledger_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/ports/out"
)

func accountID(r *http.Request) (common.AccountID, error) {
	return common.ParseAccountID(mux.Vars(r)["id"])
}

func (api *API) getBalance(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, r, err)

		return
	}

	balance, err := api.Ledger.Balance(r.Context(), tenantFrom(r), id)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "balance": balance})
}

func (api *API) listEntries(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, r, err)

		return
	}

	page := ledger_out.Page{Limit: 100}

	if v := r.URL.Query().Get("limit"); v != "" {
		if page.Limit, err = strconv.Atoi(v); err != nil {
			writeError(w, r, common.E(common.KindValidation, "invalid_limit", "limit must be an integer"))

			return
		}
	}

	if v := r.URL.Query().Get("offset"); v != "" {
		if page.Offset, err = strconv.Atoi(v); err != nil {
			writeError(w, r, common.E(common.KindValidation, "invalid_offset", "offset must be an integer"))

			return
		}
	}

	entries, err := api.Ledger.Entries(r.Context(), tenantFrom(r), id, page)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries.Entries,
		"total":   entries.Total,
	})
}
