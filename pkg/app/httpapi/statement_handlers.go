package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	statement_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/statement/entities"
	statement_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/statement/services"
)

type generateStatementBody struct {
	AccountID   string `json:"account_id"`
	Type        string `json:"type"`
	OwnerID     string `json:"owner_id,omitempty"`
	CustomerID  string `json:"customer_id,omitempty"`
	PropertyID  string `json:"property_id,omitempty"`
	PeriodType  string `json:"period_type"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

func (api *API) generateStatement(w http.ResponseWriter, r *http.Request) {
	var body generateStatementBody

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

	req := statement_services.GenerateRequest{
		TenantID:    tenantFrom(r),
		AccountID:   accountID,
		Type:        statement_entities.StatementType(body.Type),
		PeriodType:  statement_entities.PeriodType(body.PeriodType),
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}

	if body.OwnerID != "" {
		ownerID := common.OwnerID(body.OwnerID)
		req.OwnerID = &ownerID
	}

	if body.CustomerID != "" {
		customerID := common.CustomerID(body.CustomerID)
		req.CustomerID = &customerID
	}

	if body.PropertyID != "" {
		propertyID := common.PropertyID(body.PropertyID)
		req.PropertyID = &propertyID
	}

	statement, err := api.Statements.Generate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"statement": statement})
}

func statementID(r *http.Request) common.StatementID {
	return common.StatementID(mux.Vars(r)["id"])
}

func (api *API) getStatement(w http.ResponseWriter, r *http.Request) {
	statement, err := api.Statements.Get(r.Context(), tenantFrom(r), statementID(r))
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"statement": statement})
}

func (api *API) deliverStatement(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Destination string `json:"destination"`
	}

	if !decodeBody(w, r, &body) {
		return
	}

	statement, err := api.Statements.Deliver(r.Context(), tenantFrom(r), statementID(r), body.Destination)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"statement": statement})
}

func (api *API) markStatementViewed(w http.ResponseWriter, r *http.Request) {
	statement, err := api.Statements.MarkViewed(r.Context(), tenantFrom(r), statementID(r))
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"statement": statement})
}

func (api *API) exportStatement(w http.ResponseWriter, r *http.Request) {
	statement, err := api.Statements.Get(r.Context(), tenantFrom(r), statementID(r))
	if err != nil {
		writeError(w, r, err)

		return
	}

	format := statement_services.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = statement_services.FormatJSON
	}

	export, err := statement_services.ExportStatement(statement, format)
	if err != nil {
		writeError(w, r, err)

		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Content)
}
