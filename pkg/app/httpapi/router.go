package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	disbursement_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/disbursement/services"
	ledger_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/services"
	payment_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/services"
	reconciliation_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/reconciliation/services"
	statement_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/statement/services"
	mpesa_provider "github.com/nyumbani-pay/nyumbani-pay/pkg/infra/providers/mpesa"
	stripe_provider "github.com/nyumbani-pay/nyumbani-pay/pkg/infra/providers/stripe"
	"github.com/nyumbani-pay/nyumbani-pay/pkg/infra/metrics"
)

// API bundles the services the HTTP surface exposes.
type API struct {
	Payments      *payment_services.Orchestrator
	Ledger        *ledger_services.LedgerService
	Disbursements *disbursement_services.Service
	Statements    *statement_services.Builder
	Reconciler    *reconciliation_services.Reconciler
	Stripe        *stripe_provider.Provider
	Mpesa         *mpesa_provider.Provider
	Metrics       *metrics.Registry
}

type contextKey string

const tenantKey contextKey = "tenant"

// tenantFrom reads the tenant the middleware stored on the context.
func tenantFrom(r *http.Request) common.TenantID {
	tenant, _ := r.Context().Value(tenantKey).(common.TenantID)

	return tenant
}

// requireTenant rejects API calls without an X-Tenant-ID header. Webhook
// routes resolve the tenant from the payment record instead.
func requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get("X-Tenant-ID")
		if tenant == "" {
			writeError(w, r, common.E(common.KindValidation, "missing_tenant", "X-Tenant-ID header is required"))

			return
		}

		ctx := context.WithValue(r.Context(), tenantKey, common.TenantID(tenant))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// NewRouter wires every route. Webhook endpoints skip the tenant middleware
// because providers do not send tenant headers.
func NewRouter(api *API) *mux.Router {
	root := mux.NewRouter()

	root.Handle("/metrics", api.Metrics.Handler()).Methods(http.MethodGet)
	root.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	webhooks := root.PathPrefix("/webhooks").Subrouter()
	webhooks.Handle("/stripe",
		api.Metrics.Middleware("webhooks_stripe", http.HandlerFunc(api.handleStripeWebhook))).Methods(http.MethodPost)
	webhooks.Handle("/mpesa/stk",
		api.Metrics.Middleware("webhooks_mpesa_stk", http.HandlerFunc(api.handleMpesaSTKCallback))).Methods(http.MethodPost)
	webhooks.Handle("/mpesa/b2c",
		api.Metrics.Middleware("webhooks_mpesa_b2c", http.HandlerFunc(api.handleMpesaB2CCallback))).Methods(http.MethodPost)
	webhooks.Handle("/mpesa/timeout",
		api.Metrics.Middleware("webhooks_mpesa_timeout", http.HandlerFunc(api.handleMpesaTimeout))).Methods(http.MethodPost)

	v1 := root.PathPrefix("/v1").Subrouter()
	v1.Use(requireTenant)
	v1.Use(func(next http.Handler) http.Handler {
		return api.Metrics.Middleware("api_v1", next)
	})

	v1.HandleFunc("/payments", api.createPayment).Methods(http.MethodPost)
	v1.HandleFunc("/payments/{id}", api.getPayment).Methods(http.MethodGet)
	v1.HandleFunc("/payments/{id}/process", api.processPayment).Methods(http.MethodPost)
	v1.HandleFunc("/payments/{id}/cancel", api.cancelPayment).Methods(http.MethodPost)
	v1.HandleFunc("/payments/{id}/refunds", api.refundPayment).Methods(http.MethodPost)

	v1.HandleFunc("/accounts/{id}/balance", api.getBalance).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}/entries", api.listEntries).Methods(http.MethodGet)

	v1.HandleFunc("/disbursements", api.createDisbursement).Methods(http.MethodPost)
	v1.HandleFunc("/owners/{owner_id}/balance", api.getOwnerBalance).Methods(http.MethodGet)
	v1.HandleFunc("/owners/{owner_id}/breakdown", api.getOwnerBreakdown).Methods(http.MethodGet)

	v1.HandleFunc("/statements", api.generateStatement).Methods(http.MethodPost)
	v1.HandleFunc("/statements/{id}", api.getStatement).Methods(http.MethodGet)
	v1.HandleFunc("/statements/{id}/deliver", api.deliverStatement).Methods(http.MethodPost)
	v1.HandleFunc("/statements/{id}/viewed", api.markStatementViewed).Methods(http.MethodPost)
	v1.HandleFunc("/statements/{id}/export", api.exportStatement).Methods(http.MethodGet)

	v1.HandleFunc("/reconciliation/verify", api.verifyLedger).Methods(http.MethodPost)
	v1.HandleFunc("/reconciliation/sync-providers", api.syncProviders).Methods(http.MethodPost)
	v1.HandleFunc("/reconciliation/bank", api.reconcileBank).Methods(http.MethodPost)

	return root
}
