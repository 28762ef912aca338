package app

import (
	"fmt"
	"net/http"

	"github.com/golobby/container/v3"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/nyumbani-pay/nyumbani-pay/pkg/app/httpapi"
	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	disbursement_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/disbursement/ports/out"
	disbursement_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/disbursement/services"
	event_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/ports/out"
	event_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/events/services"
	ledger_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/ports/out"
	ledger_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/ledger/services"
	payment_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/ports/out"
	payment_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/services"
	reconciliation_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/reconciliation/services"
	statement_out "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/statement/ports/out"
	statement_services "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/statement/services"
	event_sinks "github.com/nyumbani-pay/nyumbani-pay/pkg/infra/events"
	"github.com/nyumbani-pay/nyumbani-pay/pkg/infra/metrics"
	"github.com/nyumbani-pay/nyumbani-pay/pkg/infra/mongodb"
	mpesa_provider "github.com/nyumbani-pay/nyumbani-pay/pkg/infra/providers/mpesa"
	stripe_provider "github.com/nyumbani-pay/nyumbani-pay/pkg/infra/providers/stripe"
)

// Application is the fully wired process: the HTTP surface plus the
// background workers main runs alongside it.
type Application struct {
	Handler   http.Handler
	Processor *event_services.Processor
	Payouts   *PayoutLoop
	Metrics   *metrics.Registry
}

// Build wires the whole service graph. Every binding is a singleton; the
// container exists so integration tests can swap adapters without
// re-declaring the graph.
func Build(cfg *Config, db *mongo.Database) (*Application, error) {
	c := container.New()

	bindings := []any{
		func() *Config { return cfg },
		func() *mongo.Database { return db },
		func() *metrics.Registry { return metrics.NewRegistry() },

		// Persistence adapters.
		func(db *mongo.Database) *mongodb.AccountRepository { return mongodb.NewAccountRepository(db) },
		func(r *mongodb.AccountRepository) ledger_out.AccountRepository { return r },
		func(db *mongo.Database, accounts *mongodb.AccountRepository) ledger_out.LedgerRepository {
			return mongodb.NewLedgerRepository(db, accounts)
		},
		func(db *mongo.Database) payment_out.PaymentIntentRepository {
			return mongodb.NewPaymentIntentRepository(db)
		},
		func(db *mongo.Database) disbursement_out.DisbursementRepository {
			return mongodb.NewDisbursementRepository(db)
		},
		func(db *mongo.Database) statement_out.StatementRepository {
			return mongodb.NewStatementRepository(db)
		},
		func(db *mongo.Database) event_out.OutboxStore { return mongodb.NewOutboxStore(db) },
		func(db *mongo.Database) common.TenantDirectory { return mongodb.NewTenantDirectory(db) },

		// Domain events: every service publishes through the outbox.
		func(store event_out.OutboxStore) common.EventPublisher {
			return event_services.NewOutboxPublisher(store)
		},

		// Payment providers.
		func(cfg *Config) *stripe_provider.Provider {
			return stripe_provider.New(stripe_provider.Config{
				SecretKey:     cfg.StripeSecretKey,
				WebhookSecret: cfg.StripeWebhookSecret,
				Currencies:    cfg.StripeCurrencies,
			})
		},
		func(cfg *Config) *mpesa_provider.Provider {
			return mpesa_provider.New(mpesa_provider.Config{
				BaseURL:            cfg.MpesaBaseURL,
				ConsumerKey:        cfg.MpesaConsumerKey,
				ConsumerSecret:     cfg.MpesaConsumerSecret,
				ShortCode:          cfg.MpesaShortCode,
				Passkey:            cfg.MpesaPasskey,
				InitiatorName:      cfg.MpesaInitiatorName,
				SecurityCredential: cfg.MpesaSecurityCredential,
				CallbackBaseURL:    cfg.MpesaCallbackBaseURL,
				CallbackSecret:     cfg.MpesaCallbackSecret,
			})
		},
		func(stripe *stripe_provider.Provider, mpesa *mpesa_provider.Provider) *payment_services.ProviderRegistry {
			return payment_services.NewProviderRegistry(stripe, mpesa)
		},

		// Ledger.
		func(accounts ledger_out.AccountRepository, entries ledger_out.LedgerRepository, publisher common.EventPublisher) *ledger_services.LedgerService {
			return ledger_services.NewLedgerService(accounts, entries, publisher)
		},
		func(accounts ledger_out.AccountRepository) *ledger_services.ChartService {
			return ledger_services.NewChartService(accounts)
		},
		func(ledger *ledger_services.LedgerService, chart *ledger_services.ChartService) *ledger_services.PaymentProjector {
			// No lease directory is wired yet; settlements without a
			// resolvable owner land on the tenant-level holding account.
			return ledger_services.NewPaymentProjector(ledger, chart, nil)
		},

		// Payments.
		func(intents payment_out.PaymentIntentRepository, registry *payment_services.ProviderRegistry, tenants common.TenantDirectory, publisher common.EventPublisher) *payment_services.Orchestrator {
			return payment_services.NewOrchestrator(intents, registry, tenants, publisher)
		},

		// Reconciliation.
		func() *reconciliation_services.BankMatcher {
			return reconciliation_services.NewBankMatcher(reconciliation_services.DefaultMatcherConfig())
		},
		func(registry *payment_services.ProviderRegistry) reconciliation_services.ProviderResolver {
			return registry
		},
		func(orchestrator *payment_services.Orchestrator) reconciliation_services.StatusApplier {
			return orchestrator
		},
		func(
			ledger *ledger_services.LedgerService,
			intents payment_out.PaymentIntentRepository,
			providers reconciliation_services.ProviderResolver,
			applier reconciliation_services.StatusApplier,
			matcher *reconciliation_services.BankMatcher,
			publisher common.EventPublisher,
		) *reconciliation_services.Reconciler {
			return reconciliation_services.NewReconciler(ledger, intents, providers, applier, matcher, publisher)
		},

		// Disbursements.
		func(registry *payment_services.ProviderRegistry) disbursement_services.TransferRouter {
			return registry
		},
		func(
			disbursements disbursement_out.DisbursementRepository,
			accounts ledger_out.AccountRepository,
			ledger *ledger_services.LedgerService,
			router disbursement_services.TransferRouter,
			tenants common.TenantDirectory,
			publisher common.EventPublisher,
		) *disbursement_services.Service {
			return disbursement_services.NewService(disbursements, accounts, ledger, router, tenants, publisher)
		},
		func(cfg *Config, service *disbursement_services.Service) *disbursement_services.Scheduler {
			return disbursement_services.NewScheduler(service, disbursement_services.SchedulerConfig{
				BatchSize:          cfg.SchedulerBatchSize,
				DelayBetween:       cfg.SchedulerDelayBetween,
				MinimumPayoutMinor: cfg.MinimumPayoutMinor,
			})
		},

		// Statements.
		func(statements statement_out.StatementRepository, ledger *ledger_services.LedgerService, publisher common.EventPublisher) *statement_services.Builder {
			return statement_services.NewBuilder(statements, ledger, publisher)
		},

		// Outbox drain: broker sink fanned out with the in-process ledger
		// projector, instrumented for metrics.
		func(cfg *Config, registry *metrics.Registry, projector *ledger_services.PaymentProjector) (event_out.EventSink, error) {
			broker, err := brokerSink(cfg)
			if err != nil {
				return nil, err
			}

			fanout := event_sinks.NewFanoutSink(
				event_sinks.HandlerFunc(projector.HandleEnvelope),
				broker,
			)

			return event_sinks.NewInstrumentedSink(fanout, registry), nil
		},
		func(store event_out.OutboxStore, sink event_out.EventSink) *event_services.Processor {
			return event_services.NewProcessor(store, sink, event_services.ProcessorConfig{})
		},

		// HTTP surface.
		func(
			orchestrator *payment_services.Orchestrator,
			ledger *ledger_services.LedgerService,
			disbursements *disbursement_services.Service,
			statements *statement_services.Builder,
			reconciler *reconciliation_services.Reconciler,
			stripe *stripe_provider.Provider,
			mpesa *mpesa_provider.Provider,
			registry *metrics.Registry,
		) *httpapi.API {
			return &httpapi.API{
				Payments:      orchestrator,
				Ledger:        ledger,
				Disbursements: disbursements,
				Statements:    statements,
				Reconciler:    reconciler,
				Stripe:        stripe,
				Mpesa:         mpesa,
				Metrics:       registry,
			}
		},
		func(api *httpapi.API) http.Handler { return httpapi.NewRouter(api) },

		// Background payout runs.
		func(cfg *Config, scheduler *disbursement_services.Scheduler, tenants common.TenantDirectory) *PayoutLoop {
			return NewPayoutLoop(scheduler, tenants, cfg.SchedulerTenants)
		},
	}

	for _, binding := range bindings {
		if err := c.Singleton(binding); err != nil {
			return nil, fmt.Errorf("container binding: %w", err)
		}
	}

	app := &Application{}

	if err := c.Resolve(&app.Handler); err != nil {
		return nil, fmt.Errorf("resolve http handler: %w", err)
	}

	if err := c.Resolve(&app.Processor); err != nil {
		return nil, fmt.Errorf("resolve outbox processor: %w", err)
	}

	if err := c.Resolve(&app.Payouts); err != nil {
		return nil, fmt.Errorf("resolve payout loop: %w", err)
	}

	if err := c.Resolve(&app.Metrics); err != nil {
		return nil, fmt.Errorf("resolve metrics registry: %w", err)
	}

	return app, nil
}

// brokerSink builds the outbound sink the configuration asks for.
func brokerSink(cfg *Config) (event_out.EventSink, error) {
	switch cfg.EventSink {
	case "kafka":
		return event_sinks.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "amqp":
		return event_sinks.NewAMQPSink(cfg.AMQPUrl, cfg.AMQPExchange)
	case "log":
		return event_sinks.LogSink{}, nil
	default:
		return nil, fmt.Errorf("unknown event sink %q", cfg.EventSink)
	}
}
