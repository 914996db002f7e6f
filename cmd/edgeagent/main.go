// Command edgeagent runs the edge-to-cloud sync manager daemon: the C1-C8
// components wired together behind a minimal admin HTTP surface.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.temporal.io/sdk/worker"

	"github.com/edgesync/syncmanager/internal/edge/connectivity"
	"github.com/edgesync/syncmanager/internal/edge/downlink"
	edgeevents "github.com/edgesync/syncmanager/internal/edge/events"
	"github.com/edgesync/syncmanager/internal/edge/manager"
	"github.com/edgesync/syncmanager/internal/edge/metrics"
	"github.com/edgesync/syncmanager/internal/edge/model"
	"github.com/edgesync/syncmanager/internal/edge/reconcile"
	"github.com/edgesync/syncmanager/internal/edge/session"
	"github.com/edgesync/syncmanager/internal/edge/store"
	"github.com/edgesync/syncmanager/internal/edge/store/pgevents"
	"github.com/edgesync/syncmanager/internal/edge/store/redisattr"
	"github.com/edgesync/syncmanager/internal/edge/transport"
	"github.com/edgesync/syncmanager/internal/edge/translate"
	"github.com/edgesync/syncmanager/internal/edge/uplink"
	"github.com/edgesync/syncmanager/pkg/app"
	"github.com/edgesync/syncmanager/pkg/cache"
	"github.com/edgesync/syncmanager/pkg/config"
	"github.com/edgesync/syncmanager/pkg/database"
	"github.com/edgesync/syncmanager/pkg/events"
	"github.com/edgesync/syncmanager/pkg/httpx"
	"github.com/edgesync/syncmanager/pkg/logger"
	"github.com/edgesync/syncmanager/pkg/telemetry"
	"github.com/edgesync/syncmanager/pkg/workflows"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := config.ValidateForProduction(cfg); err != nil {
		slog.Error("production config validation failed", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg)

	ctx := context.Background()

	otelShutdown, metricsHandler, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		log.Error("failed to setup otel", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(ctx) //nolint:errcheck

	if err := telemetry.SetupSentry(cfg); err != nil {
		log.Warn("failed to setup sentry, continuing without crash reporting", "error", err)
	}
	defer telemetry.SentryFlush()

	pool, err := database.NewPool(ctx, cfg.EventLogDatabaseURL)
	if err != nil {
		log.Error("failed to connect to event log database", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer pool.Close()
	log.Info("event log database connected")

	eventBus, err := events.NewEventBusWithForwarder(cfg, log)
	if err != nil {
		log.Error("failed to setup event bus", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer eventBus.Close() //nolint:errcheck

	if err := eventBus.StartForwarder(ctx); err != nil {
		log.Error("failed to start event forwarder", "error", err)
		os.Exit(1) //nolint:gocritic
	}

	redisClient, err := cache.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer redisClient.Close() //nolint:errcheck
	log.Info("redis connected")

	temporalClient, err := workflows.NewTemporalClient(ctx, cfg.TemporalHostPort, cfg.TemporalNamespace, log)
	if err != nil {
		log.Error("failed to initialize temporal client", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer temporalClient.Close()

	appConfig := &app.Application{
		Db:             pool,
		Logger:         log,
		EventBus:       eventBus,
		Redis:          redisClient,
		TemporalClient: temporalClient,
	}

	eventLog := pgevents.New(appConfig.Db)
	attrs := redisattr.New(appConfig.Redis, 0)

	ingestor := edgeevents.NewIngestor(log, appConfig.EventBus, eventLog)
	ingestErrCh, err := ingestor.Start(ctx)
	if err != nil {
		log.Error("failed to start event ingestor", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	go func() {
		for err := range ingestErrCh {
			log.ErrorContext(ctx, "ingestor subscriber error", "topic", edgeevents.TopicEntityChange, "error", err)
		}
	}()

	reconcileActivities := &reconcile.Activities{Directory: loggingDirectory{log: log}}
	reconcileWorker := worker.New(appConfig.TemporalClient.Client, reconcile.TaskQueue, worker.Options{})
	reconcile.RegisterWorker(reconcileWorker, reconcileActivities)
	if err := reconcileWorker.Start(); err != nil {
		log.Error("failed to start temporal worker", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer reconcileWorker.Stop()

	edgeMetrics, err := metrics.New()
	if err != nil {
		log.Error("failed to build edge metrics", "error", err)
		os.Exit(1)
	}

	trans := transport.NewFake()
	reporter := connectivity.NewReporter(log, attrs)
	reporter.SetMetrics(edgeMetrics)

	// controller is assigned below; the resolver closes over the pointer so
	// it can compare against the controller's own handshake-tracked customer
	// id once the controller exists (session.New needs dlHandler, dlHandler
	// needs a resolver that needs the controller — broken here by capturing
	// the variable rather than its not-yet-available value).
	var controller *session.Controller
	customerChangeResolver := func(cfg model.EdgeConfiguration) (string, bool) {
		return cfg.CustomerID, cfg.CustomerID != controller.CustomerID()
	}
	dlHandler := downlink.NewHandler(log, trans, loggingProcessor{log: log}, customerChangeResolver)
	dlHandler.SetMetrics(edgeMetrics)

	sessionCfg := session.Config{
		RoutingKey:       cfg.CloudRoutingKey,
		Secret:           cfg.CloudSecret,
		ReconnectTimeout: cfg.CloudReconnectTimeout,
	}
	controller = session.New(log, sessionCfg, trans, attrs, eventLog, reporter, dlHandler, appConfig.TemporalClient.Client, os.Exit)
	controller.SetMetrics(edgeMetrics)
	controller.SetTenantProcessor(loggingTenantProcessor{log: log})
	batcher := uplink.NewBatcher(log, trans, cfg.SleepIntervalBetweenBatches, controller.Initialized)
	batcher.SetMetrics(edgeMetrics)
	controller.SetUplinkAckHandler(batcher.OnAck)

	registry := translate.NewRegistry(log, passthroughTranslators())

	mgrCfg := manager.Config{
		MaxReadRecordsCount:         cfg.MaxReadRecordsCount,
		NoRecordsSleepInterval:      cfg.NoRecordsSleepInterval,
		SleepIntervalBetweenBatches: cfg.SleepIntervalBetweenBatches,
	}
	mgr := manager.New(log, mgrCfg, controller, attrs, eventLog, registry, batcher)
	mgr.SetMetrics(edgeMetrics)
	mgr.Start(ctx)

	r := httpx.NewRouter(
		httpx.ServerConfig{
			ServiceName:        cfg.ServiceName,
			IsDevelopment:      cfg.Environment == config.EnvDevelopment,
			CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		},
		logger.Middleware(log),
		logger.Recovery(log),
		telemetry.SentryMiddleware(),
		otelhttp.NewMiddleware(cfg.ServiceName),
	)

	r.Get("/health", httpx.HealthHandler(httpx.HealthChecks{
		Database: pool,
		Redis:    redisClient,
		EventBus: eventBus,
	}))
	r.Get("/metrics", metricsHandler.ServeHTTP)

	srv := httpx.NewServer(cfg.AdminAddr, r)

	go func() {
		log.Info("admin server listening", "addr", srv.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down edge agent...")
	mgr.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced admin server shutdown", "error", err)
	}
	log.Info("edge agent stopped")
}

// loggingDirectory is the default reconcile.Directory: the real tenant /
// customer provisioning API is an external collaborator (spec §4.6 step 5),
// so this build logs the upsert and reports success.
type loggingDirectory struct{ log logger.Logger }

func (d loggingDirectory) EnsureTenant(ctx context.Context, tenantID, edgeID string) error {
	d.log.InfoContext(ctx, "reconcile: ensure tenant", "tenant_id", tenantID, "edge_id", edgeID)
	return nil
}

func (d loggingDirectory) EnsureCustomer(ctx context.Context, tenantID, customerID string) error {
	d.log.InfoContext(ctx, "reconcile: ensure customer", "tenant_id", tenantID, "customer_id", customerID)
	return nil
}

// loggingTenantProcessor is the default session.TenantProcessor: the real
// per-tenant processing pipeline cleanup is an external collaborator (spec
// §4.6 step 3), so this build logs the cleanup and reports success.
type loggingTenantProcessor struct{ log logger.Logger }

func (p loggingTenantProcessor) Cleanup(ctx context.Context, tenantID, oldEdgeID string) error {
	p.log.InfoContext(ctx, "session: tenant processor cleanup", "tenant_id", tenantID, "old_edge_id", oldEdgeID)
	return nil
}

// loggingProcessor is the default downlink.Processor: applying a downlink
// payload to local state is an external collaborator (spec §1), so this
// build only logs receipt and acks.
type loggingProcessor struct{ log logger.Logger }

func (p loggingProcessor) Process(ctx context.Context, msg model.DownlinkMsg) error {
	p.log.InfoContext(ctx, "downlink: processed", "downlink_msg_id", msg.DownlinkMsgID, "payload_count", len(msg.Payloads))
	return nil
}

// passthroughTranslators binds every translate.Target to a translator that
// carries the raw event payload through unchanged. The real per-domain wire
// encoders (device, asset, dashboard, ...) are external collaborators
// (spec §1); this is the minimal binding that lets the uplink path run
// end-to-end without them.
func passthroughTranslators() map[translate.Target]translate.Translator {
	t := passthroughTranslator{}
	return map[translate.Target]translate.Translator{
		translate.TargetDevice:       t,
		translate.TargetAsset:        t,
		translate.TargetDashboard:    t,
		translate.TargetEntityView:   t,
		translate.TargetRelation:     t,
		translate.TargetAlarm:        t,
		translate.TargetTelemetry:    t,
		translate.TargetRuleChain:    t,
		translate.TargetEntity:       t,
		translate.TargetWidgetBundle: t,
	}
}

type passthroughTranslator struct{}

func (passthroughTranslator) Translate(_ context.Context, entry model.EventLogEntry) (*model.UplinkMsg, error) {
	return &model.UplinkMsg{
		Size:     len(entry.Payload),
		Payloads: []any{entry.Payload},
	}, nil
}

var _ store.AttributeStore = (*redisattr.Store)(nil)
var _ store.CursorStore = (*redisattr.Store)(nil)
var _ store.EventLogStore = (*pgevents.Store)(nil)
