// Package session owns the sync manager's connection lifecycle: connect,
// handshake, drive full-sync, reconnect-with-backoff, and shutdown (C6).
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/edgesync/syncmanager/internal/edge/connectivity"
	"github.com/edgesync/syncmanager/internal/edge/downlink"
	"github.com/edgesync/syncmanager/internal/edge/metrics"
	"github.com/edgesync/syncmanager/internal/edge/model"
	"github.com/edgesync/syncmanager/internal/edge/reconcile"
	"github.com/edgesync/syncmanager/internal/edge/store"
	"github.com/edgesync/syncmanager/internal/edge/transport"
	"github.com/edgesync/syncmanager/pkg/logger"
	"github.com/edgesync/syncmanager/pkg/validator"
)

// State is one of the session controller's lifecycle states (spec §4.6).
type State string

const (
	StateDisconnected      State = "DISCONNECTED"
	StateAwaitingHandshake State = "AWAITING_HANDSHAKE"
	StateHandshaking       State = "HANDSHAKING"
	StateRunning           State = "RUNNING"
	StateReconnectWait     State = "RECONNECT_WAIT"
	StateStopped           State = "STOPPED"
)

// ExitCloudTypeMismatch is the process exit code for a non-CE handshake
// (spec §6).
const ExitCloudTypeMismatch = -1

// Exiter abstracts process termination so handshake rejection is testable.
type Exiter func(code int)

// TenantProcessor is the external per-tenant processing pipeline collaborator
// invoked when a handshake observes a changed edgeId, before the controller
// replaces currentEdgeSettings with the new handshake's settings (spec §4.6
// step 3). Modeled as an interface for the same reason as reconcile.Directory
// — the concrete cleanup is an external collaborator, out of scope.
type TenantProcessor interface {
	Cleanup(ctx context.Context, tenantID, oldEdgeID string) error
}

// Config bundles the session controller's runtime configuration.
type Config struct {
	RoutingKey       string
	Secret           string
	ReconnectTimeout time.Duration
}

// Controller implements C6. All state transitions happen on a single
// goroutine (Run) fed by an inbound event channel, so transport callbacks
// (which MUST NOT block) only ever enqueue — they never mutate shared
// session state directly.
type Controller struct {
	log        logger.Logger
	cfg        Config
	transport  transport.Transport
	cursors    store.CursorStore
	eventLog   store.EventLogStore
	reporter   *connectivity.Reporter
	downlink   *downlink.Handler
	temporal   client.Client
	exit       Exiter

	state    atomic.Value // State
	tenantID atomic.Value // string

	mu                  sync.Mutex
	customerID          string
	currentEdgeSettings *model.EdgeSettings
	initialized         atomic.Bool

	events    chan func(ctx context.Context)
	stopOnce  sync.Once
	stopCh    chan struct{}
	reconnect *time.Timer

	onUplinkAck     func(uplinkMsgID int32, success bool)
	metrics         *metrics.Metrics
	tenantProcessor TenantProcessor
}

// SetMetrics attaches the instrument set state transitions are recorded
// against. A nil or never-called Controller records nothing.
func (c *Controller) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// SetTenantProcessor wires the cleanup collaborator invoked on an edgeId
// change mid-handshake. A nil or never-called Controller skips cleanup.
func (c *Controller) SetTenantProcessor(p TenantProcessor) { c.tenantProcessor = p }

var stateValue = map[State]int64{
	StateDisconnected:      0,
	StateAwaitingHandshake: 1,
	StateHandshaking:       2,
	StateRunning:           3,
	StateReconnectWait:     4,
	StateStopped:           5,
}

func (c *Controller) setState(s State) {
	c.state.Store(s)
	c.metrics.RecordSessionState(context.Background(), string(s), stateValue[s])
}

// SetUplinkAckHandler wires the uplink batcher's ack callback. RPC callback
// threads MUST NOT block (spec §5), and decrementing the batcher's latch
// is non-blocking, so this is called directly rather than routed through
// the events channel.
func (c *Controller) SetUplinkAckHandler(fn func(uplinkMsgID int32, success bool)) {
	c.onUplinkAck = fn
}

// New constructs a Controller in the DISCONNECTED state.
func New(
	log logger.Logger,
	cfg Config,
	t transport.Transport,
	cursors store.CursorStore,
	eventLog store.EventLogStore,
	reporter *connectivity.Reporter,
	dl *downlink.Handler,
	temporalClient client.Client,
	exit Exiter,
) *Controller {
	c := &Controller{
		log:      log,
		cfg:      cfg,
		transport: t,
		cursors:  cursors,
		eventLog: eventLog,
		reporter: reporter,
		downlink: dl,
		temporal: temporalClient,
		exit:     exit,
		events:   make(chan func(ctx context.Context), 64),
		stopCh:   make(chan struct{}),
	}
	c.setState(StateDisconnected)
	c.tenantID.Store("")
	return c
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State { return c.state.Load().(State) }

// TenantID returns the tenant id established at the last successful
// handshake, or "" before the first handshake.
func (c *Controller) TenantID() string { return c.tenantID.Load().(string) }

// CustomerID returns the customer id established at the last successful
// handshake, or "" before the first handshake.
func (c *Controller) CustomerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.customerID
}

// Initialized reports I2: tenantId, currentEdgeSettings, queueStartTs all set.
func (c *Controller) Initialized() bool { return c.initialized.Load() }

// Run drives the controller until ctx is canceled or Stop is called. It
// owns the connect → handshake → reconnect loop and is the single writer
// of all session state.
func (c *Controller) Run(ctx context.Context) {
	if c.cfg.RoutingKey == "" || c.cfg.Secret == "" {
		c.complaintLoop(ctx)
		return
	}

	c.connect(ctx)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case <-c.stopCh:
			c.shutdown()
			return
		case fn := <-c.events:
			fn(ctx)
		}
	}
}

// complaintLoop runs when routing credentials are missing: the manager
// never connects and logs a complaint every 10s (spec §5, §7).
func (c *Controller) complaintLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	c.log.Error("session: cloud routing key/secret not configured; will not connect")
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.log.Error("session: cloud routing key/secret still not configured")
		}
	}
}

// Stop requests shutdown (PreDestroy per spec §4.6).
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Controller) shutdown() {
	c.setState(StateStopped)
	c.reporter.Disconnected(context.Background(), c.TenantID())
	_ = c.transport.Disconnect(true)
	if c.reconnect != nil {
		c.reconnect.Stop()
	}
}

func (c *Controller) connect(ctx context.Context) {
	c.setState(StateAwaitingHandshake)
	cb := transport.Callbacks{
		OnUplinkAck: func(id int32, ok bool) {
			if c.onUplinkAck != nil {
				c.onUplinkAck(id, ok)
			}
		},
		OnEdgeConfig: func(cfg model.EdgeConfiguration) {
			c.enqueue(func(ctx context.Context) { c.onEdgeConfig(ctx, cfg) })
		},
		OnDownlink: func(msg model.DownlinkMsg) {
			c.enqueue(func(ctx context.Context) { c.downlink.Handle(ctx, msg) })
		},
		OnError: func(err error) {
			c.enqueue(func(ctx context.Context) { c.onTransportError(ctx, err) })
		},
	}
	if err := c.transport.Connect(ctx, c.cfg.RoutingKey, c.cfg.Secret, cb); err != nil {
		c.log.ErrorContext(ctx, "session: connect failed", "error", err)
		c.scheduleReconnect(ctx)
		return
	}
}

func (c *Controller) enqueue(fn func(ctx context.Context)) {
	select {
	case c.events <- fn:
	default:
		c.log.Error("session: event channel full, dropping callback")
	}
}

func (c *Controller) onTransportError(ctx context.Context, err error) {
	c.log.ErrorContext(ctx, "session: transport error", "error", err)
	c.initialized.Store(false)
	c.setState(StateReconnectWait)
	c.reporter.Disconnected(ctx, c.TenantID())
	c.scheduleReconnect(ctx)
}

func (c *Controller) scheduleReconnect(ctx context.Context) {
	if c.reconnect != nil {
		c.reconnect.Stop()
	}
	c.reconnect = time.AfterFunc(c.cfg.ReconnectTimeout, func() {
		c.enqueue(func(ctx context.Context) { c.connect(ctx) })
	})
}

func (c *Controller) onEdgeConfig(ctx context.Context, cfg model.EdgeConfiguration) {
	if cfg.CloudType != model.CloudTypeCE {
		c.log.ErrorContext(ctx, "session: rejecting non-CE cloud type", "cloud_type", cfg.CloudType)
		c.exit(ExitCloudTypeMismatch)
		return
	}
	if err := validator.Validate(&cfg); err != nil {
		c.log.ErrorContext(ctx, "session: rejecting invalid edge configuration", "error", err)
		c.scheduleReconnect(ctx)
		return
	}

	c.setState(StateHandshaking)
	if err := c.handshake(ctx, cfg); err != nil {
		c.log.ErrorContext(ctx, "session: handshake failed", "error", err)
		c.scheduleReconnect(ctx)
		return
	}
	c.setState(StateRunning)
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

// handshake implements spec §4.6's numbered handshake steps.
func (c *Controller) handshake(ctx context.Context, cfg model.EdgeConfiguration) error {
	c.tenantID.Store(cfg.TenantID)

	c.mu.Lock()
	prev := c.currentEdgeSettings
	customerIDUpdated := prev == nil || prev.TenantID != cfg.TenantID || c.customerID != cfg.CustomerID
	edgeIDChanged := prev != nil && prev.EdgeID != cfg.EdgeID
	c.mu.Unlock()

	if edgeIDChanged {
		c.log.InfoContext(ctx, "session: edge id changed across handshakes, replacing settings",
			"old_edge_id", prev.EdgeID, "new_edge_id", cfg.EdgeID)
		if c.tenantProcessor != nil {
			if err := c.tenantProcessor.Cleanup(ctx, cfg.TenantID, prev.EdgeID); err != nil {
				return fmt.Errorf("tenant processor cleanup: %w", err)
			}
		}
	}

	cursor, err := c.cursors.Load(ctx, cfg.TenantID)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	if err := c.reconcileTenantAndCustomer(ctx, cfg, customerIDUpdated); err != nil {
		return fmt.Errorf("reconcile tenant/customer: %w", err)
	}

	settings := &model.EdgeSettings{
		EdgeID:     cfg.EdgeID,
		TenantID:   cfg.TenantID,
		Name:       cfg.Name,
		Type:       cfg.Type,
		RoutingKey: cfg.RoutingKey,
	}
	if prev != nil {
		settings.FullSyncRequired = prev.FullSyncRequired
	}

	fullSync := settings.FullSyncRequired || customerIDUpdated
	if err := c.transport.SendSyncRequestMsg(ctx, fullSync, false); err != nil {
		return fmt.Errorf("send sync request: %w", err)
	}
	c.downlink.SetSyncInProgress(true)

	c.mu.Lock()
	c.currentEdgeSettings = settings
	c.customerID = cfg.CustomerID
	c.mu.Unlock()

	// Two bootstrap events feeding the normal uplink path (spec §4.6 step 7).
	bootstrap := []model.EventLogEntry{
		{TenantID: cfg.TenantID, EntityType: model.EntityTelemetry, Action: model.ActionAttributesRequest},
		{TenantID: cfg.TenantID, EntityType: model.EntityRelation, Action: model.ActionRelationRequest},
	}
	for _, entry := range bootstrap {
		if err := c.eventLog.Append(ctx, entry); err != nil {
			c.log.WarnContext(ctx, "session: failed to append bootstrap event", "action", entry.Action, "error", err)
		}
	}

	c.reporter.Connected(ctx, cfg.TenantID)

	if cursor.StartTs == 0 && cursor.SeqIDOffset == 0 {
		c.log.InfoContext(ctx, "session: starting from a fresh cursor")
	}

	c.initialized.Store(true)
	return nil
}

func (c *Controller) reconcileTenantAndCustomer(ctx context.Context, cfg model.EdgeConfiguration, ensureCustomer bool) error {
	if c.temporal == nil {
		return nil
	}
	wf, err := c.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		TaskQueue: reconcile.TaskQueue,
	}, reconcile.HandshakeReconcileWorkflow, reconcile.Request{
		TenantID:       cfg.TenantID,
		EdgeID:         cfg.EdgeID,
		CustomerID:     cfg.CustomerID,
		EnsureCustomer: ensureCustomer,
	})
	if err != nil {
		return fmt.Errorf("start reconcile workflow: %w", err)
	}
	var result reconcile.Result
	return wf.Get(ctx, &result)
}
