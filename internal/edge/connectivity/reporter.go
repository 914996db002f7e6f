// Package connectivity publishes liveness / last-connect / last-disconnect
// attributes to the attribute store (C7).
package connectivity

import (
	"context"
	"time"

	"github.com/edgesync/syncmanager/internal/edge/metrics"
	"github.com/edgesync/syncmanager/internal/edge/store"
	"github.com/edgesync/syncmanager/pkg/logger"
)

const (
	AttrActive             = "active"
	AttrLastConnectTime    = "lastConnectTime"
	AttrLastDisconnectTime = "lastDisconnectTime"
	scopeServer            = "SERVER_SCOPE"
)

// Reporter implements C7: best-effort, fire-and-forget attribute writes
// that never gate connectivity.
type Reporter struct {
	log     logger.Logger
	attrs   store.AttributeStore
	metrics *metrics.Metrics
}

// NewReporter constructs a Reporter.
func NewReporter(log logger.Logger, attrs store.AttributeStore) *Reporter {
	return &Reporter{log: log, attrs: attrs}
}

// SetMetrics attaches the instrument set connectivity transitions are
// recorded against. A nil or never-called Reporter records nothing.
func (r *Reporter) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// Connected publishes active=true and lastConnectTime=now. No-op when
// tenantID is empty (not yet known).
func (r *Reporter) Connected(ctx context.Context, tenantID string) {
	if tenantID == "" {
		return
	}
	now := time.Now().UnixMilli()
	r.write(ctx, tenantID, []store.Attribute{
		{Tenant: tenantID, Entity: tenantID, Scope: scopeServer, Key: AttrActive, Value: 1, Ts: now},
		{Tenant: tenantID, Entity: tenantID, Scope: scopeServer, Key: AttrLastConnectTime, Value: now, Ts: now},
	})
	r.metrics.RecordConnectivity(ctx, true)
}

// Disconnected publishes active=false and lastDisconnectTime=now.
func (r *Reporter) Disconnected(ctx context.Context, tenantID string) {
	if tenantID == "" {
		return
	}
	now := time.Now().UnixMilli()
	r.write(ctx, tenantID, []store.Attribute{
		{Tenant: tenantID, Entity: tenantID, Scope: scopeServer, Key: AttrActive, Value: 0, Ts: now},
		{Tenant: tenantID, Entity: tenantID, Scope: scopeServer, Key: AttrLastDisconnectTime, Value: now, Ts: now},
	})
	r.metrics.RecordConnectivity(ctx, false)
}

func (r *Reporter) write(ctx context.Context, tenantID string, attrs []store.Attribute) {
	if err := r.attrs.Save(ctx, attrs...); err != nil {
		r.log.WarnContext(ctx, "connectivity: failed to publish attributes", "tenant_id", tenantID, "error", err)
		return
	}
	r.log.DebugContext(ctx, "connectivity: published attributes", "tenant_id", tenantID)
}
