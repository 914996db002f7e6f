// Package metrics publishes the edge sync manager's OTel instruments
// (exported to Prometheus via pkg/telemetry.Setup), per SPEC_FULL.md's
// "Metrics published" list.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/edgesync/syncmanager/internal/edge"

// Metrics is the set of instruments the edge packages record against. Construct
// once at process start with New and pass it down to the components that
// need it; a nil *Metrics is safe to call methods on (no-op), so packages
// under test can omit it.
type Metrics struct {
	cursorSeqIDOffset metric.Int64Gauge
	cursorStartTsMs   metric.Int64Gauge

	uplinkSent      metric.Int64Counter
	uplinkAcked     metric.Int64Counter
	uplinkNacked    metric.Int64Counter
	batchesDiscarded metric.Int64Counter
	attemptWaves    metric.Int64Histogram

	downlinkTotal metric.Int64Counter

	sessionState       metric.Int64Gauge
	connectivityActive metric.Int64Gauge
}

// New builds Metrics against the global OTel meter provider (set up by
// pkg/telemetry.Setup before any component using Metrics is constructed).
func New() (*Metrics, error) {
	m := otel.Meter(meterName)

	cursorSeqIDOffset, err := m.Int64Gauge("sync_cursor_seq_id_offset")
	if err != nil {
		return nil, err
	}
	cursorStartTsMs, err := m.Int64Gauge("sync_cursor_start_ts_ms")
	if err != nil {
		return nil, err
	}
	uplinkSent, err := m.Int64Counter("sync_uplink_messages_sent_total")
	if err != nil {
		return nil, err
	}
	uplinkAcked, err := m.Int64Counter("sync_uplink_messages_acked_total")
	if err != nil {
		return nil, err
	}
	uplinkNacked, err := m.Int64Counter("sync_uplink_messages_nacked_total")
	if err != nil {
		return nil, err
	}
	batchesDiscarded, err := m.Int64Counter("sync_uplink_batches_discarded_total")
	if err != nil {
		return nil, err
	}
	attemptWaves, err := m.Int64Histogram("sync_uplink_attempt_waves")
	if err != nil {
		return nil, err
	}
	downlinkTotal, err := m.Int64Counter("sync_downlink_messages_total")
	if err != nil {
		return nil, err
	}
	sessionState, err := m.Int64Gauge("sync_session_state")
	if err != nil {
		return nil, err
	}
	connectivityActive, err := m.Int64Gauge("sync_connectivity_active")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		cursorSeqIDOffset:  cursorSeqIDOffset,
		cursorStartTsMs:    cursorStartTsMs,
		uplinkSent:         uplinkSent,
		uplinkAcked:        uplinkAcked,
		uplinkNacked:       uplinkNacked,
		batchesDiscarded:   batchesDiscarded,
		attemptWaves:       attemptWaves,
		downlinkTotal:      downlinkTotal,
		sessionState:       sessionState,
		connectivityActive: connectivityActive,
	}, nil
}

func (m *Metrics) RecordCursor(ctx context.Context, seqIDOffset, startTsMs int64) {
	if m == nil {
		return
	}
	m.cursorSeqIDOffset.Record(ctx, seqIDOffset)
	m.cursorStartTsMs.Record(ctx, startTsMs)
}

func (m *Metrics) AddUplinkSent(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.uplinkSent.Add(ctx, n)
}

func (m *Metrics) AddUplinkAck(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	if success {
		m.uplinkAcked.Add(ctx, 1)
		return
	}
	m.uplinkNacked.Add(ctx, 1)
}

func (m *Metrics) AddBatchDiscarded(ctx context.Context) {
	if m == nil {
		return
	}
	m.batchesDiscarded.Add(ctx, 1)
}

func (m *Metrics) RecordAttemptWaves(ctx context.Context, waves int64) {
	if m == nil {
		return
	}
	m.attemptWaves.Record(ctx, waves)
}

func (m *Metrics) AddDownlink(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.downlinkTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordSessionState reports the active session.State as a gauge, labeled
// with the state name since a gauge value alone isn't self-describing.
func (m *Metrics) RecordSessionState(ctx context.Context, state string, value int64) {
	if m == nil {
		return
	}
	m.sessionState.Record(ctx, value, metric.WithAttributes(attribute.String("state", state)))
}

func (m *Metrics) RecordConnectivity(ctx context.Context, active bool) {
	if m == nil {
		return
	}
	v := int64(0)
	if active {
		v = 1
	}
	m.connectivityActive.Record(ctx, v)
}
