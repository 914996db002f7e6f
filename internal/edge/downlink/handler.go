// Package downlink processes inbound DownlinkMsg frames: emitting ack/nack
// responses, detecting sync completion, and triggering follow-up sync
// requests (C5).
package downlink

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/edgesync/syncmanager/internal/edge/metrics"
	"github.com/edgesync/syncmanager/internal/edge/model"
	"github.com/edgesync/syncmanager/internal/edge/transport"
	"github.com/edgesync/syncmanager/pkg/logger"
)

// Processor is the external collaborator that does the actual domain work
// for a downlink payload (out of scope per spec §1).
type Processor interface {
	Process(ctx context.Context, msg model.DownlinkMsg) error
}

// CustomerResolver recomputes the customer id from an EdgeConfiguration and
// reports whether it changed relative to what's currently known.
type CustomerResolver func(cfg model.EdgeConfiguration) (customerID string, changed bool)

// Handler implements C5.
type Handler struct {
	log       logger.Logger
	transport transport.Transport
	processor Processor
	resolve   CustomerResolver
	metrics   *metrics.Metrics

	syncInProgress atomic.Bool // I5
}

// SetMetrics attaches the instrument set downlink outcomes are recorded
// against. A nil or never-called Handler records nothing.
func (h *Handler) SetMetrics(m *metrics.Metrics) { h.metrics = m }

// NewHandler constructs a Handler.
func NewHandler(log logger.Logger, t transport.Transport, p Processor, resolve CustomerResolver) *Handler {
	return &Handler{log: log, transport: t, processor: p, resolve: resolve}
}

// SetSyncInProgress is used by the session controller to arm syncInProgress
// right after issuing a handshake-time sync request (spec §4.6 step 6).
func (h *Handler) SetSyncInProgress(v bool) {
	h.syncInProgress.Store(v)
}

// SyncInProgress reports the current I5 flag value.
func (h *Handler) SyncInProgress() bool {
	return h.syncInProgress.Load()
}

// Handle processes one inbound DownlinkMsg per spec §4.5.
func (h *Handler) Handle(ctx context.Context, msg model.DownlinkMsg) {
	var customerIDUpdated bool
	if msg.EdgeConfiguration != nil && h.resolve != nil {
		_, customerIDUpdated = h.resolve(*msg.EdgeConfiguration)
	}

	if h.syncInProgress.Load() && msg.SyncCompleted {
		h.syncInProgress.Store(false)
	}

	err := h.processor.Process(ctx, msg)
	if err != nil {
		h.log.ErrorContext(ctx, "downlink: processing failed", "downlink_msg_id", msg.DownlinkMsgID, "error", err)
		resp := model.DownlinkResponseMsg{
			DownlinkMsgID: msg.DownlinkMsgID,
			Success:       false,
			ErrorMsg:      flattenCause(err),
		}
		if sendErr := h.transport.SendDownlinkResponseMsg(ctx, resp); sendErr != nil {
			h.log.ErrorContext(ctx, "downlink: failed to send nack", "error", sendErr)
		}
		h.metrics.AddDownlink(ctx, false)
		return
	}

	resp := model.DownlinkResponseMsg{DownlinkMsgID: msg.DownlinkMsgID, Success: true}
	if sendErr := h.transport.SendDownlinkResponseMsg(ctx, resp); sendErr != nil {
		h.log.ErrorContext(ctx, "downlink: failed to send ack", "error", sendErr)
	}
	h.metrics.AddDownlink(ctx, true)

	if msg.EdgeConfiguration != nil && customerIDUpdated && !h.syncInProgress.Load() {
		if err := h.transport.SendSyncRequestMsg(ctx, false, false); err != nil {
			h.log.ErrorContext(ctx, "downlink: failed to send follow-up sync request", "error", err)
			return
		}
		h.syncInProgress.Store(true)
	}
}

func flattenCause(err error) string {
	return fmt.Sprintf("%v", err)
}
