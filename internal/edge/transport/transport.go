// Package transport defines the RPC transport contract the session
// controller and uplink batcher depend on. The concrete implementation
// (connection establishment, framing, flow control) is an external
// collaborator per spec — only the interface and its callback shapes live
// here, plus a deterministic in-memory fake used by tests.
package transport

import (
	"context"

	"github.com/edgesync/syncmanager/internal/edge/model"
)

// Callbacks groups the four inbound callback kinds the transport delivers
// on its own goroutines. Implementations MUST NOT block inside these
// callbacks — route work onto a channel instead (see session.Controller).
type Callbacks struct {
	OnUplinkAck  func(uplinkMsgID int32, success bool)
	OnEdgeConfig func(cfg model.EdgeConfiguration)
	OnDownlink   func(msg model.DownlinkMsg)
	OnError      func(err error)
}

// Transport is the persistent bidirectional RPC session contract (spec §6).
type Transport interface {
	Connect(ctx context.Context, routingKey, secret string, cb Callbacks) error
	Disconnect(graceful bool) error
	SendUplinkMsg(ctx context.Context, msg model.UplinkMsg) error
	SendDownlinkResponseMsg(ctx context.Context, msg model.DownlinkResponseMsg) error
	SendSyncRequestMsg(ctx context.Context, fullSync bool, resetSync bool) error
	// ServerMaxInboundMessageSize is the negotiated max-inbound size used by
	// the uplink batcher's size filter (spec §4.4).
	ServerMaxInboundMessageSize() int
}
