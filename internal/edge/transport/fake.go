package transport

import (
	"context"
	"sync"

	"github.com/edgesync/syncmanager/internal/edge/model"
)

// Fake is a deterministic in-memory Transport used by tests across the
// edge packages. It records every outbound call and lets tests drive
// inbound callbacks synchronously.
type Fake struct {
	mu sync.Mutex

	MaxInboundSize int
	Connected      bool

	UplinkSent    []model.UplinkMsg
	DownlinkResps []model.DownlinkResponseMsg
	SyncRequests  []struct {
		FullSync  bool
		ResetSync bool
	}

	cb Callbacks

	ConnectErr error
}

// NewFake returns a Fake with a generous default max-inbound size.
func NewFake() *Fake {
	return &Fake{MaxInboundSize: 1 << 20}
}

// Sent returns a snapshot of the messages sent so far. Safe to call
// concurrently with SendUplinkMsg/Ack from a test's driver goroutine.
func (f *Fake) Sent() []model.UplinkMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.UplinkMsg, len(f.UplinkSent))
	copy(out, f.UplinkSent)
	return out
}

func (f *Fake) Connect(_ context.Context, _, _ string, cb Callbacks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.cb = cb
	f.Connected = true
	return nil
}

func (f *Fake) Disconnect(bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connected = false
	return nil
}

func (f *Fake) SendUplinkMsg(_ context.Context, msg model.UplinkMsg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UplinkSent = append(f.UplinkSent, msg)
	return nil
}

func (f *Fake) SendDownlinkResponseMsg(_ context.Context, msg model.DownlinkResponseMsg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DownlinkResps = append(f.DownlinkResps, msg)
	return nil
}

func (f *Fake) SendSyncRequestMsg(_ context.Context, fullSync, resetSync bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SyncRequests = append(f.SyncRequests, struct {
		FullSync  bool
		ResetSync bool
	}{fullSync, resetSync})
	return nil
}

func (f *Fake) ServerMaxInboundMessageSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MaxInboundSize
}

// Ack lets a test simulate the transport delivering an ack callback.
func (f *Fake) Ack(uplinkMsgID int32, success bool) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb.OnUplinkAck != nil {
		cb.OnUplinkAck(uplinkMsgID, success)
	}
}

// DeliverEdgeConfig lets a test simulate the handshake callback.
func (f *Fake) DeliverEdgeConfig(cfg model.EdgeConfiguration) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb.OnEdgeConfig != nil {
		cb.OnEdgeConfig(cfg)
	}
}

// DeliverDownlink lets a test simulate an inbound downlink message.
func (f *Fake) DeliverDownlink(msg model.DownlinkMsg) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb.OnDownlink != nil {
		cb.OnDownlink(msg)
	}
}

// DeliverError lets a test simulate a transport error.
func (f *Fake) DeliverError(err error) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb.OnError != nil {
		cb.OnError(err)
	}
}
