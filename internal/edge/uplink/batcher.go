// Package uplink implements the batch-send/ack-wait/retry protocol for
// shipping translated events to the cloud (C4).
package uplink

import (
	"context"
	"sync"
	"time"

	"github.com/edgesync/syncmanager/internal/edge/metrics"
	"github.com/edgesync/syncmanager/internal/edge/model"
	"github.com/edgesync/syncmanager/internal/edge/transport"
	"github.com/edgesync/syncmanager/pkg/logger"
)

// defaultLatchWait is the fixed per-attempt ack wait (spec §4.4, §5).
const defaultLatchWait = 10 * time.Second

// maxAttempts bounds the number of send waves per batch (spec §4.4, P6).
const maxAttempts = 10

// Result reports how a batch resolved.
type Result struct {
	Discarded   bool  // true if attempts were exhausted and remaining messages were discarded
	SentWaves   int   // number of send attempts actually made
	Abandoned   bool  // true if the batch was abandoned mid-retry (shutdown) without advancing the cursor
}

// pending tracks one in-flight message awaiting ack.
type pending struct {
	msg model.UplinkMsg
}

// Batcher serializes uplink batches behind a single mutex (I3) and tracks
// per-message acks via a pending map (I4).
type Batcher struct {
	log       logger.Logger
	transport transport.Transport
	sleep     time.Duration // sleepIntervalBetweenBatches
	latchWait time.Duration // per-attempt ack wait; defaultLatchWait in production

	mu             sync.Mutex // serializes SendBatch calls (I3)
	pendingMu      sync.Mutex
	pendingMsgs    map[int32]pending
	latch          *countLatch
	isInitialized  func() bool // returns false once the manager becomes uninitialized mid-retry
	metrics        *metrics.Metrics
}

// SetMetrics attaches the instrument set batch attempts are recorded
// against. A nil or never-called Batcher records nothing.
func (b *Batcher) SetMetrics(m *metrics.Metrics) { b.metrics = m }

// countLatch is a resettable countdown latch decremented by ack callbacks.
type countLatch struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

func newCountLatch(n int) *countLatch {
	l := &countLatch{count: n, done: make(chan struct{})}
	if n == 0 {
		close(l.done)
	}
	return l
}

func (l *countLatch) countDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count <= 0 {
		return
	}
	l.count--
	if l.count == 0 {
		close(l.done)
	}
}

// NewBatcher constructs a Batcher. isInitialized is polled between attempts
// so shutdown/uninitialization aborts the retry loop without advancing the
// cursor (spec §4.4 "Shutdown").
func NewBatcher(log logger.Logger, t transport.Transport, sleepIntervalBetweenBatches time.Duration, isInitialized func() bool) *Batcher {
	return &Batcher{
		log:           log,
		transport:     t,
		sleep:         sleepIntervalBetweenBatches,
		latchWait:     defaultLatchWait,
		pendingMsgs:   make(map[int32]pending),
		isInitialized: isInitialized,
	}
}

// SendBatch ships msgs, waiting on a per-attempt ack latch, retrying up to
// maxAttempts times, and finally discarding+advancing on exhaustion (spec
// §4.4, P2, P3, P5, P6; scenarios 2, 3, 6).
func (b *Batcher) SendBatch(ctx context.Context, msgs []model.UplinkMsg) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	maxInbound := b.transport.ServerMaxInboundMessageSize()

	b.pendingMu.Lock()
	b.pendingMsgs = make(map[int32]pending, len(msgs))
	var toSend []model.UplinkMsg
	oversize := 0
	for i := range msgs {
		// uplinkMsgId only needs to be unique within this batch (spec §3);
		// the translator doesn't know about batching, so the batcher assigns
		// it here, right before the message becomes the ack-correlation key.
		msgs[i].UplinkMsgID = int32(i + 1)
	}
	for _, m := range msgs {
		if m.Size > maxInbound {
			b.log.WarnContext(ctx, "uplink: dropping oversize message",
				"uplink_msg_id", m.UplinkMsgID, "size", m.Size, "max_inbound", maxInbound)
			oversize++
			continue
		}
		b.pendingMsgs[m.UplinkMsgID] = pending{msg: m}
		toSend = append(toSend, m)
	}
	b.pendingMu.Unlock()

	if len(msgs) == 0 {
		return Result{}
	}

	attempts := 0
	for attempts < maxAttempts {
		if !b.isInitialized() {
			return Result{Abandoned: true, SentWaves: attempts}
		}
		attempts++

		b.pendingMu.Lock()
		remaining := make([]model.UplinkMsg, 0, len(b.pendingMsgs))
		for _, p := range b.pendingMsgs {
			remaining = append(remaining, p.msg)
		}
		latch := newCountLatch(len(b.pendingMsgs) + oversize)
		b.latch = latch
		b.pendingMu.Unlock()
		for i := 0; i < oversize; i++ {
			latch.countDown() // size-filter drops decrement without sending (spec §4.4)
		}
		oversize = 0 // only counted against the first attempt's latch

		for _, m := range remaining {
			if err := b.transport.SendUplinkMsg(ctx, m); err != nil {
				b.log.ErrorContext(ctx, "uplink: send failed", "uplink_msg_id", m.UplinkMsgID, "error", err)
				continue
			}
			b.metrics.AddUplinkSent(ctx, 1)
		}

		select {
		case <-latch.done:
		case <-time.After(b.latchWait):
		case <-ctx.Done():
			return Result{Abandoned: true, SentWaves: attempts}
		}

		b.pendingMu.Lock()
		empty := len(b.pendingMsgs) == 0
		b.pendingMu.Unlock()
		if empty {
			b.metrics.RecordAttemptWaves(ctx, int64(attempts))
			return Result{SentWaves: attempts}
		}

		if attempts < maxAttempts {
			select {
			case <-time.After(b.sleep):
			case <-ctx.Done():
				return Result{Abandoned: true, SentWaves: attempts}
			}
		}
	}

	b.pendingMu.Lock()
	remainingIDs := make([]int32, 0, len(b.pendingMsgs))
	for id := range b.pendingMsgs {
		remainingIDs = append(remainingIDs, id)
	}
	b.pendingMsgs = make(map[int32]pending)
	b.pendingMu.Unlock()

	b.log.WarnContext(ctx, "uplink: exhausted retries, discarding and advancing cursor",
		"remaining_ids", remainingIDs, "attempts", attempts)

	b.metrics.AddBatchDiscarded(ctx)
	b.metrics.RecordAttemptWaves(ctx, int64(attempts))

	return Result{Discarded: true, SentWaves: attempts}
}

// OnAck is the transport callback invoked on each uplink ack/nack. A
// positive ack removes the message from the pending map; a negative ack
// logs but leaves it pending for resend on the next attempt (spec §4.4).
func (b *Batcher) OnAck(uplinkMsgID int32, success bool) {
	b.pendingMu.Lock()
	latch := b.latch
	if success {
		delete(b.pendingMsgs, uplinkMsgID)
	}
	b.pendingMu.Unlock()

	if !success {
		b.log.Warn("uplink: negative ack, will resend", "uplink_msg_id", uplinkMsgID)
	}
	b.metrics.AddUplinkAck(context.Background(), success)
	if latch != nil {
		latch.countDown()
	}
}
