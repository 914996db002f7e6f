// Package store defines the persistence contracts the sync manager depends
// on: the attribute/cursor store and the event log store. Concrete
// implementations live in store/redisattr and store/pgevents.
package store

import (
	"context"

	"github.com/edgesync/syncmanager/internal/edge/model"
)

// Well-known attribute keys for the durable cursor (spec §6).
const (
	KeyQueueStartTs      = "queueStartTs"
	KeyQueueSeqIDOffset  = "queueSeqIdOffset"
)

// Attribute addresses a single (tenant, entity, scope, key) value, the
// shape the cloud-side telemetry/attribute notifier expects.
type Attribute struct {
	Tenant string
	Entity string
	Scope  string
	Key    string
	Value  int64
	Ts     int64 // unix ms
}

// AttributeStore is the (tenant, entity, scope, key)-addressed KV store
// backing the durable cursor and the connectivity attributes published by
// the connectivity reporter (C7).
type AttributeStore interface {
	// Find returns the stored value for key, and false if absent.
	Find(ctx context.Context, tenant, entity, scope, key string) (int64, bool, error)
	// Save writes one or more attributes. Best-effort: callers log failures
	// but never block connectivity on them.
	Save(ctx context.Context, attrs ...Attribute) error
}

// CursorStore persists and retrieves the (startTs, seqIdOffset) watermark
// (C1). Load defaults missing keys to 0. Store writes both keys as of the
// caller's wall clock; failures are logged, never escalated.
type CursorStore interface {
	Load(ctx context.Context, tenant string) (model.Cursor, error)
	Store(ctx context.Context, tenant string, cursor model.Cursor) error
}

// EventLogStore is the paged, seqId-ordered view over the local event log
// (C2's persistence dependency).
type EventLogStore interface {
	// Liveness reports whether any event of the tenant has seqId >
	// seqIdOffset, or seqId == 1 (wrap signal). It takes no time bound, so
	// the check is not limited to the current time window. Used before
	// paying for a full page read.
	Liveness(ctx context.Context, tenant string, seqIDOffset int64) (hasWork bool, err error)

	// Read pages forward from seqIDOffset (exclusive) within [queueStartTs,
	// now], ascending by seqId, bounded by pageSize entries. Used both for
	// the normal read and, with seqIDOffset=0, for the post-wrap re-read.
	Read(ctx context.Context, tenant string, seqIDOffset int64, queueStartTs int64, pageSize int) (model.Page, error)

	// Append inserts a locally originated entry (used for the two bootstrap
	// events emitted at the end of a successful handshake).
	Append(ctx context.Context, entry model.EventLogEntry) error

	Ping(ctx context.Context) error
}
