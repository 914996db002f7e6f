// Package pgevents implements store.EventLogStore against the Postgres
// event_log table (migrations/edge), running its queries directly on the
// pgxpool pool held by pkg/database.
package pgevents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edgesync/syncmanager/internal/edge/model"
	"github.com/edgesync/syncmanager/pkg/database"
)

// Store implements store.EventLogStore on top of pkg/database.Database.
type Store struct {
	db *database.Database
}

// New constructs a Store.
func New(db *database.Database) *Store {
	return &Store{db: db}
}

// Liveness reports whether the tenant's event log holds any entry with
// seqId > seqIDOffset, or seqId == 1 (wrap signal). The query is not limited
// to a time window: it covers every row of the tenant, so an entry with
// seqId == 1 keeps it true for as long as that entry exists.
func (s *Store) Liveness(ctx context.Context, tenant string, seqIDOffset int64) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM event_log
			WHERE tenant_id = $1 AND (seq_id > $2 OR seq_id = 1)
		)`
	var exists bool
	if err := s.db.Pool().QueryRow(ctx, q, tenant, seqIDOffset).Scan(&exists); err != nil {
		return false, fmt.Errorf("pgevents: liveness: %w", err)
	}
	return exists, nil
}

// Read pages forward from seqIDOffset (exclusive) within [queueStartTs, now],
// ascending by seqId, bounded by pageSize (spec §4.2 step 3). Passing
// seqIDOffset=0 performs the post-wrap re-read (spec §4.2 step 2).
func (s *Store) Read(ctx context.Context, tenant string, seqIDOffset int64, queueStartTs int64, pageSize int) (model.Page, error) {
	windowStart := time.UnixMilli(queueStartTs)
	now := time.Now()

	const q = `
		SELECT uuid, seq_id, tenant_id, entity_type, action, payload
		FROM event_log
		WHERE tenant_id = $1 AND seq_id > $2 AND created_at BETWEEN $3 AND $4
		ORDER BY seq_id ASC
		LIMIT $5`
	rows, err := s.db.Pool().Query(ctx, q, tenant, seqIDOffset, windowStart, now, pageSize+1)
	if err != nil {
		return model.Page{}, fmt.Errorf("pgevents: read: %w", err)
	}
	defer rows.Close()

	var entries []model.EventLogEntry
	for rows.Next() {
		var e model.EventLogEntry
		if err := rows.Scan(&e.UUID, &e.SeqID, &e.TenantID, &e.EntityType, &e.Action, &e.Payload); err != nil {
			return model.Page{}, fmt.Errorf("pgevents: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return model.Page{}, fmt.Errorf("pgevents: rows: %w", err)
	}

	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	return model.Page{Entries: entries, HasNext: hasNext}, nil
}

// Append inserts a locally originated entry, assigning it a fresh
// time-ordered UUID and the next seqId for the tenant (used for the two
// handshake bootstrap events, spec §4.6 step 7).
func (s *Store) Append(ctx context.Context, entry model.EventLogEntry) error {
	id := uuid.Must(uuid.NewV7())
	const q = `
		INSERT INTO event_log (uuid, seq_id, tenant_id, entity_type, action, payload, created_at)
		VALUES ($1, next_event_seq($2), $2, $3, $4, $5, now())`
	if _, err := s.db.Pool().Exec(ctx, q, id.String(), entry.TenantID, entry.EntityType, entry.Action, entry.Payload); err != nil {
		return fmt.Errorf("pgevents: append: %w", err)
	}
	return nil
}

// Ping checks the event log database connection health.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
