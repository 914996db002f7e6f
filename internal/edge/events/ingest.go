// Package events wires the Watermill-backed ingestion bus (pkg/events) to
// the local event log: upstream domain services publish change events,
// this package's subscriber persists them into store.EventLogStore so they
// flow through the normal outer-loop uplink path.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/edgesync/syncmanager/internal/edge/model"
	"github.com/edgesync/syncmanager/internal/edge/store"
	"github.com/edgesync/syncmanager/pkg/events"
	"github.com/edgesync/syncmanager/pkg/logger"
)

// TopicEntityChange is the ingestion topic upstream domain services publish
// entity lifecycle / telemetry / request events to.
const TopicEntityChange = "edge.entity_change"

// entityChangeEvent is the wire shape published to TopicEntityChange.
type entityChangeEvent struct {
	TenantID   string            `json:"tenant_id"`
	EntityType model.EntityType  `json:"entity_type"`
	Action     model.Action      `json:"action"`
	Payload    json.RawMessage   `json:"payload"`
}

// Ingestor subscribes to the ingestion bus and appends each message into
// the event log store.
type Ingestor struct {
	log      logger.Logger
	bus      *events.EventBus
	eventLog store.EventLogStore
}

// NewIngestor constructs an Ingestor.
func NewIngestor(log logger.Logger, bus *events.EventBus, eventLog store.EventLogStore) *Ingestor {
	return &Ingestor{log: log, bus: bus, eventLog: eventLog}
}

// Start subscribes to TopicEntityChange. The returned error channel must be
// drained by the caller, matching pkg/events.EventBus.Subscribe's contract.
func (i *Ingestor) Start(ctx context.Context) (<-chan error, error) {
	return i.bus.Subscribe(ctx, TopicEntityChange, i.handle)
}

func (i *Ingestor) handle(ctx context.Context, msg *message.Message) error {
	var evt entityChangeEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return fmt.Errorf("events: unmarshal entity change: %w", err)
	}
	return i.eventLog.Append(ctx, model.EventLogEntry{
		TenantID:   evt.TenantID,
		EntityType: evt.EntityType,
		Action:     evt.Action,
		Payload:    evt.Payload,
	})
}
