// Package model holds the data types shared across the edge sync manager:
// the durable cursor, event log entries, uplink/downlink wire messages, and
// the settings/configuration records exchanged during the handshake.
package model

// EntityType enumerates the kinds of domain entities an EventLogEntry can
// describe. The concrete per-type translators are injected collaborators
// (see the translate package) — this package only names the type.
type EntityType string

const (
	EntityDevice     EntityType = "DEVICE"
	EntityAsset      EntityType = "ASSET"
	EntityDashboard  EntityType = "DASHBOARD"
	EntityEntityView EntityType = "ENTITY_VIEW"
	EntityRelation   EntityType = "RELATION"
	EntityAlarm      EntityType = "ALARM"
	EntityTelemetry  EntityType = "TELEMETRY"
)

// Action enumerates the change kinds an EventLogEntry can carry.
type Action string

const (
	ActionAdded                      Action = "ADDED"
	ActionUpdated                    Action = "UPDATED"
	ActionDeleted                    Action = "DELETED"
	ActionAlarmAck                   Action = "ALARM_ACK"
	ActionAlarmClear                 Action = "ALARM_CLEAR"
	ActionCredentialsUpdated         Action = "CREDENTIALS_UPDATED"
	ActionRelationAddOrUpdate        Action = "RELATION_ADD_OR_UPDATE"
	ActionRelationDeleted            Action = "RELATION_DELETED"
	ActionAssignedToCustomer        Action = "ASSIGNED_TO_CUSTOMER"
	ActionUnassignedFromCustomer     Action = "UNASSIGNED_FROM_CUSTOMER"
	ActionAttributesUpdated          Action = "ATTRIBUTES_UPDATED"
	ActionPostAttributes             Action = "POST_ATTRIBUTES"
	ActionAttributesDeleted          Action = "ATTRIBUTES_DELETED"
	ActionTimeseriesUpdated          Action = "TIMESERIES_UPDATED"
	ActionAttributesRequest          Action = "ATTRIBUTES_REQUEST"
	ActionRelationRequest            Action = "RELATION_REQUEST"
	ActionRuleChainMetadataRequest   Action = "RULE_CHAIN_METADATA_REQUEST"
	ActionCredentialsRequest         Action = "CREDENTIALS_REQUEST"
	ActionRPCCall                    Action = "RPC_CALL"
	ActionWidgetBundleTypesRequest   Action = "WIDGET_BUNDLE_TYPES_REQUEST"
	ActionEntityViewRequest          Action = "ENTITY_VIEW_REQUEST"
)

// Cursor is the durable watermark identifying the next event log position to
// ship: the wall-clock timestamp of the last shipped event's UUID, and the
// last shipped seqId. Persisted under the well-known attribute keys
// queueStartTs / queueSeqIdOffset (see store.AttributeStore).
type Cursor struct {
	StartTs      int64 // unix ms, derived from the UUID of the last shipped event
	SeqIDOffset  int64
}

// EventLogEntry is an immutable record read from the local event log.
type EventLogEntry struct {
	UUID       string // time-ordered
	SeqID      int64  // monotone, restarts at 1 on log cycle
	TenantID   string
	EntityType EntityType
	Action     Action
	Payload    []byte
}

// Page is a bounded slice of the event log plus a continuation marker.
type Page struct {
	Entries []EventLogEntry
	HasNext bool
}

// UplinkMsg is a wire message bound for the cloud. UplinkMsgID is
// batch-unique and is the correlation key for acknowledgement.
type UplinkMsg struct {
	UplinkMsgID int32
	Size        int // serialized size in bytes, checked against the transport's max-inbound size
	Payloads    []any
	SourceSeqID int64 // the EventLogEntry.SeqID this message was translated from
}

// DownlinkMsg is a wire message arriving from the cloud.
type DownlinkMsg struct {
	DownlinkMsgID     int32
	EdgeConfiguration *EdgeConfiguration // non-nil when the message carries an edge configuration update
	SyncCompleted     bool
	Payloads          []any
}

// DownlinkResponseMsg acknowledges a DownlinkMsg back to the cloud.
type DownlinkResponseMsg struct {
	DownlinkMsgID int32
	Success       bool
	ErrorMsg      string
}

// EdgeSettings is the per-tenant settings record, rewritten on every
// handshake.
type EdgeSettings struct {
	EdgeID           string
	TenantID         string
	Name             string
	Type             string
	RoutingKey       string
	FullSyncRequired bool
}

// EdgeConfiguration is the handshake payload, delivered through the
// transport's OnEdgeConfig callback after connect; a later DownlinkMsg may
// also carry one.
type EdgeConfiguration struct {
	TenantID   string `json:"tenant_id" validate:"required,uuid"`
	EdgeID     string `json:"edge_id" validate:"required,uuid"`
	CustomerID string `json:"customer_id,omitempty" validate:"omitempty,uuid"`
	Name       string `json:"name" validate:"required"`
	Type       string `json:"type" validate:"required"`
	RoutingKey string `json:"routing_key" validate:"required"`
	CloudType  string `json:"cloud_type" validate:"required"`
}

// CloudTypeCE is the only cloud type this edge build accepts.
const CloudTypeCE = "CE"
