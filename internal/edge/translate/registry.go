// Package translate dispatches event log entries to the per-domain
// translator that turns them into wire messages (C3). The concrete
// translators (device, asset, dashboard, entity-view, relation, alarm,
// telemetry, rule-chain, widget-bundle, entity) are external collaborators
// named only by the Translator interface — this package owns only the
// dispatch table.
package translate

import (
	"context"

	"github.com/edgesync/syncmanager/internal/edge/model"
	"github.com/edgesync/syncmanager/pkg/logger"
)

// Translator converts one EventLogEntry into zero or one UplinkMsg.
// Returning (nil, nil) means "unsupported combination — skip".
type Translator interface {
	Translate(ctx context.Context, entry model.EventLogEntry) (*model.UplinkMsg, error)
}

// Target names the logical translator a (entityType, action) pair routes
// to, matching spec §4.3's two families.
type Target string

const (
	TargetDevice       Target = "device"
	TargetAsset        Target = "asset"
	TargetDashboard    Target = "dashboard"
	TargetEntityView   Target = "entity_view"
	TargetRelation     Target = "relation"
	TargetAlarm        Target = "alarm"
	TargetTelemetry    Target = "telemetry"
	TargetRuleChain    Target = "rule_chain"
	TargetEntity       Target = "entity"
	TargetWidgetBundle Target = "widget_bundle"
)

var entityLifecycleActions = map[model.Action]bool{
	model.ActionAdded:                    true,
	model.ActionUpdated:                  true,
	model.ActionDeleted:                  true,
	model.ActionAlarmAck:                 true,
	model.ActionAlarmClear:               true,
	model.ActionCredentialsUpdated:       true,
	model.ActionRelationAddOrUpdate:      true,
	model.ActionRelationDeleted:          true,
	model.ActionAssignedToCustomer:       true,
	model.ActionUnassignedFromCustomer:   true,
}

var entityTypeTarget = map[model.EntityType]Target{
	model.EntityDevice:     TargetDevice,
	model.EntityAsset:      TargetAsset,
	model.EntityDashboard:  TargetDashboard,
	model.EntityEntityView: TargetEntityView,
	model.EntityRelation:   TargetRelation,
	model.EntityAlarm:      TargetAlarm,
}

var actionTarget = map[model.Action]Target{
	model.ActionAttributesUpdated:        TargetTelemetry,
	model.ActionPostAttributes:           TargetTelemetry,
	model.ActionAttributesDeleted:        TargetTelemetry,
	model.ActionTimeseriesUpdated:        TargetTelemetry,
	model.ActionAttributesRequest:        TargetTelemetry,
	model.ActionRelationRequest:          TargetRelation,
	model.ActionRuleChainMetadataRequest: TargetRuleChain,
	model.ActionCredentialsRequest:       TargetEntity,
	model.ActionRPCCall:                  TargetDevice,
	model.ActionWidgetBundleTypesRequest: TargetWidgetBundle,
	model.ActionEntityViewRequest:        TargetEntityView,
}

// Resolve returns the translator target for entry, per spec §4.3's routing
// table, and false if the (entityType, action) combination is unsupported.
func Resolve(entry model.EventLogEntry) (Target, bool) {
	if entityLifecycleActions[entry.Action] {
		t, ok := entityTypeTarget[entry.EntityType]
		return t, ok
	}
	t, ok := actionTarget[entry.Action]
	return t, ok
}

// Registry dispatches EventLogEntry translation to injected per-target
// Translators.
type Registry struct {
	log          logger.Logger
	translators  map[Target]Translator
}

// NewRegistry builds a Registry from the given target→translator bindings.
func NewRegistry(log logger.Logger, translators map[Target]Translator) *Registry {
	return &Registry{log: log, translators: translators}
}

// TranslateAll converts every entry in page to an UplinkMsg, skipping
// unsupported combinations and catching per-entry translator failures so a
// single bad event never aborts the batch (spec §4.3, §7).
func (r *Registry) TranslateAll(ctx context.Context, entries []model.EventLogEntry) []model.UplinkMsg {
	msgs := make([]model.UplinkMsg, 0, len(entries))
	for _, entry := range entries {
		target, ok := Resolve(entry)
		if !ok {
			r.log.WarnContext(ctx, "translate: unsupported entry, skipping",
				"entity_type", entry.EntityType, "action", entry.Action, "seq_id", entry.SeqID)
			continue
		}
		translator, ok := r.translators[target]
		if !ok {
			r.log.WarnContext(ctx, "translate: no translator bound for target, skipping",
				"target", target, "seq_id", entry.SeqID)
			continue
		}
		msg, err := func() (msg *model.UplinkMsg, err error) {
			defer func() {
				if p := recover(); p != nil {
					err = errPanic(p)
				}
			}()
			return translator.Translate(ctx, entry)
		}()
		if err != nil {
			r.log.ErrorContext(ctx, "translate: translator failed, dropping event",
				"seq_id", entry.SeqID, "target", target, "error", err)
			continue
		}
		if msg == nil {
			continue
		}
		msg.SourceSeqID = entry.SeqID
		msgs = append(msgs, *msg)
	}
	return msgs
}

type panicErr struct{ v any }

func (e panicErr) Error() string { return "translator panicked" }

func errPanic(v any) error { return panicErr{v} }
