package translate

import (
	"context"
	"errors"
	"testing"

	"github.com/edgesync/syncmanager/internal/edge/model"
	"github.com/edgesync/syncmanager/pkg/config"
	"github.com/edgesync/syncmanager/pkg/logger"
)

func nopLogger() logger.Logger {
	return logger.New(&config.Config{LogLevel: "error"})
}

type fakeTranslator struct {
	msg *model.UplinkMsg
	err error
}

func (f fakeTranslator) Translate(context.Context, model.EventLogEntry) (*model.UplinkMsg, error) {
	return f.msg, f.err
}

// TestResolve_EntityLifecycleRoutesByEntityType verifies an entity
// lifecycle action routes by entityType (spec §4.3).
func TestResolve_EntityLifecycleRoutesByEntityType(t *testing.T) {
	target, ok := Resolve(model.EventLogEntry{EntityType: model.EntityAlarm, Action: model.ActionAlarmAck})
	if !ok || target != TargetAlarm {
		t.Fatalf("expected (alarm, true), got (%v, %v)", target, ok)
	}
}

// TestResolve_RequestActionsRouteByAction verifies request/telemetry
// actions route directly by action, ignoring entityType.
func TestResolve_RequestActionsRouteByAction(t *testing.T) {
	cases := []struct {
		action model.Action
		want   Target
	}{
		{model.ActionAttributesRequest, TargetTelemetry},
		{model.ActionRelationRequest, TargetRelation},
		{model.ActionRuleChainMetadataRequest, TargetRuleChain},
		{model.ActionCredentialsRequest, TargetEntity},
		{model.ActionRPCCall, TargetDevice},
		{model.ActionWidgetBundleTypesRequest, TargetWidgetBundle},
		{model.ActionEntityViewRequest, TargetEntityView},
	}
	for _, c := range cases {
		target, ok := Resolve(model.EventLogEntry{Action: c.action})
		if !ok || target != c.want {
			t.Errorf("action %s: expected (%v, true), got (%v, %v)", c.action, c.want, target, ok)
		}
	}
}

// TestTranslateAll_SkipsUnsupportedCombination verifies an unsupported
// (entityType, action) pair is logged and skipped, not fatal to the batch.
func TestTranslateAll_SkipsUnsupportedCombination(t *testing.T) {
	r := NewRegistry(nopLogger(), map[Target]Translator{
		TargetDevice: fakeTranslator{msg: &model.UplinkMsg{}},
	})
	entries := []model.EventLogEntry{
		{EntityType: "UNKNOWN_TYPE", Action: model.ActionUpdated, SeqID: 1},
		{EntityType: model.EntityDevice, Action: model.ActionUpdated, SeqID: 2},
	}
	msgs := r.TranslateAll(context.Background(), entries)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message (unsupported entry skipped), got %d", len(msgs))
	}
	if msgs[0].SourceSeqID != 2 {
		t.Errorf("expected surviving message to carry seqId 2, got %d", msgs[0].SourceSeqID)
	}
}

// TestTranslateAll_TranslatorFailureDropsOnlyThatEvent verifies a translator
// error drops just the one event and the batch continues (spec §4.3, §7).
func TestTranslateAll_TranslatorFailureDropsOnlyThatEvent(t *testing.T) {
	r := NewRegistry(nopLogger(), map[Target]Translator{
		TargetDevice: fakeTranslator{err: errors.New("translate failed")},
		TargetAsset:  fakeTranslator{msg: &model.UplinkMsg{}},
	})
	entries := []model.EventLogEntry{
		{EntityType: model.EntityDevice, Action: model.ActionUpdated, SeqID: 1},
		{EntityType: model.EntityAsset, Action: model.ActionUpdated, SeqID: 2},
	}
	msgs := r.TranslateAll(context.Background(), entries)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 surviving message, got %d", len(msgs))
	}
	if msgs[0].SourceSeqID != 2 {
		t.Errorf("expected surviving message to carry seqId 2, got %d", msgs[0].SourceSeqID)
	}
}

// TestTranslateAll_NilMessageSkipped verifies a translator returning
// (nil, nil) — "unsupported, skip" — produces no uplink message.
func TestTranslateAll_NilMessageSkipped(t *testing.T) {
	r := NewRegistry(nopLogger(), map[Target]Translator{
		TargetDevice: fakeTranslator{msg: nil, err: nil},
	})
	entries := []model.EventLogEntry{
		{EntityType: model.EntityDevice, Action: model.ActionUpdated, SeqID: 1},
	}
	msgs := r.TranslateAll(context.Background(), entries)
	if len(msgs) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(msgs))
	}
}
