package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edgesync/syncmanager/internal/edge/connectivity"
	"github.com/edgesync/syncmanager/internal/edge/downlink"
	"github.com/edgesync/syncmanager/internal/edge/model"
	"github.com/edgesync/syncmanager/internal/edge/session"
	"github.com/edgesync/syncmanager/internal/edge/store"
	"github.com/edgesync/syncmanager/internal/edge/transport"
	"github.com/edgesync/syncmanager/internal/edge/translate"
	"github.com/edgesync/syncmanager/internal/edge/uplink"
	"github.com/edgesync/syncmanager/pkg/config"
	"github.com/edgesync/syncmanager/pkg/logger"
)

func nopLogger() logger.Logger {
	return logger.New(&config.Config{LogLevel: "error"})
}

// testTenantID/testEdgeID satisfy EdgeConfiguration's uuid validation tags.
const (
	testTenantID = "11111111-1111-1111-1111-111111111111"
	testEdgeID   = "22222222-2222-2222-2222-222222222222"
)

type fakeCursorStore struct {
	mu      sync.Mutex
	cursors map[string]model.Cursor
}

func newFakeCursorStore() *fakeCursorStore {
	return &fakeCursorStore{cursors: make(map[string]model.Cursor)}
}

func (s *fakeCursorStore) Load(_ context.Context, tenant string) (model.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[tenant], nil
}

func (s *fakeCursorStore) Store(_ context.Context, tenant string, c model.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[tenant] = c
	return nil
}

func (s *fakeCursorStore) snapshot(tenant string) model.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[tenant]
}

type fakeAttributeStore struct {
	mu   sync.Mutex
	vals map[string]int64
}

func newFakeAttributeStore() *fakeAttributeStore {
	return &fakeAttributeStore{vals: make(map[string]int64)}
}

func (s *fakeAttributeStore) Find(_ context.Context, tenant, entity, scope, k string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[tenant+entity+scope+k]
	return v, ok, nil
}

func (s *fakeAttributeStore) Save(_ context.Context, attrs ...store.Attribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range attrs {
		s.vals[a.Tenant+a.Entity+a.Scope+a.Key] = a.Value
	}
	return nil
}

// fakeEventLog is a minimal in-memory event log supporting wrap detection:
// Liveness reports true whenever an entry has seqId==1 even if none is
// greater than the caller's offset, matching the real store's wrap signal
// (spec §4.2).
type fakeEventLog struct {
	mu      sync.Mutex
	entries []model.EventLogEntry
}

func (f *fakeEventLog) Liveness(_ context.Context, _ string, seqIDOffset int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.SeqID > seqIDOffset || e.SeqID == 1 {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEventLog) Read(_ context.Context, _ string, seqIDOffset int64, _ int64, pageSize int) (model.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.EventLogEntry
	for _, e := range f.entries {
		if e.SeqID > seqIDOffset {
			out = append(out, e)
		}
	}
	hasNext := false
	if len(out) > pageSize {
		out = out[:pageSize]
		hasNext = true
	}
	return model.Page{Entries: out, HasNext: hasNext}, nil
}

func (f *fakeEventLog) Append(_ context.Context, e model.EventLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeEventLog) Ping(context.Context) error { return nil }

type nopProcessor struct{}

func (nopProcessor) Process(context.Context, model.DownlinkMsg) error { return nil }

// newInitializedManager builds a Manager whose session controller has
// already completed a CE handshake for testTenantID, wired to the given event
// log and cursor store.
func newInitializedManager(t *testing.T, eventLog *fakeEventLog, cursors *fakeCursorStore) *Manager {
	t.Helper()
	fake := transport.NewFake()
	reporter := connectivity.NewReporter(nopLogger(), newFakeAttributeStore())
	dl := downlink.NewHandler(nopLogger(), fake, nopProcessor{}, func(cfg model.EdgeConfiguration) (string, bool) {
		return cfg.CustomerID, false
	})
	scfg := session.Config{RoutingKey: "rk", Secret: "sec", ReconnectTimeout: time.Second}
	controller := session.New(nopLogger(), scfg, fake, newFakeCursorStore(), &fakeEventLog{}, reporter, dl, nil,
		func(int) { t.Fatal("unexpected process exit") })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go controller.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for !fake.Connected && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	fake.DeliverEdgeConfig(model.EdgeConfiguration{
		TenantID: testTenantID, EdgeID: testEdgeID, Name: "n", Type: "t", RoutingKey: "rk", CloudType: model.CloudTypeCE,
	})
	deadline = time.Now().Add(time.Second)
	for !controller.Initialized() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !controller.Initialized() {
		t.Fatal("setup: expected controller to initialize")
	}

	registry := translate.NewRegistry(nopLogger(), nil)
	batcher := uplink.NewBatcher(nopLogger(), fake, time.Millisecond, controller.Initialized)

	mgr := New(nopLogger(), Config{
		MaxReadRecordsCount:         10,
		NoRecordsSleepInterval:      5 * time.Millisecond,
		SleepIntervalBetweenBatches: time.Millisecond,
	}, controller, cursors, eventLog, registry, batcher)
	return mgr
}

// TestOuterLoop_AdvancesCursor covers P1: the cursor strictly advances as
// entries are consumed.
func TestOuterLoop_AdvancesCursor(t *testing.T) {
	eventLog := &fakeEventLog{entries: []model.EventLogEntry{
		{UUID: "00000001-0000-0000-0000-000000000000", SeqID: 1, TenantID: testTenantID},
		{UUID: "00000002-0000-0000-0000-000000000000", SeqID: 2, TenantID: testTenantID},
	}}
	cursors := newFakeCursorStore()
	mgr := newInitializedManager(t, eventLog, cursors)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.outerLoop(ctx)
	t.Cleanup(func() { close(mgr.stopCh); <-mgr.doneCh })

	deadline := time.Now().Add(2 * time.Second)
	for cursors.snapshot(testTenantID).SeqIDOffset != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	got := cursors.snapshot(testTenantID)
	if got.SeqIDOffset != 2 {
		t.Fatalf("expected cursor to advance to seqId 2, got %+v", got)
	}
}

// TestOuterLoop_WrapReReadsFromZero covers scenario 4 / P4: when Liveness
// reports work but a direct read at the stale offset comes back empty, the
// loop re-reads from seqId 0 and picks up the wrapped log.
func TestOuterLoop_WrapReReadsFromZero(t *testing.T) {
	eventLog := &fakeEventLog{entries: []model.EventLogEntry{
		{UUID: "00000003-0000-0000-0000-000000000000", SeqID: 1, TenantID: testTenantID},
		{UUID: "00000004-0000-0000-0000-000000000000", SeqID: 2, TenantID: testTenantID},
	}}
	cursors := newFakeCursorStore()
	// Simulate a stale cursor left over from before the log wrapped: no
	// entry has seqId > 100, so a direct read returns an empty page even
	// though Liveness (seqId==1 present) says there's work.
	cursors.cursors[testTenantID] = model.Cursor{SeqIDOffset: 100, StartTs: 123}
	mgr := newInitializedManager(t, eventLog, cursors)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.outerLoop(ctx)
	t.Cleanup(func() { close(mgr.stopCh); <-mgr.doneCh })

	deadline := time.Now().Add(2 * time.Second)
	for cursors.snapshot(testTenantID).SeqIDOffset == 100 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	got := cursors.snapshot(testTenantID)
	if got.SeqIDOffset != 2 {
		t.Fatalf("expected wrap re-read to advance cursor to seqId 2, got %+v", got)
	}
}
