// Package manager composes the edge sync manager's components into the
// single-threaded outer loop and exposes Start/Stop (C8).
package manager

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edgesync/syncmanager/internal/edge/metrics"
	"github.com/edgesync/syncmanager/internal/edge/model"
	"github.com/edgesync/syncmanager/internal/edge/session"
	"github.com/edgesync/syncmanager/internal/edge/store"
	"github.com/edgesync/syncmanager/internal/edge/translate"
	"github.com/edgesync/syncmanager/internal/edge/uplink"
	"github.com/edgesync/syncmanager/pkg/logger"
)

// Config bundles the outer loop's pacing knobs (spec §6
// cloudEventStorageSettings).
type Config struct {
	MaxReadRecordsCount         int
	NoRecordsSleepInterval      time.Duration
	SleepIntervalBetweenBatches time.Duration
}

// Manager is the C8 facade: it owns the outer loop and delegates connection
// lifecycle to session.Controller.
type Manager struct {
	log        logger.Logger
	cfg        Config
	controller *session.Controller
	cursors    store.CursorStore
	eventLog   store.EventLogStore
	registry   *translate.Registry
	batcher    *uplink.Batcher
	metrics    *metrics.Metrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// SetMetrics attaches the instrument set the outer loop records cursor
// position against. A nil or never-called Manager records nothing.
func (m *Manager) SetMetrics(mx *metrics.Metrics) { m.metrics = mx }

// New constructs a Manager.
func New(
	log logger.Logger,
	cfg Config,
	controller *session.Controller,
	cursors store.CursorStore,
	eventLog store.EventLogStore,
	registry *translate.Registry,
	batcher *uplink.Batcher,
) *Manager {
	return &Manager{
		log:        log,
		cfg:        cfg,
		controller: controller,
		cursors:    cursors,
		eventLog:   eventLog,
		registry:   registry,
		batcher:    batcher,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the session controller and the outer loop worker. It
// returns immediately; call Stop to shut down gracefully.
func (m *Manager) Start(ctx context.Context) {
	go m.controller.Run(ctx)
	go m.outerLoop(ctx)
}

// Stop requests shutdown and blocks until the outer loop exits.
func (m *Manager) Stop() {
	m.controller.Stop()
	close(m.stopCh)
	<-m.doneCh
}

// outerLoop implements spec §4.8's pseudocode.
func (m *Manager) outerLoop(ctx context.Context) {
	defer close(m.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		default:
		}

		if !m.controller.Initialized() {
			if m.sleep(ctx, time.Second) {
				return
			}
			continue
		}

		tenantID := m.controller.TenantID()
		cursor, err := m.cursors.Load(ctx, tenantID)
		if err != nil {
			m.log.WarnContext(ctx, "manager: cursor load failed, retrying next iteration", "error", err)
			if m.sleep(ctx, m.cfg.NoRecordsSleepInterval) {
				return
			}
			continue
		}

		hasWork, err := m.eventLog.Liveness(ctx, tenantID, cursor.SeqIDOffset)
		if err != nil {
			m.log.WarnContext(ctx, "manager: liveness check failed, retrying next iteration", "error", err)
			if m.sleep(ctx, m.cfg.NoRecordsSleepInterval) {
				return
			}
			continue
		}
		if !hasWork {
			if m.sleep(ctx, m.cfg.NoRecordsSleepInterval) {
				return
			}
			continue
		}

		page, err := m.eventLog.Read(ctx, tenantID, cursor.SeqIDOffset, cursor.StartTs, m.cfg.MaxReadRecordsCount)
		if err != nil {
			m.log.WarnContext(ctx, "manager: log read failed, retrying next iteration", "error", err)
			if m.sleep(ctx, m.cfg.NoRecordsSleepInterval) {
				return
			}
			continue
		}

		if len(page.Entries) == 0 {
			// Liveness said there was work but the page came back empty: the
			// log wrapped. Re-issue as a wrap-read from seqId 0 (spec §4.2).
			page, err = m.eventLog.Read(ctx, tenantID, 0, cursor.StartTs, m.cfg.MaxReadRecordsCount)
			if err != nil {
				m.log.WarnContext(ctx, "manager: wrap re-read failed", "error", err)
				if m.sleep(ctx, m.cfg.NoRecordsSleepInterval) {
					return
				}
				continue
			}
		}

		if len(page.Entries) == 0 {
			if m.sleep(ctx, m.cfg.NoRecordsSleepInterval) {
				return
			}
			continue
		}

		msgs := m.registry.TranslateAll(ctx, page.Entries)
		if len(msgs) > 0 {
			result := m.batcher.SendBatch(ctx, msgs)
			if result.Abandoned {
				// Shutdown mid-retry (spec §4.4): abandon without advancing
				// the cursor, and loop back immediately to re-evaluate
				// Initialized/stop rather than sleeping.
				continue
			}
		}

		last := page.Entries[len(page.Entries)-1]
		newCursor := model.Cursor{
			StartTs:     unixMillisFromUUID(last.UUID),
			SeqIDOffset: last.SeqID,
		}
		if err := m.cursors.Store(ctx, tenantID, newCursor); err != nil {
			m.log.WarnContext(ctx, "manager: cursor store failed", "error", err)
		}
		m.metrics.RecordCursor(ctx, newCursor.SeqIDOffset, newCursor.StartTs)

		if page.HasNext {
			continue // no sleep; drain
		}
		if m.sleep(ctx, m.cfg.NoRecordsSleepInterval) {
			return
		}
	}
}

// sleep waits for d, returning true if the manager was asked to stop.
func (m *Manager) sleep(ctx context.Context, d time.Duration) (stopped bool) {
	select {
	case <-ctx.Done():
		return true
	case <-m.stopCh:
		return true
	case <-time.After(d):
		return false
	}
}

// unixMillisFromUUID derives a timestamp from a time-ordered event UUID. The
// event log store produces UUIDv7s (store/pgevents), whose first 48 bits
// are a big-endian unix-ms timestamp; parsing properly (rather than decoding
// a prefix of hex digits) is required to get the real 48 bits rather than a
// truncated, right-shifted value.
func unixMillisFromUUID(s string) int64 {
	id, err := uuid.Parse(s)
	if err != nil {
		return time.Now().UnixMilli()
	}
	b := id[:6]
	return int64(b[0])<<40 | int64(b[1])<<32 | int64(b[2])<<24 | int64(b[3])<<16 | int64(b[4])<<8 | int64(b[5])
}
