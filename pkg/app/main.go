package app

import (
	"github.com/edgesync/syncmanager/pkg/cache"
	"github.com/edgesync/syncmanager/pkg/database"
	"github.com/edgesync/syncmanager/pkg/events"
	"github.com/edgesync/syncmanager/pkg/logger"
	"github.com/edgesync/syncmanager/pkg/workflows"
)

// Application holds shared infrastructure dependencies wired once at startup
// and handed to the edge sync manager's constructors.
//
// Logging: app.Logger is backed by a trace-aware handler — use slog's context methods
// and trace_id, span_id, and session_id are injected automatically:
//
//	app.Logger.InfoContext(ctx, "uplink batch sent", "batch_size", n)
//	app.Logger.ErrorContext(ctx, "failed to persist cursor", "error", err)
//
// Use app.Logger.Info/Error (no context) only for startup and shutdown messages.
type Application struct {
	Db             *database.Database // event log Postgres pool
	Logger         logger.Logger
	EventBus       *events.EventBus // ingestion bus feeding the event log
	Redis          *cache.RedisClient // backs the attribute/cursor store
	TemporalClient *workflows.TemporalClient // handshake reconciliation workflows
}
