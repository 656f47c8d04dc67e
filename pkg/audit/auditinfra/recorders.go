// Package auditinfra provides the audit recorders: a durable append-only
// table and a structured-log mirror for operational visibility.
package auditinfra

import (
	"context"
	"time"

	"github.com/aimemory/platform/pkg/audit"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/aimemory/platform/pkg/storage"
	"github.com/google/uuid"
)

const auditTable = "audit_logs"

// BackendAuditRecorder appends audit rows through the storage adapter.
// Rows are write-once; nothing in the platform updates or deletes them.
type BackendAuditRecorder struct {
	backend storage.Backend
}

func NewBackendAuditRecorder(backend storage.Backend) *BackendAuditRecorder {
	return &BackendAuditRecorder{backend: backend}
}

func (r *BackendAuditRecorder) Record(ctx context.Context, event audit.Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	row := storage.Row{
		ID: uuid.NewString(),
		Fields: map[string]any{
			"actor_email":    event.ActorEmail,
			"actor_user_id":  event.ActorUserID.String(),
			"action":         event.Action,
			"resource":       event.Resource,
			"old_value_hash": event.OldValueHash,
			"new_value_hash": event.NewValueHash,
			"ip":             event.IP,
			"user_agent":     event.UserAgent,
			"metadata":       event.Metadata,
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	if err := r.backend.Put(ctx, auditTable, row.ID, row); err != nil {
		// Audit persistence must never fail the caller's request.
		logx.WithError(err).Error("audit: failed to persist event")
	}
}

// LogxAuditRecorder mirrors audit events into the structured log.
type LogxAuditRecorder struct{}

func NewLogxAuditRecorder() *LogxAuditRecorder {
	return &LogxAuditRecorder{}
}

func (LogxAuditRecorder) Record(_ context.Context, event audit.Event) {
	logx.WithFields(logx.Fields{
		"audit_event":   event.Action,
		"actor_user_id": event.ActorUserID,
		"actor_email":   event.ActorEmail,
		"resource":      event.Resource,
		"ip":            event.IP,
		"user_agent":    event.UserAgent,
		"timestamp":     time.Now(),
	}).Info("Audit: " + event.Action)
}
