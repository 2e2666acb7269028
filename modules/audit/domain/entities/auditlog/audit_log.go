package auditlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event names as they appear in the trail.
const (
	EventExecutionCreated = "execution.created"
	EventStatusChanged    = "execution.status_changed"
	EventLayerImported    = "layer.imported"
	EventResourceCreated  = "resource.created"
	EventLayerRolledBack  = "layer.rolled_back"
)

// AuditLog is one recorded pipeline event. ExecutionID is nil for events
// that are not tied to a single run.
type AuditLog struct {
	ID          int64
	ExecutionID *uuid.UUID
	Event       string
	Message     string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

type FindParams struct {
	ExecutionID *uuid.UUID
	Event       string
	Limit       int
	Offset      int
}

type Repository interface {
	Create(ctx context.Context, entry *AuditLog) error
	List(ctx context.Context, params *FindParams) ([]*AuditLog, error)
	Count(ctx context.Context, params *FindParams) (int64, error)
}
