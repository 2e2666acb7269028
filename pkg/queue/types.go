package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Task is the unit placed on a queue. ID doubles as the idempotency key, so
// re-enqueueing the same ID is a no-op returning the original sequence.
type Task struct {
	ID          uuid.UUID
	Queue       string
	Kind        string
	Payload     json.RawMessage
	MaxAttempts int
	AvailableAt time.Time
}

// Meta is the stable dispatch metadata (identity + retry accounting).
type Meta struct {
	Table       pgx.Identifier
	Queue       string
	Kind        string
	TaskID      uuid.UUID
	Sequence    int64
	Attempts    int
	MaxAttempts int
}

// DispatchedTask is the unit delivered by Worker to a Handler.
type DispatchedTask struct {
	Meta    Meta
	Payload json.RawMessage
}
