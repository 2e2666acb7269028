package models

import (
	"database/sql"
	"time"
)

type AuditLog struct {
	ID          int64
	ExecutionID sql.NullString
	Event       string
	Message     string
	Payload     []byte
	CreatedAt   time.Time
}
