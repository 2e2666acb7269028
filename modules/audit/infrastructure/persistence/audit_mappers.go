package persistence

import (
	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/spatialops/importer/modules/audit/domain/entities/auditlog"
	"github.com/spatialops/importer/modules/audit/infrastructure/persistence/models"
)

func toDomainAuditLog(m *models.AuditLog) (*auditlog.AuditLog, error) {
	entry := &auditlog.AuditLog{
		ID:        m.ID,
		Event:     m.Event,
		Message:   m.Message,
		Payload:   m.Payload,
		CreatedAt: m.CreatedAt,
	}
	if m.ExecutionID.Valid {
		id, err := uuid.Parse(m.ExecutionID.String)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse audit execution id")
		}
		entry.ExecutionID = &id
	}
	return entry, nil
}
