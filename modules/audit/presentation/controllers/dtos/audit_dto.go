// Package dtos carries the request payloads of the audit API.
package dtos

import (
	"github.com/google/uuid"

	"github.com/spatialops/importer/modules/audit/domain/entities/auditlog"
	"github.com/spatialops/importer/pkg/shared"
)

// ListAuditDTO narrows the audit trail listing.
type ListAuditDTO struct {
	ExecutionID string `form:"execution_id" validate:"omitempty,uuid"`
	Event       string `form:"event" validate:"omitempty,oneof=execution.created execution.status_changed layer.imported resource.created layer.rolled_back"`
	Limit       int    `form:"limit" validate:"omitempty,min=1,max=500"`
	Offset      int    `form:"offset" validate:"omitempty,min=0"`
}

func (d *ListAuditDTO) Ok() (map[string]string, bool) {
	return shared.Validate(d)
}

func (d *ListAuditDTO) ToFindParams() (*auditlog.FindParams, error) {
	params := &auditlog.FindParams{
		Event:  d.Event,
		Limit:  d.Limit,
		Offset: d.Offset,
	}
	if params.Limit == 0 {
		params.Limit = 50
	}
	if d.ExecutionID != "" {
		id, err := uuid.Parse(d.ExecutionID)
		if err != nil {
			return nil, err
		}
		params.ExecutionID = &id
	}
	return params, nil
}
