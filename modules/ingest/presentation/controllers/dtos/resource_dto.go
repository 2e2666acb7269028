package dtos

import (
	"github.com/google/uuid"

	"github.com/spatialops/importer/modules/ingest/domain/entities/resource"
	"github.com/spatialops/importer/pkg/shared"
)

// ListResourcesDTO narrows the catalog listing.
type ListResourcesDTO struct {
	ExecutionID string `form:"execution_id" validate:"omitempty,uuid"`
	Query       string `form:"q"`
	Limit       int    `form:"limit" validate:"omitempty,min=1,max=500"`
	Offset      int    `form:"offset" validate:"omitempty,min=0"`
}

func (d *ListResourcesDTO) Ok() (map[string]string, bool) {
	return shared.Validate(d)
}

func (d *ListResourcesDTO) ToFindParams() (*resource.FindParams, error) {
	params := &resource.FindParams{
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
