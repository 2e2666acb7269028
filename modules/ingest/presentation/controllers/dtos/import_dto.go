// Package dtos carries the request payloads of the import API. Validation
// messages come from the validator's English translation set.
package dtos

import (
	"github.com/spatialops/importer/modules/ingest/domain/entities/execution"
	"github.com/spatialops/importer/pkg/shared"
)

// CreateImportDTO is the non-file part of the upload form. Handler is
// optional; an empty value selects the handler by detection.
type CreateImportDTO struct {
	OverrideExistingLayer bool   `form:"override_existing_layer"`
	SkipExistingLayer     bool   `form:"skip_existing_layer"`
	StoreSpatialFiles     bool   `form:"store_spatial_files"`
	Handler               string `form:"handler" validate:"omitempty,oneof=gpkg csv xlsx"`
}

func (d *CreateImportDTO) Ok() (map[string]string, bool) {
	return shared.Validate(d)
}

// ToInputParams assembles the immutable input record from the validated
// form and the stored fileset.
func (d *CreateImportDTO) ToInputParams(files, checksums map[string]string) execution.InputParams {
	return execution.InputParams{
		Files:                 files,
		Checksums:             checksums,
		OverrideExistingLayer: d.OverrideExistingLayer,
		SkipExistingLayer:     d.SkipExistingLayer,
		StoreSpatialFiles:     d.StoreSpatialFiles,
		Handler:               d.Handler,
	}
}

// ListImportsDTO narrows the imports listing.
type ListImportsDTO struct {
	Status string `form:"status" validate:"omitempty,oneof=pending running succeeded failed"`
	Query  string `form:"q"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=500"`
	Offset int    `form:"offset" validate:"omitempty,min=0"`
}

func (d *ListImportsDTO) Ok() (map[string]string, bool) {
	return shared.Validate(d)
}

// ToFindParams converts the DTO into repository find params, applying the
// default page size.
func (d *ListImportsDTO) ToFindParams() *execution.FindParams {
	params := &execution.FindParams{
		Limit:  d.Limit,
		Offset: d.Offset,
	}
	if params.Limit == 0 {
		params.Limit = 50
	}
	if d.Status != "" {
		status := execution.Status(d.Status)
		params.Status = &status
	}
	return params
}
