package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/spatialops/importer/modules/ingest/domain/entities/dataschema"
	"github.com/spatialops/importer/modules/ingest/domain/importerrors"
	"github.com/spatialops/importer/modules/ingest/infrastructure/persistence"
)

// maxIdentifierLength is the Postgres identifier limit a disambiguated
// table name must fit into.
const maxIdentifierLength = 63

const (
	fieldBatchSize = 30
	textMaxLength  = 255
)

type SchemaService struct {
	repo dataschema.Repository
}

func NewSchemaService(repo dataschema.Repository) *SchemaService {
	return &SchemaService{repo: repo}
}

// Provision resolves or creates the schema record a layer will be loaded
// into. A collision with an existing record is resolved by reusing it when
// override is set and by retrying under an execution-scoped alternate name
// otherwise. usedAlternate reports which name won.
func (s *SchemaService) Provision(
	ctx context.Context,
	executionID uuid.UUID,
	dbName, layerName string,
	override bool,
) (*dataschema.Schema, bool, error) {
	// Managed stays false: the physical table is created by the bulk
	// loader, the record only describes it.
	name := strings.ToLower(layerName)
	sch, created, err := s.repo.GetOrCreate(ctx, &dataschema.Schema{
		Name:      name,
		DBName:    dbName,
		TableName: name,
	})
	if err != nil {
		return nil, false, &importerrors.SchemaProvisioningError{Layer: layerName, Err: err}
	}
	if created || override {
		return sch, false, nil
	}

	alternate := AlternateName(name, executionID)
	sch, _, err = s.repo.GetOrCreate(ctx, &dataschema.Schema{
		Name:      alternate,
		DBName:    dbName,
		TableName: alternate,
	})
	if err != nil {
		return nil, false, &importerrors.SchemaProvisioningError{Layer: layerName, Err: err}
	}
	return sch, true, nil
}

// AlternateName derives the collision-free name for a layer by suffixing
// the execution id, with hyphens flattened to underscores so the result
// stays a plain identifier.
func AlternateName(name string, executionID uuid.UUID) string {
	alternate := name + "_" + strings.ReplaceAll(executionID.String(), "-", "_")
	runes := []rune(alternate)
	if len(runes) > maxIdentifierLength {
		alternate = string(runes[:maxIdentifierLength])
	}
	return alternate
}

// HasSchema reports whether a schema with the layer's name already exists
// in the given datastore. It never creates anything.
func (s *SchemaService) HasSchema(ctx context.Context, dbName, layerName string) (bool, error) {
	_, err := s.repo.GetByName(ctx, dbName, strings.ToLower(layerName))
	if errors.Is(err, persistence.ErrSchemaNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ByTableName looks up the schema record owning a physical table.
func (s *SchemaService) ByTableName(ctx context.Context, dbName, tableName string) (*dataschema.Schema, error) {
	return s.repo.GetByTableName(ctx, dbName, tableName)
}

// Remove deletes a schema record; its field records cascade.
func (s *SchemaService) Remove(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// ListFields returns the field records of a schema in creation order.
func (s *SchemaService) ListFields(ctx context.Context, schemaID int64) ([]*dataschema.Field, error) {
	return s.repo.ListFields(ctx, schemaID)
}

// ApplyFieldBatch applies one batch of field definitions to a schema. The
// whole batch is validated before anything is written, so an invalid
// definition leaves no partial state behind. With overwrite set, fields
// already present under the schema are updated in place and only the
// remainder is inserted.
func (s *SchemaService) ApplyFieldBatch(
	ctx context.Context,
	schemaID int64,
	defs []dataschema.FieldDefinition,
	overwrite bool,
) error {
	if _, err := s.repo.GetByID(ctx, schemaID); err != nil {
		return err
	}

	fields := make([]*dataschema.Field, 0, len(defs))
	for _, def := range defs {
		f, err := buildField(schemaID, def)
		if err != nil {
			return err
		}
		fields = append(fields, f)
	}

	if !overwrite {
		return s.repo.CreateFields(ctx, fields)
	}

	toInsert := make([]*dataschema.Field, 0, len(fields))
	for _, f := range fields {
		existed, err := s.repo.UpdateFieldByName(ctx, f)
		if err != nil {
			return err
		}
		if !existed {
			toInsert = append(toInsert, f)
		}
	}
	if len(toInsert) == 0 {
		return nil
	}
	return s.repo.CreateFields(ctx, toInsert)
}

func buildField(schemaID int64, def dataschema.FieldDefinition) (*dataschema.Field, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, &importerrors.InvalidFieldDefinition{Field: def.Name, Reason: "missing name"}
	}
	class := dataschema.FieldClass(def.Class)
	if !class.IsValid() {
		return nil, &importerrors.InvalidFieldDefinition{
			Field:  def.Name,
			Reason: fmt.Sprintf("unresolvable class %q", def.Class),
		}
	}

	f := &dataschema.Field{
		SchemaID: schemaID,
		Name:     def.Name,
		Class:    class,
		Nullable: true,
	}
	if class == dataschema.ClassText {
		maxLength := textMaxLength
		f.MaxLength = &maxLength
	}
	if class == dataschema.ClassGeometry && def.GeometryType != "" {
		geometryType := def.GeometryType
		f.GeometryType = &geometryType
	}
	return f, nil
}

// PartitionFields splits a layer's field list into contiguous batches
// small enough for one fan-out task each.
func PartitionFields(defs []dataschema.FieldDefinition) [][]dataschema.FieldDefinition {
	if len(defs) == 0 {
		return nil
	}
	batches := make([][]dataschema.FieldDefinition, 0, (len(defs)+fieldBatchSize-1)/fieldBatchSize)
	for start := 0; start < len(defs); start += fieldBatchSize {
		end := start + fieldBatchSize
		if end > len(defs) {
			end = len(defs)
		}
		batches = append(batches, defs[start:end])
	}
	return batches
}
