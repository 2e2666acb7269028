// Package tasks defines the queue vocabulary of the ingest pipeline:
// task kinds, queue names, payload shapes and the retry budget of each
// kind. Services depend on the Dispatcher interface only, so tests can
// record dispatches without a database.
package tasks

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spatialops/importer/modules/ingest/domain/entities/dataschema"
)

const (
	// QueueDefault carries orchestration tasks: the coordinator, step
	// advancement, publication and catalog registration.
	QueueDefault = "importer"
	// QueueLoad carries the heavy per-layer work so a slow bulk load
	// never starves orchestration.
	QueueLoad = "importer.load"
)

const (
	KindImportResource = "ingest.import_resource"
	KindCreateFields   = "ingest.create_fields"
	KindBulkLoad       = "ingest.bulk_load"
	KindAdvance        = "ingest.advance"
	KindPublish        = "ingest.publish"
	KindCreateResource = "ingest.create_resource"
	KindRollback       = "ingest.rollback"
)

// taskNamespace seeds the deterministic task IDs. A handler that dies
// after enqueueing its follow-up re-enqueues the same ID on retry and
// the queue collapses it into the original row.
var taskNamespace = uuid.MustParse("b1f8f5e6-55a1-4f3c-9c55-2f8f0cf7a9d4")

func deterministicID(parts ...string) uuid.UUID {
	data := make([]byte, 0, 64)
	for i, part := range parts {
		if i > 0 {
			data = append(data, '/')
		}
		data = append(data, part...)
	}
	return uuid.NewSHA1(taskNamespace, data)
}

// Table returns the queue table the ingest pipeline runs on.
func Table() pgx.Identifier {
	return pgx.Identifier{"ingest_tasks"}
}

type ImportResourcePayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
}

type CreateFieldsPayload struct {
	ExecutionID uuid.UUID                    `json:"execution_id"`
	Layer       string                       `json:"layer"`
	SchemaID    int64                        `json:"schema_id"`
	Alternate   string                       `json:"alternate"`
	Overwrite   bool                         `json:"overwrite"`
	Batch       int                          `json:"batch"`
	Fields      []dataschema.FieldDefinition `json:"fields"`
}

type BulkLoadPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	// Layer is the lowered name the barrier and schema are keyed by.
	Layer string `json:"layer"`
	// SourceLayer is the name the layer carries inside the source file,
	// which ogr2ogr needs verbatim.
	SourceLayer string `json:"source_layer"`
	Alternate   string `json:"alternate"`
	Override    bool   `json:"override"`
}

type AdvancePayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	Step        string    `json:"step"`
	Layer       string    `json:"layer"`
	Alternate   string    `json:"alternate"`
}

type PublishPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	Layer       string    `json:"layer"`
	Alternate   string    `json:"alternate"`
}

type CreateResourcePayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	Layer       string    `json:"layer"`
	Alternate   string    `json:"alternate"`
}

type RollbackPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	Layer       string    `json:"layer"`
	TableName   string    `json:"table_name"`
}

func importResourceID(p ImportResourcePayload) uuid.UUID {
	return deterministicID(KindImportResource, p.ExecutionID.String())
}

func createFieldsID(p CreateFieldsPayload) uuid.UUID {
	return deterministicID(KindCreateFields, p.ExecutionID.String(), p.Layer, strconv.Itoa(p.Batch))
}

func bulkLoadID(p BulkLoadPayload) uuid.UUID {
	return deterministicID(KindBulkLoad, p.ExecutionID.String(), p.Layer)
}

func advanceID(p AdvancePayload) uuid.UUID {
	return deterministicID(KindAdvance, p.ExecutionID.String(), p.Step, p.Layer)
}

func publishID(p PublishPayload) uuid.UUID {
	return deterministicID(KindPublish, p.ExecutionID.String(), p.Layer)
}

func createResourceID(p CreateResourcePayload) uuid.UUID {
	return deterministicID(KindCreateResource, p.ExecutionID.String(), p.Layer)
}

func rollbackID(p RollbackPayload) uuid.UUID {
	return deterministicID(KindRollback, p.ExecutionID.String(), p.Layer)
}
