package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/spatialops/importer/modules/ingest/domain/entities/barrier"
	"github.com/spatialops/importer/modules/ingest/domain/entities/dataschema"
	"github.com/spatialops/importer/modules/ingest/domain/entities/execution"
	"github.com/spatialops/importer/modules/ingest/domain/entities/resource"
	"github.com/spatialops/importer/modules/ingest/domain/importerrors"
	"github.com/spatialops/importer/modules/ingest/infrastructure/datastore"
	"github.com/spatialops/importer/modules/ingest/infrastructure/formats"
	"github.com/spatialops/importer/modules/ingest/infrastructure/gdal"
	"github.com/spatialops/importer/modules/ingest/infrastructure/persistence"
	"github.com/spatialops/importer/modules/ingest/tasks"
	"github.com/spatialops/importer/pkg/configuration"
	"github.com/spatialops/importer/pkg/eventbus"
	"github.com/spatialops/importer/pkg/queue"
)

// BulkLoader streams one layer of a source file into the datastore.
type BulkLoader interface {
	Load(ctx context.Context, req gdal.LoadRequest) error
}

// Datastore is the slice of the geodata database the pipeline needs:
// existence checks, publish metadata and rollback drops.
type Datastore interface {
	TableExists(ctx context.Context, table string) (bool, error)
	DropTable(ctx context.Context, table string) error
	TableMetadata(ctx context.Context, table string) (*datastore.TableMetadata, error)
}

// ImportService drives the import pipeline. Every method except Start is
// the body of one task kind; Start is the coordinator. The service owns no
// transaction boundaries, callers decide those.
type ImportService struct {
	executions execution.Repository
	schemas    *SchemaService
	barriers   barrier.Repository
	resources  resource.Repository
	registry   *formats.Registry
	loader     BulkLoader
	store      Datastore
	dispatcher tasks.Dispatcher
	publisher  eventbus.EventBus
	dbName     string
}

func NewImportService(
	executions execution.Repository,
	schemas *SchemaService,
	barriers barrier.Repository,
	resources resource.Repository,
	registry *formats.Registry,
	loader BulkLoader,
	store Datastore,
	dispatcher tasks.Dispatcher,
	publisher eventbus.EventBus,
	dbName string,
) *ImportService {
	return &ImportService{
		executions: executions,
		schemas:    schemas,
		barriers:   barriers,
		resources:  resources,
		registry:   registry,
		loader:     loader,
		store:      store,
		dispatcher: dispatcher,
		publisher:  publisher,
		dbName:     dbName,
	}
}

// Start is the per-execution coordinator. It opens the source, walks its
// layers in order and fans each eligible layer out into field batches plus
// one bulk load, joined by a barrier row. A source that cannot be opened
// or holds no layers fails the whole run before anything is dispatched; a
// layer whose schema cannot be provisioned is logged and skipped without
// touching its siblings.
func (s *ImportService) Start(ctx context.Context, executionID uuid.UUID) error {
	exec, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status().IsTerminal() {
		return nil
	}
	if err := s.executions.SetStatus(ctx, executionID, execution.StatusRunning, "import started"); err != nil {
		return err
	}

	params := exec.InputParams()
	fileset := formats.Fileset{BaseFile: params.BaseFile(), Files: params.Files}

	handler, err := s.registry.Resolve(params.Handler, fileset)
	if err != nil {
		return &importerrors.SourceUnreadable{Path: fileset.BaseFile, Err: err}
	}
	if err := handler.IsValid(fileset); err != nil {
		return &importerrors.SourceUnreadable{Path: fileset.BaseFile, Err: err}
	}
	dataset, err := handler.Open(fileset)
	if err != nil {
		return &importerrors.SourceUnreadable{Path: fileset.BaseFile, Err: err}
	}
	defer func() {
		if cerr := dataset.Close(); cerr != nil {
			configuration.Use().Logger().WithError(cerr).Warn("failed to close dataset")
		}
	}()

	layers := dataset.Layers()
	if len(layers) == 0 {
		return &importerrors.SourceUnreadable{Path: fileset.BaseFile, Err: errors.New("no layers found")}
	}

	if err := s.executions.MergeOutputParams(ctx, executionID, map[string]interface{}{
		"handler": handler.Alias(),
		"layers":  len(layers),
	}); err != nil {
		return err
	}

	dispatched := 0
	aborted := 0
	for i, layer := range layers {
		line := fmt.Sprintf("setting up schema for layer %s: %d%%", layer.Name, (i+1)*100/len(layers))
		if err := s.executions.AppendLog(ctx, executionID, line); err != nil {
			configuration.Use().Logger().WithError(err).Warn("failed to append progress line")
		}

		if params.SkipExistingLayer {
			exists, err := s.schemas.HasSchema(ctx, s.dbName, layer.Name)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
		}

		if err := s.dispatchLayer(ctx, exec, layer, handler); err != nil {
			var provisionErr *importerrors.SchemaProvisioningError
			if errors.As(err, &provisionErr) {
				aborted++
				if lerr := s.executions.AppendLog(ctx, executionID, provisionErr.Error()); lerr != nil {
					configuration.Use().Logger().WithError(lerr).Warn("failed to append provisioning error")
				}
				continue
			}
			return err
		}
		dispatched++
	}

	if dispatched == 0 {
		if aborted > 0 {
			return s.failExecution(ctx, executionID, "no layer could be provisioned")
		}
		return s.succeedExecution(ctx, executionID, "all layers already present, nothing to import")
	}
	return nil
}

// dispatchLayer provisions the layer's schema and fans out its work. The
// barrier starts at batches + 1, counting every field batch plus the bulk
// load.
func (s *ImportService) dispatchLayer(ctx context.Context, exec *execution.Execution, layer formats.Layer, handler formats.Handler) error {
	executionID := exec.ID()
	params := exec.InputParams()
	layerName := strings.ToLower(layer.Name)

	sch, usedAlternate, err := s.schemas.Provision(ctx, executionID, s.dbName, layer.Name, params.OverrideExistingLayer)
	if err != nil {
		return err
	}
	if usedAlternate {
		line := fmt.Sprintf("layer %s already exists, importing as %s", layer.Name, sch.TableName)
		if lerr := s.executions.AppendLog(ctx, executionID, line); lerr != nil {
			configuration.Use().Logger().WithError(lerr).Warn("failed to append alternate line")
		}
	}

	batches := PartitionFields(fieldDefinitions(layer, handler))
	if err := s.barriers.Init(ctx, &barrier.Barrier{
		ExecutionID: executionID,
		LayerName:   layerName,
		TableName:   sch.TableName,
		Pending:     len(batches) + 1,
	}); err != nil {
		return err
	}

	for i, batch := range batches {
		err := s.dispatcher.CreateFields(ctx, tasks.CreateFieldsPayload{
			ExecutionID: executionID,
			Layer:       layerName,
			SchemaID:    sch.ID,
			Alternate:   sch.TableName,
			Overwrite:   params.OverrideExistingLayer,
			Batch:       i,
			Fields:      batch,
		})
		if err != nil {
			return err
		}
	}

	return s.dispatcher.BulkLoad(ctx, tasks.BulkLoadPayload{
		ExecutionID: executionID,
		Layer:       layerName,
		SourceLayer: layer.Name,
		Alternate:   sch.TableName,
		Override:    params.OverrideExistingLayer,
	})
}

// ApplyFields applies one field batch to its schema. The caller wraps it
// in a transaction together with ArriveAndContinue so a failed batch
// leaves no partial fields behind.
func (s *ImportService) ApplyFields(ctx context.Context, p tasks.CreateFieldsPayload) error {
	return s.schemas.ApplyFieldBatch(ctx, p.SchemaID, p.Fields, p.Overwrite)
}

// BulkLoad streams the layer into the datastore. It re-reads the execution
// for the source file so the payload stays small. Runs outside any
// transaction; only the subsequent arrival is transactional.
func (s *ImportService) BulkLoad(ctx context.Context, p tasks.BulkLoadPayload) error {
	exec, err := s.executions.GetByID(ctx, p.ExecutionID)
	if err != nil {
		return err
	}
	err = s.loader.Load(ctx, gdal.LoadRequest{
		BaseFile:  exec.InputParams().BaseFile(),
		LayerName: p.SourceLayer,
		Alternate: p.Alternate,
		Override:  p.Override,
	})
	if err != nil {
		return err
	}
	s.publisher.Publish(execution.LayerImportedEvent{
		ExecutionID: p.ExecutionID,
		LayerName:   p.Layer,
		Alternate:   p.Alternate,
	})
	return nil
}

// ArriveAndContinue records one successful barrier member. The member
// whose decrement reaches zero on an unfailed barrier enqueues the
// continuation; everyone else returns without side effects.
func (s *ImportService) ArriveAndContinue(ctx context.Context, executionID uuid.UUID, layerName, alternate string) error {
	pending, failed, err := s.barriers.Arrive(ctx, executionID, layerName)
	if err != nil {
		return err
	}
	if failed || pending > 0 {
		return nil
	}
	return s.dispatcher.Advance(ctx, tasks.AdvancePayload{
		ExecutionID: executionID,
		Step:        string(execution.StepImport),
		Layer:       layerName,
		Alternate:   alternate,
	})
}

// Advance moves one layer to the step after p.Step. Past the last step the
// layer is marked done, and the layer that leaves nothing unfinished
// closes the run.
func (s *ImportService) Advance(ctx context.Context, p tasks.AdvancePayload) error {
	next, ok := execution.NextStep(execution.Step(p.Step))
	if !ok {
		return s.finishLayer(ctx, p)
	}
	if err := s.executions.SetStep(ctx, p.ExecutionID, next); err != nil {
		return err
	}
	switch next {
	case execution.StepPublish:
		return s.dispatcher.Publish(ctx, tasks.PublishPayload{
			ExecutionID: p.ExecutionID,
			Layer:       p.Layer,
			Alternate:   p.Alternate,
		})
	case execution.StepCreateResource:
		return s.dispatcher.CreateResource(ctx, tasks.CreateResourcePayload{
			ExecutionID: p.ExecutionID,
			Layer:       p.Layer,
			Alternate:   p.Alternate,
		})
	default:
		return fmt.Errorf("no task registered for step %s", next)
	}
}

func (s *ImportService) finishLayer(ctx context.Context, p tasks.AdvancePayload) error {
	if err := s.barriers.MarkDone(ctx, p.ExecutionID, p.Layer); err != nil {
		return err
	}
	left, err := s.barriers.CountUnfinished(ctx, p.ExecutionID)
	if err != nil {
		return err
	}
	if left > 0 {
		return nil
	}
	exec, err := s.executions.GetByID(ctx, p.ExecutionID)
	if err != nil {
		return err
	}
	if exec.Status().IsTerminal() {
		return nil
	}
	return s.succeedExecution(ctx, p.ExecutionID, "import finished")
}

// Publish verifies the loaded table and records its publishable metadata
// on the execution. The metadata lands under a per-table key so layers
// publishing concurrently never clobber each other.
func (s *ImportService) Publish(ctx context.Context, p tasks.PublishPayload) error {
	exists, err := s.store.TableExists(ctx, p.Alternate)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("cannot publish layer %s: table %s does not exist in the datastore", p.Layer, p.Alternate)
	}
	meta, err := s.store.TableMetadata(ctx, p.Alternate)
	if err != nil {
		return err
	}

	entry := map[string]interface{}{"row_count": meta.RowCount}
	if meta.GeometryColumn != "" {
		entry["geometry_type"] = formats.NormalizeGeometryType(meta.GeometryType)
		entry["srid"] = meta.SRID
	}
	err = s.executions.MergeOutputParams(ctx, p.ExecutionID, map[string]interface{}{
		"resource:" + p.Alternate: entry,
	})
	if err != nil {
		return err
	}

	return s.dispatcher.Advance(ctx, tasks.AdvancePayload{
		ExecutionID: p.ExecutionID,
		Step:        string(execution.StepPublish),
		Layer:       p.Layer,
		Alternate:   p.Alternate,
	})
}

// CreateResource registers the layer in the catalog. A retry that finds
// the alternate already registered skips straight to the continuation.
func (s *ImportService) CreateResource(ctx context.Context, p tasks.CreateResourcePayload) error {
	advance := tasks.AdvancePayload{
		ExecutionID: p.ExecutionID,
		Step:        string(execution.StepCreateResource),
		Layer:       p.Layer,
		Alternate:   p.Alternate,
	}

	_, err := s.resources.GetByAlternate(ctx, p.Alternate)
	if err == nil {
		return s.dispatcher.Advance(ctx, advance)
	}
	if !errors.Is(err, persistence.ErrResourceNotFound) {
		return err
	}

	exec, err := s.executions.GetByID(ctx, p.ExecutionID)
	if err != nil {
		return err
	}
	meta, err := s.store.TableMetadata(ctx, p.Alternate)
	if err != nil {
		return err
	}

	res := &resource.Resource{
		ExecutionID: p.ExecutionID,
		Name:        p.Layer,
		Alternate:   p.Alternate,
		Owner:       exec.Owner(),
		RowCount:    &meta.RowCount,
	}
	if alias, ok := exec.OutputParams()["handler"].(string); ok {
		res.Handler = alias
	}
	if meta.GeometryColumn != "" {
		geometryType := formats.NormalizeGeometryType(meta.GeometryType)
		res.GeometryType = &geometryType
		srid := meta.SRID
		res.SRID = &srid
	}

	created, err := s.resources.Create(ctx, res)
	if err != nil {
		return err
	}
	s.publisher.Publish(resource.CreatedEvent{Result: created})

	return s.dispatcher.Advance(ctx, advance)
}

// Rollback undoes a failed layer: drop the loaded table, then delete the
// schema record. Both steps are best effort; a failed drop is logged and
// the record is deleted anyway, which can orphan the physical table.
func (s *ImportService) Rollback(ctx context.Context, p tasks.RollbackPayload) error {
	log := configuration.Use().Logger()

	sch, err := s.schemas.ByTableName(ctx, s.dbName, p.TableName)
	if errors.Is(err, persistence.ErrSchemaNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.store.DropTable(ctx, p.TableName); err != nil {
		log.WithError(&importerrors.RollbackFailure{Table: p.TableName, Err: err}).
			Error("failed to drop table during rollback")
	}
	if err := s.schemas.Remove(ctx, sch.ID); err != nil {
		log.WithError(&importerrors.RollbackFailure{Table: p.TableName, Err: err}).
			Error("failed to delete schema record during rollback")
		return nil
	}

	s.publisher.Publish(execution.RolledBackEvent{
		ExecutionID: p.ExecutionID,
		LayerName:   p.Layer,
		TableName:   p.TableName,
	})
	return nil
}

// HandleDeadTask runs when a task exhausts its attempts. Failed barrier
// members elect a rollback through the failed flag; every dead task marks
// the execution failed with the task's reason.
func (s *ImportService) HandleDeadTask(ctx context.Context, task queue.DispatchedTask, cause error) {
	log := configuration.Use().Logger()
	reason := fmt.Sprintf("Task FAILED with ID: %s, reason: %v", task.Meta.TaskID, cause)

	switch task.Meta.Kind {
	case tasks.KindCreateFields:
		var p tasks.CreateFieldsPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			log.WithError(err).Error("failed to decode dead field batch payload")
			return
		}
		s.failMember(ctx, p.ExecutionID, p.Layer, p.Alternate, reason)
	case tasks.KindBulkLoad:
		var p tasks.BulkLoadPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			log.WithError(err).Error("failed to decode dead bulk load payload")
			return
		}
		s.failMember(ctx, p.ExecutionID, p.Layer, p.Alternate, reason)
	case tasks.KindImportResource:
		var p tasks.ImportResourcePayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			log.WithError(err).Error("failed to decode dead coordinator payload")
			return
		}
		if err := s.failExecution(ctx, p.ExecutionID, reason); err != nil {
			log.WithError(err).Error("failed to fail execution")
		}
	case tasks.KindAdvance, tasks.KindPublish, tasks.KindCreateResource:
		var p struct {
			ExecutionID uuid.UUID `json:"execution_id"`
		}
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			log.WithError(err).Error("failed to decode dead task payload")
			return
		}
		if err := s.failExecution(ctx, p.ExecutionID, reason); err != nil {
			log.WithError(err).Error("failed to fail execution")
		}
	case tasks.KindRollback:
		log.WithField("task_id", task.Meta.TaskID).WithError(cause).
			Error("rollback task died, leftover table may remain")
	default:
		log.WithField("kind", task.Meta.Kind).WithError(cause).Error("unknown dead task kind")
	}
}

// failMember flips the layer's barrier into the failed state. The CAS
// winner owns dispatching the rollback, so concurrent member failures
// roll back exactly once.
func (s *ImportService) failMember(ctx context.Context, executionID uuid.UUID, layerName, tableName, reason string) {
	log := configuration.Use().Logger()

	won, err := s.barriers.MarkFailed(ctx, executionID, layerName)
	if err != nil {
		log.WithError(err).Error("failed to mark barrier failed")
	}
	if won {
		err := s.dispatcher.Rollback(ctx, tasks.RollbackPayload{
			ExecutionID: executionID,
			Layer:       layerName,
			TableName:   tableName,
		})
		if err != nil {
			log.WithError(err).Error("failed to enqueue rollback")
		}
	}
	if err := s.failExecution(ctx, executionID, reason); err != nil {
		log.WithError(err).Error("failed to fail execution")
	}
}

func (s *ImportService) failExecution(ctx context.Context, executionID uuid.UUID, reason string) error {
	if err := s.executions.SetStatus(ctx, executionID, execution.StatusFailed, reason); err != nil {
		return err
	}
	s.publisher.Publish(execution.StatusChangedEvent{
		ExecutionID: executionID,
		Status:      execution.StatusFailed,
		Reason:      reason,
	})
	return nil
}

func (s *ImportService) succeedExecution(ctx context.Context, executionID uuid.UUID, reason string) error {
	if err := s.executions.SetStatus(ctx, executionID, execution.StatusSucceeded, reason); err != nil {
		return err
	}
	s.publisher.Publish(execution.StatusChangedEvent{
		ExecutionID: executionID,
		Status:      execution.StatusSucceeded,
		Reason:      reason,
	})
	return nil
}

// fieldDefinitions maps a layer's source fields through the handler's
// class table, appending the synthesized geometry field when the layer
// carries one. Unmappable source types produce an empty class on purpose,
// it is the batch task's job to reject them.
func fieldDefinitions(layer formats.Layer, handler formats.Handler) []dataschema.FieldDefinition {
	defs := make([]dataschema.FieldDefinition, 0, len(layer.Fields)+1)
	for _, f := range layer.Fields {
		def := dataschema.FieldDefinition{Name: strings.ToLower(f.Name)}
		if class, ok := handler.FieldClass(f.SourceType); ok {
			def.Class = string(class)
		}
		defs = append(defs, def)
	}
	if layer.GeometryColumn != "" {
		defs = append(defs, dataschema.FieldDefinition{
			Name:         strings.ToLower(layer.GeometryColumn),
			Class:        string(dataschema.ClassGeometry),
			GeometryType: formats.NormalizeGeometryType(layer.GeometryType),
		})
	}
	return defs
}
