package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatialops/importer/modules/ingest/domain/entities/barrier"
	"github.com/spatialops/importer/modules/ingest/domain/entities/dataschema"
	"github.com/spatialops/importer/modules/ingest/domain/entities/execution"
	"github.com/spatialops/importer/modules/ingest/domain/entities/resource"
	"github.com/spatialops/importer/modules/ingest/domain/importerrors"
	"github.com/spatialops/importer/modules/ingest/infrastructure/datastore"
	"github.com/spatialops/importer/modules/ingest/infrastructure/formats"
	"github.com/spatialops/importer/modules/ingest/tasks"
	"github.com/spatialops/importer/pkg/eventbus"
	"github.com/spatialops/importer/pkg/queue"
)

type importFixture struct {
	executions *executionRepoFake
	schemas    *schemaRepoFake
	barriers   *barrierRepoFake
	resources  *resourceRepoFake
	dispatcher *recordingDispatcher
	loader     *loaderFake
	store      *datastoreFake
	bus        eventbus.EventBus
	svc        *ImportService
}

func newImportFixture(handler formats.Handler, execs ...*execution.Execution) *importFixture {
	f := &importFixture{
		executions: newExecutionRepoFake(execs...),
		schemas:    newSchemaRepoFake(),
		barriers:   newBarrierRepoFake(),
		resources:  newResourceRepoFake(),
		dispatcher: &recordingDispatcher{},
		loader:     &loaderFake{},
		store:      newDatastoreFake(),
		bus:        eventbus.NewEventPublisher(logrus.New()),
	}
	registry := formats.NewRegistry()
	if handler != nil {
		registry = formats.NewRegistry(handler)
	}
	f.svc = NewImportService(
		f.executions,
		NewSchemaService(f.schemas),
		f.barriers,
		f.resources,
		registry,
		f.loader,
		f.store,
		f.dispatcher,
		f.bus,
		"geodata",
	)
	return f
}

func testExecution(params execution.InputParams, opts ...execution.Option) *execution.Execution {
	if params.Files == nil {
		params.Files = map[string]string{"base_file": "/uploads/rivers.gpkg"}
	}
	return execution.New("carol", params, opts...)
}

func gpkgFixtureHandler() fixedHandler {
	return fixedHandler{
		alias: "gpkg",
		layers: []formats.Layer{
			{
				Name:           "Rivers",
				GeometryColumn: "geom",
				GeometryType:   "MultiLineString",
				SRID:           4326,
				Fields: []formats.FieldDescriptor{
					{Name: "Name", SourceType: "TEXT"},
					{Name: "discharge", SourceType: "DOUBLE"},
				},
			},
			{
				Name:   "Census",
				Fields: []formats.FieldDescriptor{{Name: "population", SourceType: "INTEGER"}},
			},
		},
		classes: map[string]dataschema.FieldClass{
			"TEXT":    dataschema.ClassText,
			"DOUBLE":  dataschema.ClassFloat,
			"INTEGER": dataschema.ClassBigInt,
		},
	}
}

func TestImportService_Start_FansOutLayers(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(gpkgFixtureHandler(), exec)

	require.NoError(t, f.svc.Start(context.Background(), exec.ID()))

	require.Len(t, f.executions.statuses, 1)
	assert.Equal(t, statusCall{status: execution.StatusRunning, reason: "import started"}, f.executions.statuses[0])

	require.NotEmpty(t, f.executions.merges)
	assert.Equal(t, map[string]interface{}{"handler": "gpkg", "layers": 2}, f.executions.merges[0])

	assert.Contains(t, f.executions.logLines, "setting up schema for layer Rivers: 50%")
	assert.Contains(t, f.executions.logLines, "setting up schema for layer Census: 100%")

	require.Len(t, f.dispatcher.fieldBatches, 2)
	rivers := f.dispatcher.fieldBatches[0]
	assert.Equal(t, "rivers", rivers.Layer)
	assert.Equal(t, "rivers", rivers.Alternate)
	assert.False(t, rivers.Overwrite)
	assert.Equal(t, []dataschema.FieldDefinition{
		{Name: "name", Class: "text"},
		{Name: "discharge", Class: "float"},
		{Name: "geom", Class: "geometry", GeometryType: "MultiLineString"},
	}, rivers.Fields)

	require.Len(t, f.dispatcher.bulkLoads, 2)
	assert.Equal(t, tasks.BulkLoadPayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		SourceLayer: "Rivers",
		Alternate:   "rivers",
	}, f.dispatcher.bulkLoads[0])

	riversBarrier, err := f.barriers.Get(context.Background(), exec.ID(), "rivers")
	require.NoError(t, err)
	// one field batch plus the bulk load
	assert.Equal(t, 2, riversBarrier.Pending)
	assert.Equal(t, "rivers", riversBarrier.TableName)
}

func TestImportService_Start_UnknownFormat(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)

	err := f.svc.Start(context.Background(), exec.ID())

	var unreadable *importerrors.SourceUnreadable
	require.ErrorAs(t, err, &unreadable)
	assert.Equal(t, "/uploads/rivers.gpkg", unreadable.Path)
	assert.Empty(t, f.dispatcher.fieldBatches)
	assert.Empty(t, f.dispatcher.bulkLoads)
}

func TestImportService_Start_InvalidSource(t *testing.T) {
	handler := gpkgFixtureHandler()
	handler.validErr = errors.New("missing header")
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(handler, exec)

	err := f.svc.Start(context.Background(), exec.ID())

	var unreadable *importerrors.SourceUnreadable
	require.ErrorAs(t, err, &unreadable)
	assert.Empty(t, f.dispatcher.bulkLoads)
}

func TestImportService_Start_NoLayers(t *testing.T) {
	handler := gpkgFixtureHandler()
	handler.layers = nil
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(handler, exec)

	err := f.svc.Start(context.Background(), exec.ID())

	var unreadable *importerrors.SourceUnreadable
	require.ErrorAs(t, err, &unreadable)
	assert.Contains(t, err.Error(), "no layers")
}

func TestImportService_Start_TerminalExecutionIsNoop(t *testing.T) {
	exec := testExecution(execution.InputParams{}, execution.WithStatus(execution.StatusSucceeded))
	f := newImportFixture(gpkgFixtureHandler(), exec)

	require.NoError(t, f.svc.Start(context.Background(), exec.ID()))

	assert.Empty(t, f.executions.statuses)
	assert.Empty(t, f.dispatcher.bulkLoads)
}

func TestImportService_Start_SkipsExistingLayer(t *testing.T) {
	exec := testExecution(execution.InputParams{SkipExistingLayer: true})
	f := newImportFixture(gpkgFixtureHandler(), exec)
	f.schemas.seed(&dataschema.Schema{Name: "rivers", DBName: "geodata", TableName: "rivers"})

	require.NoError(t, f.svc.Start(context.Background(), exec.ID()))

	require.Len(t, f.dispatcher.bulkLoads, 1)
	assert.Equal(t, "census", f.dispatcher.bulkLoads[0].Layer)
	for _, batch := range f.dispatcher.fieldBatches {
		assert.Equal(t, "census", batch.Layer)
	}
}

func TestImportService_Start_AllLayersSkipped(t *testing.T) {
	exec := testExecution(execution.InputParams{SkipExistingLayer: true})
	f := newImportFixture(gpkgFixtureHandler(), exec)
	f.schemas.seed(&dataschema.Schema{Name: "rivers", DBName: "geodata", TableName: "rivers"})
	f.schemas.seed(&dataschema.Schema{Name: "census", DBName: "geodata", TableName: "census"})

	require.NoError(t, f.svc.Start(context.Background(), exec.ID()))

	assert.Empty(t, f.dispatcher.bulkLoads)
	require.NotEmpty(t, f.executions.statuses)
	last := f.executions.statuses[len(f.executions.statuses)-1]
	assert.Equal(t, execution.StatusSucceeded, last.status)
	assert.Equal(t, "all layers already present, nothing to import", last.reason)
}

func TestImportService_Start_ProvisioningFailureAbortsLayerOnly(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(gpkgFixtureHandler(), exec)
	f.schemas.getOrCreateErr["rivers"] = errors.New("disk full")

	require.NoError(t, f.svc.Start(context.Background(), exec.ID()))

	require.Len(t, f.dispatcher.bulkLoads, 1)
	assert.Equal(t, "census", f.dispatcher.bulkLoads[0].Layer)

	found := false
	for _, line := range f.executions.logLines {
		if line == "provisioning schema for layer Rivers: disk full" {
			found = true
		}
	}
	assert.True(t, found, "expected the provisioning error in the log, got %v", f.executions.logLines)

	for _, s := range f.executions.statuses {
		assert.NotEqual(t, execution.StatusFailed, s.status)
	}
}

func TestImportService_Start_AllLayersFailProvisioning(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(gpkgFixtureHandler(), exec)
	f.schemas.getOrCreateErr["rivers"] = errors.New("disk full")
	f.schemas.getOrCreateErr["census"] = errors.New("disk full")

	require.NoError(t, f.svc.Start(context.Background(), exec.ID()))

	last := f.executions.statuses[len(f.executions.statuses)-1]
	assert.Equal(t, execution.StatusFailed, last.status)
	assert.Equal(t, "no layer could be provisioned", last.reason)
}

func TestImportService_Start_OverrideKeepsName(t *testing.T) {
	exec := testExecution(execution.InputParams{OverrideExistingLayer: true})
	f := newImportFixture(gpkgFixtureHandler(), exec)
	prior := f.schemas.seed(&dataschema.Schema{Name: "rivers", DBName: "geodata", TableName: "rivers"})

	require.NoError(t, f.svc.Start(context.Background(), exec.ID()))

	require.Len(t, f.dispatcher.bulkLoads, 2)
	assert.Equal(t, "rivers", f.dispatcher.bulkLoads[0].Alternate)
	assert.True(t, f.dispatcher.bulkLoads[0].Override)
	assert.Equal(t, prior.ID, f.dispatcher.fieldBatches[0].SchemaID)
	assert.True(t, f.dispatcher.fieldBatches[0].Overwrite)
}

func TestImportService_Start_CollisionUsesAlternate(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(gpkgFixtureHandler(), exec)
	f.schemas.seed(&dataschema.Schema{Name: "rivers", DBName: "geodata", TableName: "rivers"})

	require.NoError(t, f.svc.Start(context.Background(), exec.ID()))

	want := AlternateName("rivers", exec.ID())
	assert.Equal(t, want, f.dispatcher.bulkLoads[0].Alternate)
	assert.False(t, f.dispatcher.bulkLoads[0].Override)

	found := false
	for _, line := range f.executions.logLines {
		if line == fmt.Sprintf("layer Rivers already exists, importing as %s", want) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestImportService_ArriveAndContinue(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)
	require.NoError(t, f.barriers.Init(context.Background(), &barrier.Barrier{
		ExecutionID: exec.ID(),
		LayerName:   "rivers",
		TableName:   "rivers",
		Pending:     2,
	}))

	require.NoError(t, f.svc.ArriveAndContinue(context.Background(), exec.ID(), "rivers", "rivers"))
	assert.Empty(t, f.dispatcher.advances)

	require.NoError(t, f.svc.ArriveAndContinue(context.Background(), exec.ID(), "rivers", "rivers"))
	require.Len(t, f.dispatcher.advances, 1)
	assert.Equal(t, tasks.AdvancePayload{
		ExecutionID: exec.ID(),
		Step:        string(execution.StepImport),
		Layer:       "rivers",
		Alternate:   "rivers",
	}, f.dispatcher.advances[0])
}

func TestImportService_ArriveAndContinue_FailedBarrierNeverFires(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)
	require.NoError(t, f.barriers.Init(context.Background(), &barrier.Barrier{
		ExecutionID: exec.ID(),
		LayerName:   "rivers",
		TableName:   "rivers",
		Pending:     1,
	}))
	_, err := f.barriers.MarkFailed(context.Background(), exec.ID(), "rivers")
	require.NoError(t, err)

	require.NoError(t, f.svc.ArriveAndContinue(context.Background(), exec.ID(), "rivers", "rivers"))

	assert.Empty(t, f.dispatcher.advances)
}

func TestImportService_Advance_WalksSteps(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)

	require.NoError(t, f.svc.Advance(context.Background(), tasks.AdvancePayload{
		ExecutionID: exec.ID(),
		Step:        string(execution.StepImport),
		Layer:       "rivers",
		Alternate:   "rivers",
	}))
	require.Len(t, f.dispatcher.publishes, 1)
	assert.Equal(t, []execution.Step{execution.StepPublish}, f.executions.steps)

	require.NoError(t, f.svc.Advance(context.Background(), tasks.AdvancePayload{
		ExecutionID: exec.ID(),
		Step:        string(execution.StepPublish),
		Layer:       "rivers",
		Alternate:   "rivers",
	}))
	require.Len(t, f.dispatcher.creations, 1)
	assert.Equal(t, execution.StepCreateResource, f.executions.steps[1])
}

func TestImportService_Advance_FinalStepClosesRun(t *testing.T) {
	exec := testExecution(execution.InputParams{}, execution.WithStatus(execution.StatusRunning))
	f := newImportFixture(nil, exec)
	require.NoError(t, f.barriers.Init(context.Background(), &barrier.Barrier{
		ExecutionID: exec.ID(),
		LayerName:   "rivers",
		TableName:   "rivers",
		Pending:     0,
	}))

	var changed []execution.StatusChangedEvent
	f.bus.Subscribe(func(event execution.StatusChangedEvent) {
		changed = append(changed, event)
	})

	require.NoError(t, f.svc.Advance(context.Background(), tasks.AdvancePayload{
		ExecutionID: exec.ID(),
		Step:        string(execution.StepCreateResource),
		Layer:       "rivers",
		Alternate:   "rivers",
	}))

	b, err := f.barriers.Get(context.Background(), exec.ID(), "rivers")
	require.NoError(t, err)
	assert.True(t, b.Done)

	require.Len(t, f.executions.statuses, 1)
	assert.Equal(t, statusCall{status: execution.StatusSucceeded, reason: "import finished"}, f.executions.statuses[0])
	require.Len(t, changed, 1)
	assert.Equal(t, execution.StatusSucceeded, changed[0].Status)
}

func TestImportService_Advance_WaitsForSiblingLayers(t *testing.T) {
	exec := testExecution(execution.InputParams{}, execution.WithStatus(execution.StatusRunning))
	f := newImportFixture(nil, exec)
	for _, layer := range []string{"rivers", "census"} {
		require.NoError(t, f.barriers.Init(context.Background(), &barrier.Barrier{
			ExecutionID: exec.ID(),
			LayerName:   layer,
			TableName:   layer,
			Pending:     0,
		}))
	}

	require.NoError(t, f.svc.Advance(context.Background(), tasks.AdvancePayload{
		ExecutionID: exec.ID(),
		Step:        string(execution.StepCreateResource),
		Layer:       "rivers",
		Alternate:   "rivers",
	}))

	assert.Empty(t, f.executions.statuses)
}

func TestImportService_Advance_FailedRunIsNeverSucceeded(t *testing.T) {
	exec := testExecution(execution.InputParams{}, execution.WithStatus(execution.StatusFailed))
	f := newImportFixture(nil, exec)
	require.NoError(t, f.barriers.Init(context.Background(), &barrier.Barrier{
		ExecutionID: exec.ID(),
		LayerName:   "rivers",
		TableName:   "rivers",
		Pending:     0,
	}))

	require.NoError(t, f.svc.Advance(context.Background(), tasks.AdvancePayload{
		ExecutionID: exec.ID(),
		Step:        string(execution.StepCreateResource),
		Layer:       "rivers",
		Alternate:   "rivers",
	}))

	assert.Empty(t, f.executions.statuses)
}

func TestImportService_BulkLoad(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)

	var imported []execution.LayerImportedEvent
	f.bus.Subscribe(func(event execution.LayerImportedEvent) {
		imported = append(imported, event)
	})

	require.NoError(t, f.svc.BulkLoad(context.Background(), tasks.BulkLoadPayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		SourceLayer: "Rivers",
		Alternate:   "rivers_x",
		Override:    true,
	}))

	require.Len(t, f.loader.requests, 1)
	req := f.loader.requests[0]
	assert.Equal(t, "/uploads/rivers.gpkg", req.BaseFile)
	assert.Equal(t, "Rivers", req.LayerName)
	assert.Equal(t, "rivers_x", req.Alternate)
	assert.True(t, req.Override)

	require.Len(t, imported, 1)
	assert.Equal(t, "rivers", imported[0].LayerName)
}

func TestImportService_BulkLoad_FailurePropagates(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)
	f.loader.err = &importerrors.BulkLoadFailure{Layer: "Rivers", Stderr: "ERROR 1: connection refused"}

	err := f.svc.BulkLoad(context.Background(), tasks.BulkLoadPayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		SourceLayer: "Rivers",
		Alternate:   "rivers",
	})

	var loadErr *importerrors.BulkLoadFailure
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "ERROR 1: connection refused", loadErr.Stderr)
}

func TestImportService_Publish_MergesMetadata(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)
	f.store.tables["rivers"] = true
	f.store.meta = &datastore.TableMetadata{
		GeometryColumn: "geom",
		GeometryType:   "MULTILINESTRING",
		SRID:           4326,
		RowCount:       1200,
	}

	require.NoError(t, f.svc.Publish(context.Background(), tasks.PublishPayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		Alternate:   "rivers",
	}))

	require.Len(t, f.executions.merges, 1)
	assert.Equal(t, map[string]interface{}{
		"resource:rivers": map[string]interface{}{
			"geometry_type": "MultiLineString",
			"srid":          4326,
			"row_count":     int64(1200),
		},
	}, f.executions.merges[0])

	require.Len(t, f.dispatcher.advances, 1)
	assert.Equal(t, string(execution.StepPublish), f.dispatcher.advances[0].Step)
}

func TestImportService_Publish_NonSpatialTable(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)
	f.store.tables["census"] = true
	f.store.meta = &datastore.TableMetadata{RowCount: 42}

	require.NoError(t, f.svc.Publish(context.Background(), tasks.PublishPayload{
		ExecutionID: exec.ID(),
		Layer:       "census",
		Alternate:   "census",
	}))

	require.Len(t, f.executions.merges, 1)
	entry := f.executions.merges[0]["resource:census"].(map[string]interface{})
	assert.Equal(t, int64(42), entry["row_count"])
	assert.NotContains(t, entry, "geometry_type")
}

func TestImportService_Publish_MissingTable(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)

	err := f.svc.Publish(context.Background(), tasks.PublishPayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		Alternate:   "rivers",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
	assert.Empty(t, f.dispatcher.advances)
}

func TestImportService_CreateResource(t *testing.T) {
	exec := testExecution(execution.InputParams{}, execution.WithOutputParams(map[string]interface{}{
		"handler": "gpkg",
	}))
	f := newImportFixture(nil, exec)
	f.store.meta = &datastore.TableMetadata{
		GeometryColumn: "geom",
		GeometryType:   "MULTILINESTRING",
		SRID:           4326,
		RowCount:       1200,
	}

	var created []resource.CreatedEvent
	f.bus.Subscribe(func(event resource.CreatedEvent) {
		created = append(created, event)
	})

	require.NoError(t, f.svc.CreateResource(context.Background(), tasks.CreateResourcePayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		Alternate:   "rivers",
	}))

	require.Len(t, f.resources.created, 1)
	res := f.resources.created[0]
	assert.Equal(t, "rivers", res.Name)
	assert.Equal(t, "rivers", res.Alternate)
	assert.Equal(t, "gpkg", res.Handler)
	assert.Equal(t, "carol", res.Owner)
	require.NotNil(t, res.GeometryType)
	assert.Equal(t, "MultiLineString", *res.GeometryType)
	require.NotNil(t, res.SRID)
	assert.Equal(t, 4326, *res.SRID)
	require.NotNil(t, res.RowCount)
	assert.Equal(t, int64(1200), *res.RowCount)

	require.Len(t, created, 1)
	require.Len(t, f.dispatcher.advances, 1)
	assert.Equal(t, string(execution.StepCreateResource), f.dispatcher.advances[0].Step)
}

func TestImportService_CreateResource_RetrySkipsInsert(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)
	f.resources.byAlternate["rivers"] = &resource.Resource{Alternate: "rivers"}

	require.NoError(t, f.svc.CreateResource(context.Background(), tasks.CreateResourcePayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		Alternate:   "rivers",
	}))

	assert.Empty(t, f.resources.created)
	require.Len(t, f.dispatcher.advances, 1)
}

func TestImportService_Rollback(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)
	sch := f.schemas.seed(&dataschema.Schema{Name: "rivers", DBName: "geodata", TableName: "rivers"})
	f.store.tables["rivers"] = true

	var rolledBack []execution.RolledBackEvent
	f.bus.Subscribe(func(event execution.RolledBackEvent) {
		rolledBack = append(rolledBack, event)
	})

	require.NoError(t, f.svc.Rollback(context.Background(), tasks.RollbackPayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		TableName:   "rivers",
	}))

	assert.Equal(t, []string{"rivers"}, f.store.dropped)
	assert.Equal(t, []int64{sch.ID}, f.schemas.deleted)
	require.Len(t, rolledBack, 1)
	assert.Equal(t, "rivers", rolledBack[0].TableName)
}

func TestImportService_Rollback_DropFailureStillDeletesRecord(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)
	sch := f.schemas.seed(&dataschema.Schema{Name: "rivers", DBName: "geodata", TableName: "rivers"})
	f.store.dropErr = errors.New("table is locked")

	require.NoError(t, f.svc.Rollback(context.Background(), tasks.RollbackPayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		TableName:   "rivers",
	}))

	assert.Empty(t, f.store.dropped)
	assert.Equal(t, []int64{sch.ID}, f.schemas.deleted)
}

func TestImportService_Rollback_UnknownTableIsNoop(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)

	require.NoError(t, f.svc.Rollback(context.Background(), tasks.RollbackPayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		TableName:   "rivers",
	}))

	assert.Empty(t, f.store.dropped)
	assert.Empty(t, f.schemas.deleted)
}

func deadTask(t *testing.T, kind string, payload interface{}) queue.DispatchedTask {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return queue.DispatchedTask{
		Meta: queue.Meta{
			Table:       tasks.Table(),
			Queue:       tasks.QueueLoad,
			Kind:        kind,
			TaskID:      uuid.New(),
			Attempts:    2,
			MaxAttempts: 2,
		},
		Payload: body,
	}
}

func TestImportService_HandleDeadTask_MemberElectsRollback(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)
	require.NoError(t, f.barriers.Init(context.Background(), &barrier.Barrier{
		ExecutionID: exec.ID(),
		LayerName:   "rivers",
		TableName:   "rivers_x",
		Pending:     2,
	}))

	task := deadTask(t, tasks.KindBulkLoad, tasks.BulkLoadPayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		SourceLayer: "Rivers",
		Alternate:   "rivers_x",
	})
	cause := errors.New("ERROR 1: broken pipe")

	f.svc.HandleDeadTask(context.Background(), task, cause)

	require.Len(t, f.dispatcher.rollbacks, 1)
	assert.Equal(t, tasks.RollbackPayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		TableName:   "rivers_x",
	}, f.dispatcher.rollbacks[0])

	require.Len(t, f.executions.statuses, 1)
	assert.Equal(t, execution.StatusFailed, f.executions.statuses[0].status)
	assert.Equal(t,
		fmt.Sprintf("Task FAILED with ID: %s, reason: %v", task.Meta.TaskID, cause),
		f.executions.statuses[0].reason,
	)

	b, err := f.barriers.Get(context.Background(), exec.ID(), "rivers")
	require.NoError(t, err)
	assert.True(t, b.Failed)
}

func TestImportService_HandleDeadTask_SecondFailureDoesNotDoubleRollback(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)
	require.NoError(t, f.barriers.Init(context.Background(), &barrier.Barrier{
		ExecutionID: exec.ID(),
		LayerName:   "rivers",
		TableName:   "rivers_x",
		Pending:     3,
	}))

	first := deadTask(t, tasks.KindBulkLoad, tasks.BulkLoadPayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		Alternate:   "rivers_x",
	})
	second := deadTask(t, tasks.KindCreateFields, tasks.CreateFieldsPayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		Alternate:   "rivers_x",
	})

	f.svc.HandleDeadTask(context.Background(), first, errors.New("boom"))
	f.svc.HandleDeadTask(context.Background(), second, errors.New("bang"))

	assert.Len(t, f.dispatcher.rollbacks, 1)
	assert.Len(t, f.executions.statuses, 2)
}

func TestImportService_HandleDeadTask_DownstreamFailureSkipsRollback(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)

	task := deadTask(t, tasks.KindPublish, tasks.PublishPayload{
		ExecutionID: exec.ID(),
		Layer:       "rivers",
		Alternate:   "rivers",
	})

	f.svc.HandleDeadTask(context.Background(), task, errors.New("datastore gone"))

	assert.Empty(t, f.dispatcher.rollbacks)
	require.Len(t, f.executions.statuses, 1)
	assert.Equal(t, execution.StatusFailed, f.executions.statuses[0].status)
}

func TestImportService_HandleDeadTask_CoordinatorFailureFailsRun(t *testing.T) {
	exec := testExecution(execution.InputParams{})
	f := newImportFixture(nil, exec)

	task := deadTask(t, tasks.KindImportResource, tasks.ImportResourcePayload{ExecutionID: exec.ID()})

	f.svc.HandleDeadTask(context.Background(), task, &importerrors.SourceUnreadable{Path: "/uploads/rivers.gpkg"})

	require.Len(t, f.executions.statuses, 1)
	assert.Equal(t, execution.StatusFailed, f.executions.statuses[0].status)
	assert.Contains(t, f.executions.statuses[0].reason, "source /uploads/rivers.gpkg is unreadable")
}
