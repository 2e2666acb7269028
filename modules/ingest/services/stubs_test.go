package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/spatialops/importer/modules/ingest/domain/entities/barrier"
	"github.com/spatialops/importer/modules/ingest/domain/entities/dataschema"
	"github.com/spatialops/importer/modules/ingest/domain/entities/execution"
	"github.com/spatialops/importer/modules/ingest/domain/entities/resource"
	"github.com/spatialops/importer/modules/ingest/infrastructure/datastore"
	"github.com/spatialops/importer/modules/ingest/infrastructure/formats"
	"github.com/spatialops/importer/modules/ingest/infrastructure/gdal"
	"github.com/spatialops/importer/modules/ingest/infrastructure/persistence"
	"github.com/spatialops/importer/modules/ingest/tasks"
)

type statusCall struct {
	status execution.Status
	reason string
}

type executionRepoFake struct {
	byID      map[uuid.UUID]*execution.Execution
	items     []*execution.Execution
	statuses  []statusCall
	steps     []execution.Step
	logLines  []string
	merges    []map[string]interface{}
	statusErr error
}

func newExecutionRepoFake(execs ...*execution.Execution) *executionRepoFake {
	r := &executionRepoFake{byID: make(map[uuid.UUID]*execution.Execution)}
	for _, e := range execs {
		r.byID[e.ID()] = e
		r.items = append(r.items, e)
	}
	return r
}

func (r *executionRepoFake) Create(_ context.Context, e *execution.Execution) (*execution.Execution, error) {
	r.byID[e.ID()] = e
	r.items = append(r.items, e)
	return e, nil
}

func (r *executionRepoFake) GetByID(_ context.Context, id uuid.UUID) (*execution.Execution, error) {
	e, ok := r.byID[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}
	return e, nil
}

func (r *executionRepoFake) List(_ context.Context, _ *execution.FindParams) ([]*execution.Execution, error) {
	return r.items, nil
}

func (r *executionRepoFake) Count(_ context.Context, _ *execution.FindParams) (int64, error) {
	return int64(len(r.items)), nil
}

func (r *executionRepoFake) SetStatus(_ context.Context, _ uuid.UUID, status execution.Status, reason string) error {
	if r.statusErr != nil {
		return r.statusErr
	}
	r.statuses = append(r.statuses, statusCall{status: status, reason: reason})
	return nil
}

func (r *executionRepoFake) SetStep(_ context.Context, _ uuid.UUID, step execution.Step) error {
	r.steps = append(r.steps, step)
	return nil
}

func (r *executionRepoFake) AppendLog(_ context.Context, _ uuid.UUID, line string) error {
	r.logLines = append(r.logLines, line)
	return nil
}

func (r *executionRepoFake) SetOutputParams(_ context.Context, _ uuid.UUID, params map[string]interface{}) error {
	r.merges = append(r.merges, params)
	return nil
}

func (r *executionRepoFake) MergeOutputParams(_ context.Context, _ uuid.UUID, params map[string]interface{}) error {
	r.merges = append(r.merges, params)
	return nil
}

type schemaRepoFake struct {
	existing       map[string]*dataschema.Schema
	byID           map[int64]*dataschema.Schema
	byTable        map[string]*dataschema.Schema
	nextID         int64
	createdNames   []string
	getOrCreateErr map[string]error
	fields         map[int64][]*dataschema.Field
	createFieldErr error
	updateExisting map[string]bool
	updated        []*dataschema.Field
	deleted        []int64
}

func newSchemaRepoFake() *schemaRepoFake {
	return &schemaRepoFake{
		existing:       make(map[string]*dataschema.Schema),
		byID:           make(map[int64]*dataschema.Schema),
		byTable:        make(map[string]*dataschema.Schema),
		getOrCreateErr: make(map[string]error),
		fields:         make(map[int64][]*dataschema.Field),
		updateExisting: make(map[string]bool),
	}
}

func (r *schemaRepoFake) seed(s *dataschema.Schema) *dataschema.Schema {
	r.nextID++
	s.ID = r.nextID
	r.existing[s.Name] = s
	r.byID[s.ID] = s
	r.byTable[s.TableName] = s
	return s
}

func (r *schemaRepoFake) GetOrCreate(_ context.Context, s *dataschema.Schema) (*dataschema.Schema, bool, error) {
	if err := r.getOrCreateErr[s.Name]; err != nil {
		return nil, false, err
	}
	if found, ok := r.existing[s.Name]; ok {
		return found, false, nil
	}
	r.createdNames = append(r.createdNames, s.Name)
	return r.seed(s), true, nil
}

func (r *schemaRepoFake) GetByID(_ context.Context, id int64) (*dataschema.Schema, error) {
	s, ok := r.byID[id]
	if !ok {
		return nil, persistence.ErrSchemaNotFound
	}
	return s, nil
}

func (r *schemaRepoFake) GetByName(_ context.Context, _ string, name string) (*dataschema.Schema, error) {
	s, ok := r.existing[name]
	if !ok {
		return nil, persistence.ErrSchemaNotFound
	}
	return s, nil
}

func (r *schemaRepoFake) GetByTableName(_ context.Context, _ string, tableName string) (*dataschema.Schema, error) {
	s, ok := r.byTable[tableName]
	if !ok {
		return nil, persistence.ErrSchemaNotFound
	}
	return s, nil
}

func (r *schemaRepoFake) Delete(_ context.Context, id int64) error {
	s, ok := r.byID[id]
	if !ok {
		return persistence.ErrSchemaNotFound
	}
	r.deleted = append(r.deleted, id)
	delete(r.byID, id)
	delete(r.existing, s.Name)
	delete(r.byTable, s.TableName)
	return nil
}

func (r *schemaRepoFake) CreateFields(_ context.Context, fields []*dataschema.Field) error {
	if r.createFieldErr != nil {
		return r.createFieldErr
	}
	for _, f := range fields {
		r.fields[f.SchemaID] = append(r.fields[f.SchemaID], f)
	}
	return nil
}

func (r *schemaRepoFake) UpdateFieldByName(_ context.Context, f *dataschema.Field) (bool, error) {
	r.updated = append(r.updated, f)
	return r.updateExisting[f.Name], nil
}

func (r *schemaRepoFake) ListFields(_ context.Context, schemaID int64) ([]*dataschema.Field, error) {
	return r.fields[schemaID], nil
}

type barrierRepoFake struct {
	rows     map[string]*barrier.Barrier
	loseCAS  bool
	failures []string
}

func newBarrierRepoFake() *barrierRepoFake {
	return &barrierRepoFake{rows: make(map[string]*barrier.Barrier)}
}

func barrierKey(executionID uuid.UUID, layerName string) string {
	return fmt.Sprintf("%s/%s", executionID, layerName)
}

func (r *barrierRepoFake) Init(_ context.Context, b *barrier.Barrier) error {
	copied := *b
	r.rows[barrierKey(b.ExecutionID, b.LayerName)] = &copied
	return nil
}

func (r *barrierRepoFake) Get(_ context.Context, executionID uuid.UUID, layerName string) (*barrier.Barrier, error) {
	b, ok := r.rows[barrierKey(executionID, layerName)]
	if !ok {
		return nil, persistence.ErrBarrierNotFound
	}
	return b, nil
}

func (r *barrierRepoFake) Arrive(_ context.Context, executionID uuid.UUID, layerName string) (int, bool, error) {
	b, ok := r.rows[barrierKey(executionID, layerName)]
	if !ok {
		return 0, false, persistence.ErrBarrierNotFound
	}
	b.Pending--
	return b.Pending, b.Failed, nil
}

func (r *barrierRepoFake) MarkFailed(_ context.Context, executionID uuid.UUID, layerName string) (bool, error) {
	b, ok := r.rows[barrierKey(executionID, layerName)]
	if !ok {
		return false, persistence.ErrBarrierNotFound
	}
	r.failures = append(r.failures, layerName)
	won := !b.Failed && !r.loseCAS
	b.Failed = true
	return won, nil
}

func (r *barrierRepoFake) MarkDone(_ context.Context, executionID uuid.UUID, layerName string) error {
	b, ok := r.rows[barrierKey(executionID, layerName)]
	if !ok {
		return persistence.ErrBarrierNotFound
	}
	b.Done = true
	return nil
}

func (r *barrierRepoFake) CountUnfinished(_ context.Context, executionID uuid.UUID) (int64, error) {
	var n int64
	for _, b := range r.rows {
		if b.ExecutionID == executionID && !b.Done && !b.Failed {
			n++
		}
	}
	return n, nil
}

type resourceRepoFake struct {
	byAlternate map[string]*resource.Resource
	created     []*resource.Resource
	nextID      int64
}

func newResourceRepoFake() *resourceRepoFake {
	return &resourceRepoFake{byAlternate: make(map[string]*resource.Resource)}
}

func (r *resourceRepoFake) Create(_ context.Context, res *resource.Resource) (*resource.Resource, error) {
	r.nextID++
	res.ID = r.nextID
	r.byAlternate[res.Alternate] = res
	r.created = append(r.created, res)
	return res, nil
}

func (r *resourceRepoFake) GetByAlternate(_ context.Context, alternate string) (*resource.Resource, error) {
	res, ok := r.byAlternate[alternate]
	if !ok {
		return nil, persistence.ErrResourceNotFound
	}
	return res, nil
}

func (r *resourceRepoFake) List(_ context.Context, _ *resource.FindParams) ([]*resource.Resource, error) {
	return r.created, nil
}

func (r *resourceRepoFake) Count(_ context.Context, _ *resource.FindParams) (int64, error) {
	return int64(len(r.created)), nil
}

type recordingDispatcher struct {
	imports      []tasks.ImportResourcePayload
	fieldBatches []tasks.CreateFieldsPayload
	bulkLoads    []tasks.BulkLoadPayload
	advances     []tasks.AdvancePayload
	publishes    []tasks.PublishPayload
	creations    []tasks.CreateResourcePayload
	rollbacks    []tasks.RollbackPayload
	err          error
}

func (d *recordingDispatcher) ImportResource(_ context.Context, p tasks.ImportResourcePayload) error {
	if d.err != nil {
		return d.err
	}
	d.imports = append(d.imports, p)
	return nil
}

func (d *recordingDispatcher) CreateFields(_ context.Context, p tasks.CreateFieldsPayload) error {
	if d.err != nil {
		return d.err
	}
	d.fieldBatches = append(d.fieldBatches, p)
	return nil
}

func (d *recordingDispatcher) BulkLoad(_ context.Context, p tasks.BulkLoadPayload) error {
	if d.err != nil {
		return d.err
	}
	d.bulkLoads = append(d.bulkLoads, p)
	return nil
}

func (d *recordingDispatcher) Advance(_ context.Context, p tasks.AdvancePayload) error {
	if d.err != nil {
		return d.err
	}
	d.advances = append(d.advances, p)
	return nil
}

func (d *recordingDispatcher) Publish(_ context.Context, p tasks.PublishPayload) error {
	if d.err != nil {
		return d.err
	}
	d.publishes = append(d.publishes, p)
	return nil
}

func (d *recordingDispatcher) CreateResource(_ context.Context, p tasks.CreateResourcePayload) error {
	if d.err != nil {
		return d.err
	}
	d.creations = append(d.creations, p)
	return nil
}

func (d *recordingDispatcher) Rollback(_ context.Context, p tasks.RollbackPayload) error {
	if d.err != nil {
		return d.err
	}
	d.rollbacks = append(d.rollbacks, p)
	return nil
}

type loaderFake struct {
	requests []gdal.LoadRequest
	err      error
}

func (l *loaderFake) Load(_ context.Context, req gdal.LoadRequest) error {
	if l.err != nil {
		return l.err
	}
	l.requests = append(l.requests, req)
	return nil
}

type datastoreFake struct {
	tables    map[string]bool
	dropErr   error
	dropped   []string
	meta      *datastore.TableMetadata
	metaErr   error
	existsErr error
}

func newDatastoreFake() *datastoreFake {
	return &datastoreFake{tables: make(map[string]bool)}
}

func (d *datastoreFake) TableExists(_ context.Context, table string) (bool, error) {
	if d.existsErr != nil {
		return false, d.existsErr
	}
	return d.tables[table], nil
}

func (d *datastoreFake) DropTable(_ context.Context, table string) error {
	if d.dropErr != nil {
		return d.dropErr
	}
	d.dropped = append(d.dropped, table)
	delete(d.tables, table)
	return nil
}

func (d *datastoreFake) TableMetadata(_ context.Context, _ string) (*datastore.TableMetadata, error) {
	if d.metaErr != nil {
		return nil, d.metaErr
	}
	return d.meta, nil
}

type staticDataset struct {
	layers []formats.Layer
}

func (d staticDataset) Layers() []formats.Layer { return d.layers }

func (d staticDataset) Close() error { return nil }

type fixedHandler struct {
	alias    string
	layers   []formats.Layer
	classes  map[string]dataschema.FieldClass
	validErr error
	openErr  error
}

func (h fixedHandler) Alias() string { return h.alias }

func (h fixedHandler) CanHandle(_ formats.Fileset) bool { return true }

func (h fixedHandler) IsValid(_ formats.Fileset) error { return h.validErr }

func (h fixedHandler) Open(_ formats.Fileset) (formats.Dataset, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	return staticDataset{layers: h.layers}, nil
}

func (h fixedHandler) FieldClass(sourceType string) (dataschema.FieldClass, bool) {
	class, ok := h.classes[sourceType]
	return class, ok
}
