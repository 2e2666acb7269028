package persistence

import (
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/spatialops/importer/modules/ingest/domain/entities/barrier"
	"github.com/spatialops/importer/modules/ingest/domain/entities/dataschema"
	"github.com/spatialops/importer/modules/ingest/domain/entities/execution"
	"github.com/spatialops/importer/modules/ingest/domain/entities/resource"
	"github.com/spatialops/importer/modules/ingest/infrastructure/persistence/models"
)

func toDBExecution(e *execution.Execution) (*models.Execution, error) {
	inputParams, err := json.Marshal(e.InputParams())
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal input params")
	}
	outputParams, err := toDBOutputParams(e.OutputParams())
	if err != nil {
		return nil, err
	}
	return &models.Execution{
		ID:           e.ID().String(),
		Owner:        e.Owner(),
		Status:       string(e.Status()),
		Step:         string(e.Step()),
		InputParams:  inputParams,
		OutputParams: outputParams,
		Log:          e.Log(),
		CreatedAt:    e.CreatedAt(),
		UpdatedAt:    e.UpdatedAt(),
	}, nil
}

func toDBOutputParams(params map[string]interface{}) ([]byte, error) {
	if params == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal output params")
	}
	return data, nil
}

func toDomainExecution(m *models.Execution) (*execution.Execution, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse execution id")
	}
	var inputParams execution.InputParams
	if len(m.InputParams) > 0 {
		if err := json.Unmarshal(m.InputParams, &inputParams); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal input params")
		}
	}
	var outputParams map[string]interface{}
	if len(m.OutputParams) > 0 {
		if err := json.Unmarshal(m.OutputParams, &outputParams); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal output params")
		}
	}
	return execution.New(
		m.Owner,
		inputParams,
		execution.WithID(id),
		execution.WithStatus(execution.Status(m.Status)),
		execution.WithStep(execution.Step(m.Step)),
		execution.WithOutputParams(outputParams),
		execution.WithLog(m.Log),
		execution.WithCreatedAt(m.CreatedAt),
		execution.WithUpdatedAt(m.UpdatedAt),
	), nil
}

func toDomainSchema(m *models.Schema) *dataschema.Schema {
	return &dataschema.Schema{
		ID:        m.ID,
		Name:      m.Name,
		DBName:    m.DBName,
		TableName: m.TableName,
		Managed:   m.Managed,
		CreatedAt: m.CreatedAt,
	}
}

func toDomainField(m *models.Field) *dataschema.Field {
	f := &dataschema.Field{
		ID:        m.ID,
		SchemaID:  m.SchemaID,
		Name:      m.Name,
		Class:     dataschema.FieldClass(m.Class),
		Nullable:  m.Nullable,
		CreatedAt: m.CreatedAt,
	}
	if m.MaxLength.Valid {
		v := int(m.MaxLength.Int32)
		f.MaxLength = &v
	}
	if m.GeometryType.Valid {
		v := m.GeometryType.String
		f.GeometryType = &v
	}
	return f
}

func toDomainBarrier(m *models.Barrier) (*barrier.Barrier, error) {
	id, err := uuid.Parse(m.ExecutionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse barrier execution id")
	}
	return &barrier.Barrier{
		ExecutionID: id,
		LayerName:   m.LayerName,
		TableName:   m.TableName,
		Pending:     m.Pending,
		Failed:      m.Failed,
		Done:        m.Done,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func toDomainResource(m *models.Resource) (*resource.Resource, error) {
	id, err := uuid.Parse(m.ExecutionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse resource execution id")
	}
	r := &resource.Resource{
		ID:          m.ID,
		ExecutionID: id,
		Name:        m.Name,
		Alternate:   m.Alternate,
		Handler:     m.Handler,
		Owner:       m.Owner,
		CreatedAt:   m.CreatedAt,
	}
	if m.GeometryType.Valid {
		v := m.GeometryType.String
		r.GeometryType = &v
	}
	if m.SRID.Valid {
		v := int(m.SRID.Int32)
		r.SRID = &v
	}
	if m.RowCount.Valid {
		v := m.RowCount.Int64
		r.RowCount = &v
	}
	return r, nil
}
