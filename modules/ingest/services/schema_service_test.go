package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatialops/importer/modules/ingest/domain/entities/dataschema"
	"github.com/spatialops/importer/modules/ingest/domain/importerrors"
	"github.com/spatialops/importer/modules/ingest/infrastructure/persistence"
)

func TestPartitionFields(t *testing.T) {
	defs := make([]dataschema.FieldDefinition, 65)
	for i := range defs {
		defs[i] = dataschema.FieldDefinition{Name: string(rune('a' + i%26)), Class: "text"}
	}

	batches := PartitionFields(defs)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 30)
	assert.Len(t, batches[1], 30)
	assert.Len(t, batches[2], 5)

	total := 0
	for _, b := range batches {
		total += len(b)
	}
	assert.Equal(t, len(defs), total)
	assert.Equal(t, defs[30], batches[1][0])

	assert.Nil(t, PartitionFields(nil))
}

func TestAlternateName(t *testing.T) {
	execID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	got := AlternateName("rivers", execID)
	assert.Equal(t, "rivers_550e8400_e29b_41d4_a716_446655440000", got)
	assert.NotContains(t, got, "-")

	long := strings.Repeat("x", 60)
	truncated := AlternateName(long, execID)
	assert.Len(t, []rune(truncated), 63)
	assert.True(t, strings.HasPrefix(truncated, long))
}

func TestSchemaService_Provision_CreatesFresh(t *testing.T) {
	repo := newSchemaRepoFake()
	svc := NewSchemaService(repo)
	execID := uuid.New()

	sch, usedAlternate, err := svc.Provision(context.Background(), execID, "geodata", "Rivers", false)

	require.NoError(t, err)
	assert.False(t, usedAlternate)
	assert.Equal(t, "rivers", sch.Name)
	assert.Equal(t, "rivers", sch.TableName)
	assert.Equal(t, "geodata", sch.DBName)
	assert.False(t, sch.Managed)
	assert.Equal(t, []string{"rivers"}, repo.createdNames)
}

func TestSchemaService_Provision_CollisionDisambiguates(t *testing.T) {
	repo := newSchemaRepoFake()
	prior := repo.seed(&dataschema.Schema{Name: "rivers", DBName: "geodata", TableName: "rivers"})
	svc := NewSchemaService(repo)
	execID := uuid.New()

	sch, usedAlternate, err := svc.Provision(context.Background(), execID, "geodata", "rivers", false)

	require.NoError(t, err)
	assert.True(t, usedAlternate)
	assert.NotEqual(t, prior.ID, sch.ID)
	assert.Contains(t, sch.Name, strings.ReplaceAll(execID.String(), "-", "_"))
	assert.Equal(t, sch.Name, sch.TableName)
	// the pre-existing record is untouched
	assert.Equal(t, "rivers", repo.existing["rivers"].Name)
}

func TestSchemaService_Provision_OverrideReusesInPlace(t *testing.T) {
	repo := newSchemaRepoFake()
	prior := repo.seed(&dataschema.Schema{Name: "rivers", DBName: "geodata", TableName: "rivers"})
	svc := NewSchemaService(repo)

	sch, usedAlternate, err := svc.Provision(context.Background(), uuid.New(), "geodata", "rivers", true)

	require.NoError(t, err)
	assert.False(t, usedAlternate)
	assert.Equal(t, prior.ID, sch.ID)
	assert.Empty(t, repo.createdNames)
}

func TestSchemaService_Provision_WrapsStorageError(t *testing.T) {
	repo := newSchemaRepoFake()
	repo.getOrCreateErr["rivers"] = errors.New("permission denied")
	svc := NewSchemaService(repo)

	_, _, err := svc.Provision(context.Background(), uuid.New(), "geodata", "Rivers", false)

	var provisionErr *importerrors.SchemaProvisioningError
	require.ErrorAs(t, err, &provisionErr)
	assert.Equal(t, "Rivers", provisionErr.Layer)
}

func TestSchemaService_HasSchema(t *testing.T) {
	repo := newSchemaRepoFake()
	repo.seed(&dataschema.Schema{Name: "rivers", DBName: "geodata", TableName: "rivers"})
	svc := NewSchemaService(repo)

	exists, err := svc.HasSchema(context.Background(), "geodata", "Rivers")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = svc.HasSchema(context.Background(), "geodata", "lakes")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, repo.createdNames)
}

func TestSchemaService_ApplyFieldBatch_CreatesFields(t *testing.T) {
	repo := newSchemaRepoFake()
	sch := repo.seed(&dataschema.Schema{Name: "rivers", DBName: "geodata", TableName: "rivers"})
	svc := NewSchemaService(repo)

	defs := []dataschema.FieldDefinition{
		{Name: "name", Class: "text"},
		{Name: "discharge", Class: "float"},
		{Name: "geom", Class: "geometry", GeometryType: "MultiLineString"},
	}

	require.NoError(t, svc.ApplyFieldBatch(context.Background(), sch.ID, defs, false))

	fields := repo.fields[sch.ID]
	require.Len(t, fields, 3)

	name := fields[0]
	assert.Equal(t, dataschema.ClassText, name.Class)
	assert.True(t, name.Nullable)
	require.NotNil(t, name.MaxLength)
	assert.Equal(t, 255, *name.MaxLength)

	discharge := fields[1]
	assert.Nil(t, discharge.MaxLength)
	assert.Nil(t, discharge.GeometryType)

	geom := fields[2]
	require.NotNil(t, geom.GeometryType)
	assert.Equal(t, "MultiLineString", *geom.GeometryType)
}

func TestSchemaService_ApplyFieldBatch_InvalidClassFailsWholeBatch(t *testing.T) {
	repo := newSchemaRepoFake()
	sch := repo.seed(&dataschema.Schema{Name: "rivers", DBName: "geodata", TableName: "rivers"})
	svc := NewSchemaService(repo)

	defs := []dataschema.FieldDefinition{
		{Name: "name", Class: "text"},
		{Name: "geom", Class: ""},
	}

	err := svc.ApplyFieldBatch(context.Background(), sch.ID, defs, false)

	var invalid *importerrors.InvalidFieldDefinition
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "geom", invalid.Field)
	assert.Empty(t, repo.fields[sch.ID])
}

func TestSchemaService_ApplyFieldBatch_MissingNameFailsWholeBatch(t *testing.T) {
	repo := newSchemaRepoFake()
	sch := repo.seed(&dataschema.Schema{Name: "rivers", DBName: "geodata", TableName: "rivers"})
	svc := NewSchemaService(repo)

	err := svc.ApplyFieldBatch(context.Background(), sch.ID, []dataschema.FieldDefinition{
		{Name: "  ", Class: "text"},
	}, false)

	var invalid *importerrors.InvalidFieldDefinition
	require.ErrorAs(t, err, &invalid)
	assert.Empty(t, repo.fields[sch.ID])
}

func TestSchemaService_ApplyFieldBatch_OverwriteUpserts(t *testing.T) {
	repo := newSchemaRepoFake()
	sch := repo.seed(&dataschema.Schema{Name: "rivers", DBName: "geodata", TableName: "rivers"})
	repo.updateExisting["name"] = true
	svc := NewSchemaService(repo)

	defs := []dataschema.FieldDefinition{
		{Name: "name", Class: "text"},
		{Name: "basin", Class: "bigint"},
	}

	require.NoError(t, svc.ApplyFieldBatch(context.Background(), sch.ID, defs, true))

	// both fields went through the update path, only the missing one was inserted
	require.Len(t, repo.updated, 2)
	inserted := repo.fields[sch.ID]
	require.Len(t, inserted, 1)
	assert.Equal(t, "basin", inserted[0].Name)
}

func TestSchemaService_ApplyFieldBatch_AllExistingInsertsNothing(t *testing.T) {
	repo := newSchemaRepoFake()
	sch := repo.seed(&dataschema.Schema{Name: "rivers", DBName: "geodata", TableName: "rivers"})
	repo.updateExisting["name"] = true
	svc := NewSchemaService(repo)

	require.NoError(t, svc.ApplyFieldBatch(context.Background(), sch.ID, []dataschema.FieldDefinition{
		{Name: "name", Class: "text"},
	}, true))

	assert.Empty(t, repo.fields[sch.ID])
}

func TestSchemaService_ApplyFieldBatch_SchemaGone(t *testing.T) {
	repo := newSchemaRepoFake()
	svc := NewSchemaService(repo)

	err := svc.ApplyFieldBatch(context.Background(), 99, []dataschema.FieldDefinition{
		{Name: "name", Class: "text"},
	}, false)

	require.ErrorIs(t, err, persistence.ErrSchemaNotFound)
}
