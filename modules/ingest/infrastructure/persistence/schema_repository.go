package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/spatialops/importer/modules/ingest/domain/entities/dataschema"
	"github.com/spatialops/importer/modules/ingest/infrastructure/persistence/models"
	"github.com/spatialops/importer/pkg/composables"
)

var (
	ErrSchemaNotFound = errors.New("schema not found")
	ErrFieldNotFound  = errors.New("field not found")
)

// fieldInsertChunk bounds the placeholder count of one multi-row INSERT.
const fieldInsertChunk = 50

const (
	schemaFindQuery = `
		SELECT id, name, db_name, table_name, managed, created_at
		FROM dataset_schemas`

	fieldFindQuery = `
		SELECT id, schema_id, name, class, nullable, max_length, geometry_type, created_at
		FROM dataset_fields`
)

type SchemaRepository struct{}

func NewSchemaRepository() dataschema.Repository {
	return &SchemaRepository{}
}

func (r *SchemaRepository) GetOrCreate(ctx context.Context, s *dataschema.Schema) (*dataschema.Schema, bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, false, err
	}

	// ON CONFLICT DO NOTHING returns no row for the loser of a concurrent
	// insert, so a plain SELECT picks up the winner's record.
	row := models.Schema{
		Name:      s.Name,
		DBName:    s.DBName,
		TableName: s.TableName,
		Managed:   s.Managed,
	}
	err = tx.QueryRow(
		ctx,
		`INSERT INTO dataset_schemas (name, db_name, table_name, managed)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (db_name, name) DO NOTHING
		 RETURNING id, created_at`,
		row.Name, row.DBName, row.TableName, row.Managed,
	).Scan(&row.ID, &row.CreatedAt)
	if err == nil {
		return toDomainSchema(&row), true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, errors.Wrap(err, "failed to create schema")
	}

	existing, err := r.GetByName(ctx, s.DBName, s.Name)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *SchemaRepository) GetByName(ctx context.Context, dbName, name string) (*dataschema.Schema, error) {
	return r.querySchema(ctx, schemaFindQuery+" WHERE db_name = $1 AND name = $2", dbName, name)
}

func (r *SchemaRepository) GetByID(ctx context.Context, id int64) (*dataschema.Schema, error) {
	return r.querySchema(ctx, schemaFindQuery+" WHERE id = $1", id)
}

func (r *SchemaRepository) GetByTableName(ctx context.Context, dbName, tableName string) (*dataschema.Schema, error) {
	return r.querySchema(ctx, schemaFindQuery+" WHERE db_name = $1 AND table_name = $2", dbName, tableName)
}

func (r *SchemaRepository) Delete(ctx context.Context, id int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM dataset_schemas WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete schema")
	}
	if tag.RowsAffected() == 0 {
		return ErrSchemaNotFound
	}
	return nil
}

func (r *SchemaRepository) CreateFields(ctx context.Context, fields []*dataschema.Field) error {
	if len(fields) == 0 {
		return nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(fields); start += fieldInsertChunk {
		end := start + fieldInsertChunk
		if end > len(fields) {
			end = len(fields)
		}
		chunk := fields[start:end]

		placeholders := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*6)
		for i, f := range chunk {
			base := i * 6
			placeholders = append(placeholders, fmt.Sprintf(
				"($%d, $%d, $%d, $%d, $%d, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6,
			))
			args = append(args,
				f.SchemaID,
				f.Name,
				string(f.Class),
				f.Nullable,
				nullableInt(f.MaxLength),
				nullableString(f.GeometryType),
			)
		}
		query := `INSERT INTO dataset_fields (schema_id, name, class, nullable, max_length, geometry_type) VALUES ` +
			strings.Join(placeholders, ", ")
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return errors.Wrap(err, "failed to create fields")
		}
	}
	return nil
}

func (r *SchemaRepository) UpdateFieldByName(ctx context.Context, f *dataschema.Field) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	tag, err := tx.Exec(
		ctx,
		`UPDATE dataset_fields
		 SET class = $3, nullable = $4, max_length = $5, geometry_type = $6
		 WHERE schema_id = $1 AND name = $2`,
		f.SchemaID,
		f.Name,
		string(f.Class),
		f.Nullable,
		nullableInt(f.MaxLength),
		nullableString(f.GeometryType),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to update field")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SchemaRepository) ListFields(ctx context.Context, schemaID int64) ([]*dataschema.Field, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, fieldFindQuery+" WHERE schema_id = $1 ORDER BY id", schemaID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query fields")
	}
	defer rows.Close()

	var results []*dataschema.Field
	for rows.Next() {
		var row models.Field
		if err := rows.Scan(
			&row.ID,
			&row.SchemaID,
			&row.Name,
			&row.Class,
			&row.Nullable,
			&row.MaxLength,
			&row.GeometryType,
			&row.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan field row")
		}
		results = append(results, toDomainField(&row))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *SchemaRepository) querySchema(ctx context.Context, query string, args ...interface{}) (*dataschema.Schema, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	var row models.Schema
	if err := tx.QueryRow(ctx, query, args...).Scan(
		&row.ID,
		&row.Name,
		&row.DBName,
		&row.TableName,
		&row.Managed,
		&row.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSchemaNotFound
		}
		return nil, errors.Wrap(err, "failed to query schema")
	}
	return toDomainSchema(&row), nil
}

func nullableInt(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}

func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullableString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
