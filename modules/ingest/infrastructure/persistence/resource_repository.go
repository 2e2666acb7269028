package persistence

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/spatialops/importer/modules/ingest/domain/entities/resource"
	"github.com/spatialops/importer/modules/ingest/infrastructure/persistence/models"
	"github.com/spatialops/importer/pkg/composables"
	"github.com/spatialops/importer/pkg/repo"
)

var ErrResourceNotFound = errors.New("resource not found")

const resourceFindQuery = `
	SELECT id, execution_id, name, alternate, handler, owner, geometry_type, srid, row_count, created_at
	FROM dataset_resources`

type ResourceRepository struct{}

func NewResourceRepository() resource.Repository {
	return &ResourceRepository{}
}

func (r *ResourceRepository) Create(ctx context.Context, res *resource.Resource) (*resource.Resource, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if err := tx.QueryRow(
		ctx,
		`INSERT INTO dataset_resources (execution_id, name, alternate, handler, owner, geometry_type, srid, row_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		res.ExecutionID.String(),
		res.Name,
		res.Alternate,
		res.Handler,
		res.Owner,
		nullableString(res.GeometryType),
		nullableInt(res.SRID),
		nullableInt64(res.RowCount),
	).Scan(&res.ID, &res.CreatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to create resource")
	}
	return res, nil
}

func (r *ResourceRepository) GetByAlternate(ctx context.Context, alternate string) (*resource.Resource, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	var row models.Resource
	if err := tx.QueryRow(ctx, resourceFindQuery+" WHERE alternate = $1", alternate).Scan(
		&row.ID,
		&row.ExecutionID,
		&row.Name,
		&row.Alternate,
		&row.Handler,
		&row.Owner,
		&row.GeometryType,
		&row.SRID,
		&row.RowCount,
		&row.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResourceNotFound
		}
		return nil, errors.Wrap(err, "failed to query resource")
	}
	return toDomainResource(&row)
}

func (r *ResourceRepository) List(ctx context.Context, params *resource.FindParams) ([]*resource.Resource, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	where, args := buildResourceFilters(params)
	query := repo.Join(
		resourceFindQuery,
		repo.JoinWhere(where...),
		"ORDER BY created_at DESC",
	)
	if params != nil {
		query = repo.Join(query, repo.FormatLimitOffset(params.Limit, params.Offset))
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query resources")
	}
	defer rows.Close()

	var results []*resource.Resource
	for rows.Next() {
		var row models.Resource
		if err := rows.Scan(
			&row.ID,
			&row.ExecutionID,
			&row.Name,
			&row.Alternate,
			&row.Handler,
			&row.Owner,
			&row.GeometryType,
			&row.SRID,
			&row.RowCount,
			&row.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan resource row")
		}
		entity, err := toDomainResource(&row)
		if err != nil {
			return nil, err
		}
		results = append(results, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *ResourceRepository) Count(ctx context.Context, params *resource.FindParams) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	where, args := buildResourceFilters(params)
	var count int64
	if err := tx.QueryRow(
		ctx,
		repo.Join("SELECT COUNT(*) FROM dataset_resources", repo.JoinWhere(where...)),
		args...,
	).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count resources")
	}
	return count, nil
}

func buildResourceFilters(params *resource.FindParams) ([]string, []interface{}) {
	var where []string
	var args []interface{}
	if params == nil {
		return where, args
	}
	if params.ExecutionID != nil {
		where = append(where, fmt.Sprintf("execution_id = $%d", len(args)+1))
		args = append(args, params.ExecutionID.String())
	}
	return where, args
}
