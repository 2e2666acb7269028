package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spatialops/importer/modules/ingest/domain/entities/execution"
	"github.com/spatialops/importer/modules/ingest/infrastructure/persistence/models"
	"github.com/spatialops/importer/pkg/composables"
	"github.com/spatialops/importer/pkg/repo"
)

var ErrExecutionNotFound = errors.New("execution not found")

const (
	executionFindQuery = `
		SELECT id, owner, status, step, input_params, output_params, log, created_at, updated_at
		FROM import_executions`

	executionInsertQuery = `
		INSERT INTO import_executions (id, owner, status, step, input_params, output_params, log, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	executionCountQuery = `SELECT COUNT(*) FROM import_executions`
)

type ExecutionRepository struct{}

func NewExecutionRepository() execution.Repository {
	return &ExecutionRepository{}
}

func (r *ExecutionRepository) Create(ctx context.Context, e *execution.Execution) (*execution.Execution, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	dbRow, err := toDBExecution(e)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(
		ctx,
		executionInsertQuery,
		dbRow.ID,
		dbRow.Owner,
		dbRow.Status,
		dbRow.Step,
		dbRow.InputParams,
		dbRow.OutputParams,
		dbRow.Log,
		dbRow.CreatedAt,
		dbRow.UpdatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create execution")
	}
	return r.GetByID(ctx, e.ID())
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*execution.Execution, error) {
	executions, err := r.queryExecutions(ctx, repo.Join(executionFindQuery, "WHERE id = $1"), id.String())
	if err != nil {
		return nil, err
	}
	if len(executions) == 0 {
		return nil, ErrExecutionNotFound
	}
	return executions[0], nil
}

func (r *ExecutionRepository) List(ctx context.Context, params *execution.FindParams) ([]*execution.Execution, error) {
	where, args := buildExecutionFilters(params)
	query := repo.Join(
		executionFindQuery,
		repo.JoinWhere(where...),
		"ORDER BY created_at DESC",
	)
	if params != nil {
		query = repo.Join(query, repo.FormatLimitOffset(params.Limit, params.Offset))
	}
	return r.queryExecutions(ctx, query, args...)
}

func (r *ExecutionRepository) Count(ctx context.Context, params *execution.FindParams) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	where, args := buildExecutionFilters(params)
	var count int64
	if err := tx.QueryRow(
		ctx,
		repo.Join(executionCountQuery, repo.JoinWhere(where...)),
		args...,
	).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count executions")
	}
	return count, nil
}

func (r *ExecutionRepository) SetStatus(ctx context.Context, id uuid.UUID, status execution.Status, reason string) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	var tag pgconn.CommandTag
	if reason != "" {
		tag, err = tx.Exec(
			ctx,
			`UPDATE import_executions
			 SET status = $2,
			     log = CASE WHEN log = '' THEN $3 ELSE log || E'\n' || $3 END,
			     updated_at = now()
			 WHERE id = $1`,
			id.String(), string(status), reason,
		)
	} else {
		tag, err = tx.Exec(
			ctx,
			`UPDATE import_executions SET status = $2, updated_at = now() WHERE id = $1`,
			id.String(), string(status),
		)
	}
	if err != nil {
		return errors.Wrap(err, "failed to set execution status")
	}
	if tag.RowsAffected() == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

func (r *ExecutionRepository) SetStep(ctx context.Context, id uuid.UUID, step execution.Step) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(
		ctx,
		`UPDATE import_executions SET step = $2, updated_at = now() WHERE id = $1`,
		id.String(), string(step),
	)
	if err != nil {
		return errors.Wrap(err, "failed to set execution step")
	}
	if tag.RowsAffected() == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

func (r *ExecutionRepository) AppendLog(ctx context.Context, id uuid.UUID, line string) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(
		ctx,
		`UPDATE import_executions
		 SET log = CASE WHEN log = '' THEN $2 ELSE log || E'\n' || $2 END,
		     updated_at = now()
		 WHERE id = $1`,
		id.String(), line,
	)
	if err != nil {
		return errors.Wrap(err, "failed to append execution log")
	}
	if tag.RowsAffected() == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

func (r *ExecutionRepository) SetOutputParams(ctx context.Context, id uuid.UUID, params map[string]interface{}) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	dbRow, err := toDBOutputParams(params)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(
		ctx,
		`UPDATE import_executions SET output_params = $2, updated_at = now() WHERE id = $1`,
		id.String(), dbRow,
	)
	if err != nil {
		return errors.Wrap(err, "failed to set execution output params")
	}
	if tag.RowsAffected() == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

func (r *ExecutionRepository) MergeOutputParams(ctx context.Context, id uuid.UUID, params map[string]interface{}) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	fragment, err := toDBOutputParams(params)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(
		ctx,
		`UPDATE import_executions SET output_params = output_params || $2::jsonb, updated_at = now() WHERE id = $1`,
		id.String(), fragment,
	)
	if err != nil {
		return errors.Wrap(err, "failed to merge execution output params")
	}
	if tag.RowsAffected() == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]*execution.Execution, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query executions")
	}
	defer rows.Close()

	var results []*execution.Execution
	for rows.Next() {
		var row models.Execution
		if err := rows.Scan(
			&row.ID,
			&row.Owner,
			&row.Status,
			&row.Step,
			&row.InputParams,
			&row.OutputParams,
			&row.Log,
			&row.CreatedAt,
			&row.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan execution row")
		}
		entity, err := toDomainExecution(&row)
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

func buildExecutionFilters(params *execution.FindParams) ([]string, []interface{}) {
	var where []string
	var args []interface{}
	if params == nil {
		return where, args
	}
	argPos := 1
	if params.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(*params.Status))
		argPos++
	}
	if owner := strings.TrimSpace(params.Owner); owner != "" {
		where = append(where, fmt.Sprintf("owner = $%d", argPos))
		args = append(args, owner)
	}
	return where, args
}
