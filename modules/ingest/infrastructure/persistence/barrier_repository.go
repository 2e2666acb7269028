package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spatialops/importer/modules/ingest/domain/entities/barrier"
	"github.com/spatialops/importer/modules/ingest/infrastructure/persistence/models"
	"github.com/spatialops/importer/pkg/composables"
)

var ErrBarrierNotFound = errors.New("barrier not found")

type BarrierRepository struct{}

func NewBarrierRepository() barrier.Repository {
	return &BarrierRepository{}
}

func (r *BarrierRepository) Init(ctx context.Context, b *barrier.Barrier) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		ctx,
		`INSERT INTO layer_barriers (execution_id, layer_name, table_name, pending, failed, done)
		 VALUES ($1, $2, $3, $4, false, false)
		 ON CONFLICT (execution_id, layer_name) DO UPDATE
		 SET table_name = EXCLUDED.table_name,
		     pending = EXCLUDED.pending,
		     failed = false,
		     done = false,
		     updated_at = now()`,
		b.ExecutionID.String(), b.LayerName, b.TableName, b.Pending,
	); err != nil {
		return errors.Wrap(err, "failed to init barrier")
	}
	return nil
}

func (r *BarrierRepository) Get(ctx context.Context, executionID uuid.UUID, layerName string) (*barrier.Barrier, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	var row models.Barrier
	if err := tx.QueryRow(
		ctx,
		`SELECT execution_id, layer_name, table_name, pending, failed, done, created_at, updated_at
		 FROM layer_barriers
		 WHERE execution_id = $1 AND layer_name = $2`,
		executionID.String(), layerName,
	).Scan(
		&row.ExecutionID,
		&row.LayerName,
		&row.TableName,
		&row.Pending,
		&row.Failed,
		&row.Done,
		&row.CreatedAt,
		&row.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBarrierNotFound
		}
		return nil, errors.Wrap(err, "failed to query barrier")
	}
	return toDomainBarrier(&row)
}

func (r *BarrierRepository) Arrive(ctx context.Context, executionID uuid.UUID, layerName string) (int, bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, false, err
	}
	var pending int
	var failed bool
	if err := tx.QueryRow(
		ctx,
		`UPDATE layer_barriers
		 SET pending = pending - 1, updated_at = now()
		 WHERE execution_id = $1 AND layer_name = $2
		 RETURNING pending, failed`,
		executionID.String(), layerName,
	).Scan(&pending, &failed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, ErrBarrierNotFound
		}
		return 0, false, errors.Wrap(err, "failed to arrive at barrier")
	}
	return pending, failed, nil
}

func (r *BarrierRepository) MarkFailed(ctx context.Context, executionID uuid.UUID, layerName string) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	// The failed = false guard makes the first caller the only winner.
	tag, err := tx.Exec(
		ctx,
		`UPDATE layer_barriers
		 SET failed = true, updated_at = now()
		 WHERE execution_id = $1 AND layer_name = $2 AND failed = false`,
		executionID.String(), layerName,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to mark barrier failed")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *BarrierRepository) MarkDone(ctx context.Context, executionID uuid.UUID, layerName string) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(
		ctx,
		`UPDATE layer_barriers
		 SET done = true, updated_at = now()
		 WHERE execution_id = $1 AND layer_name = $2`,
		executionID.String(), layerName,
	)
	if err != nil {
		return errors.Wrap(err, "failed to mark barrier done")
	}
	if tag.RowsAffected() == 0 {
		return ErrBarrierNotFound
	}
	return nil
}

func (r *BarrierRepository) CountUnfinished(ctx context.Context, executionID uuid.UUID) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := tx.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM layer_barriers
		 WHERE execution_id = $1 AND done = false AND failed = false`,
		executionID.String(),
	).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count unfinished barriers")
	}
	return count, nil
}
