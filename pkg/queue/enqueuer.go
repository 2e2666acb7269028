package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spatialops/importer/pkg/repo"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, tx repo.Tx, table pgx.Identifier, task Task) (sequence int64, err error)
}

type enqueuer struct {
	m *metrics
}

func NewEnqueuer() Enqueuer {
	return &enqueuer{m: getMetrics()}
}

func (e *enqueuer) Enqueue(ctx context.Context, tx repo.Tx, table pgx.Identifier, task Task) (int64, error) {
	if task.ID == uuidZero() {
		return 0, fmt.Errorf("%w: task id is required", ErrInvalidConfig)
	}
	if task.Queue == "" {
		return 0, fmt.Errorf("%w: queue is required", ErrInvalidConfig)
	}
	if task.Kind == "" {
		return 0, fmt.Errorf("%w: kind is required", ErrInvalidConfig)
	}
	if task.MaxAttempts <= 0 {
		return 0, fmt.Errorf("%w: max attempts must be positive", ErrInvalidConfig)
	}
	if len(table) == 0 {
		return 0, fmt.Errorf("%w: table is required", ErrInvalidConfig)
	}

	if len(task.Payload) == 0 {
		task.Payload = []byte(`{}`)
	}
	if task.AvailableAt.IsZero() {
		task.AvailableAt = time.Now()
	}

	tableName := table.Sanitize()
	q := fmt.Sprintf(
		`INSERT INTO %s (id, queue, kind, payload, max_attempts, available_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		 RETURNING sequence`,
		tableName,
	)

	var sequence int64
	if err := tx.QueryRow(ctx, q, task.ID, task.Queue, task.Kind, task.Payload, task.MaxAttempts, task.AvailableAt).Scan(&sequence); err != nil {
		return 0, fmt.Errorf("queue enqueue: %w", err)
	}

	e.m.enqueueTotal.WithLabelValues(TableLabel(table), task.Queue, task.Kind).Inc()

	return sequence, nil
}
