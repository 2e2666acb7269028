package barrier

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Barrier is the join point for one layer's fan-out. It starts with
// pending equal to the number of parallel members; every successful
// member decrements it, and the member that reaches zero fires the
// continuation. A failed member flips the failed flag instead, which
// both blocks the continuation and elects the rollback dispatcher.
type Barrier struct {
	ExecutionID uuid.UUID
	LayerName   string
	TableName   string
	Pending     int
	Failed      bool
	Done        bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Repository interface {
	Init(ctx context.Context, b *Barrier) error
	Get(ctx context.Context, executionID uuid.UUID, layerName string) (*Barrier, error)
	// Arrive atomically decrements pending and returns the resulting
	// count together with the failed flag, both read in the same
	// statement that performed the decrement.
	Arrive(ctx context.Context, executionID uuid.UUID, layerName string) (pending int, failed bool, err error)
	// MarkFailed flips failed from false to true. Exactly one caller
	// observes won == true; that caller owns dispatching the rollback.
	MarkFailed(ctx context.Context, executionID uuid.UUID, layerName string) (won bool, err error)
	MarkDone(ctx context.Context, executionID uuid.UUID, layerName string) error
	CountUnfinished(ctx context.Context, executionID uuid.UUID) (int64, error)
}
