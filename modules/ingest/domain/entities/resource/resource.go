package resource

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Resource is the catalog record published for one imported layer.
type Resource struct {
	ID           int64
	ExecutionID  uuid.UUID
	Name         string
	Alternate    string
	Handler      string
	Owner        string
	GeometryType *string
	SRID         *int
	RowCount     *int64
	CreatedAt    time.Time
}

type FindParams struct {
	ExecutionID *uuid.UUID
	Limit       int
	Offset      int
}

type Repository interface {
	Create(ctx context.Context, r *Resource) (*Resource, error)
	GetByAlternate(ctx context.Context, alternate string) (*Resource, error)
	List(ctx context.Context, params *FindParams) ([]*Resource, error)
	Count(ctx context.Context, params *FindParams) (int64, error)
}

type CreatedEvent struct {
	Result *Resource
}
