package execution

import (
	"context"

	"github.com/google/uuid"
)

type FindParams struct {
	Status *Status
	Owner  string
	Limit  int
	Offset int
}

type Repository interface {
	Create(ctx context.Context, e *Execution) (*Execution, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Execution, error)
	List(ctx context.Context, params *FindParams) ([]*Execution, error)
	Count(ctx context.Context, params *FindParams) (int64, error)
	// SetStatus moves the execution to status; when reason is non-empty it
	// is appended to the log in the same statement.
	SetStatus(ctx context.Context, id uuid.UUID, status Status, reason string) error
	SetStep(ctx context.Context, id uuid.UUID, step Step) error
	// AppendLog appends a line to the progress log. Appending happens in
	// SQL so concurrent workers never overwrite each other's lines.
	AppendLog(ctx context.Context, id uuid.UUID, line string) error
	SetOutputParams(ctx context.Context, id uuid.UUID, params map[string]interface{}) error
	// MergeOutputParams merges keys into the output params. The merge is
	// a SQL-side jsonb concatenation so concurrent layer tasks never
	// overwrite each other's keys.
	MergeOutputParams(ctx context.Context, id uuid.UUID, params map[string]interface{}) error
}
