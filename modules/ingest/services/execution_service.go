package services

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/spatialops/importer/modules/ingest/domain/entities/execution"
	"github.com/spatialops/importer/modules/ingest/tasks"
	"github.com/spatialops/importer/pkg/eventbus"
)

type ExecutionService struct {
	repo       execution.Repository
	dispatcher tasks.Dispatcher
	publisher  eventbus.EventBus
}

func NewExecutionService(
	repo execution.Repository,
	dispatcher tasks.Dispatcher,
	publisher eventbus.EventBus,
) *ExecutionService {
	return &ExecutionService{
		repo:       repo,
		dispatcher: dispatcher,
		publisher:  publisher,
	}
}

// Create records a new execution and enqueues its coordinator task. Run it
// inside a transaction so the task only becomes claimable once the
// execution row is committed.
func (s *ExecutionService) Create(ctx context.Context, owner string, params execution.InputParams, opts ...execution.Option) (*execution.Execution, error) {
	created, err := s.repo.Create(ctx, execution.New(owner, params, opts...))
	if err != nil {
		return nil, err
	}
	if err := s.dispatcher.ImportResource(ctx, tasks.ImportResourcePayload{ExecutionID: created.ID()}); err != nil {
		return nil, err
	}
	s.publisher.Publish(execution.CreatedEvent{Result: created})
	return created, nil
}

func (s *ExecutionService) GetByID(ctx context.Context, id uuid.UUID) (*execution.Execution, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns executions matching params. A non-empty query narrows the
// page down by fuzzy-matching against the base file name.
func (s *ExecutionService) List(ctx context.Context, params *execution.FindParams, query string) ([]*execution.Execution, error) {
	items, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return items, nil
	}
	matched := make([]*execution.Execution, 0, len(items))
	for _, item := range items {
		name := filepath.Base(item.InputParams().BaseFile())
		if fuzzy.MatchNormalizedFold(query, name) {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

func (s *ExecutionService) Count(ctx context.Context, params *execution.FindParams) (int64, error) {
	return s.repo.Count(ctx, params)
}
