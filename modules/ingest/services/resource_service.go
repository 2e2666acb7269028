package services

import (
	"context"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/spatialops/importer/modules/ingest/domain/entities/resource"
)

type ResourceService struct {
	repo resource.Repository
}

func NewResourceService(repo resource.Repository) *ResourceService {
	return &ResourceService{repo: repo}
}

func (s *ResourceService) GetByAlternate(ctx context.Context, alternate string) (*resource.Resource, error) {
	return s.repo.GetByAlternate(ctx, alternate)
}

// List returns catalog entries matching params. A non-empty query narrows
// the page down by fuzzy-matching against the dataset name.
func (s *ResourceService) List(ctx context.Context, params *resource.FindParams, query string) ([]*resource.Resource, error) {
	items, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return items, nil
	}
	matched := make([]*resource.Resource, 0, len(items))
	for _, item := range items {
		if fuzzy.MatchNormalizedFold(query, item.Name) {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

func (s *ResourceService) Count(ctx context.Context, params *resource.FindParams) (int64, error) {
	return s.repo.Count(ctx, params)
}
