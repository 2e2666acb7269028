package services

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/spatialops/importer/modules/audit/domain/entities/auditlog"
)

type AuditService struct {
	repo auditlog.Repository
}

func NewAuditService(repo auditlog.Repository) *AuditService {
	return &AuditService{repo: repo}
}

func (s *AuditService) Record(ctx context.Context, entry *auditlog.AuditLog) error {
	if entry == nil {
		return errors.New("audit entry is required")
	}
	return s.repo.Create(ctx, entry)
}

func (s *AuditService) List(ctx context.Context, params *auditlog.FindParams) ([]*auditlog.AuditLog, int64, error) {
	if params == nil {
		params = &auditlog.FindParams{}
	}
	entries, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.repo.Count(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return entries, count, nil
}
