package persistence

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/spatialops/importer/modules/audit/domain/entities/auditlog"
	"github.com/spatialops/importer/modules/audit/infrastructure/persistence/models"
	"github.com/spatialops/importer/pkg/composables"
	"github.com/spatialops/importer/pkg/repo"
)

const auditLogFindQuery = `
	SELECT id, execution_id, event, message, payload, created_at
	FROM import_audit_log`

type AuditLogRepository struct{}

func NewAuditLogRepository() auditlog.Repository {
	return &AuditLogRepository{}
}

func (r *AuditLogRepository) Create(ctx context.Context, entry *auditlog.AuditLog) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	payload := []byte(entry.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var executionID interface{}
	if entry.ExecutionID != nil {
		executionID = entry.ExecutionID.String()
	}
	if err := tx.QueryRow(
		ctx,
		`INSERT INTO import_audit_log (execution_id, event, message, payload)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		executionID,
		entry.Event,
		entry.Message,
		payload,
	).Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return errors.Wrap(err, "failed to create audit entry")
	}
	return nil
}

func (r *AuditLogRepository) List(ctx context.Context, params *auditlog.FindParams) ([]*auditlog.AuditLog, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	where, args := buildAuditLogFilters(params)
	query := repo.Join(
		auditLogFindQuery,
		repo.JoinWhere(where...),
		"ORDER BY created_at DESC, id DESC",
	)
	if params != nil {
		query = repo.Join(query, repo.FormatLimitOffset(params.Limit, params.Offset))
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit entries")
	}
	defer rows.Close()

	var results []*auditlog.AuditLog
	for rows.Next() {
		var row models.AuditLog
		if err := rows.Scan(
			&row.ID,
			&row.ExecutionID,
			&row.Event,
			&row.Message,
			&row.Payload,
			&row.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan audit row")
		}
		entry, err := toDomainAuditLog(&row)
		if err != nil {
			return nil, err
		}
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *AuditLogRepository) Count(ctx context.Context, params *auditlog.FindParams) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	where, args := buildAuditLogFilters(params)
	query := repo.Join(
		`SELECT COUNT(*) FROM import_audit_log`,
		repo.JoinWhere(where...),
	)
	var count int64
	if err := tx.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count audit entries")
	}
	return count, nil
}

func buildAuditLogFilters(params *auditlog.FindParams) ([]string, []interface{}) {
	var where []string
	var args []interface{}
	if params == nil {
		return where, args
	}
	argPos := 1
	if params.ExecutionID != nil {
		where = append(where, fmt.Sprintf("execution_id = $%d", argPos))
		args = append(args, params.ExecutionID.String())
		argPos++
	}
	if params.Event != "" {
		where = append(where, fmt.Sprintf("event = $%d", argPos))
		args = append(args, params.Event)
	}
	return where, args
}
