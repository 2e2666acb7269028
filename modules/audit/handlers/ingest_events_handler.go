package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/spatialops/importer/modules/audit/domain/entities/auditlog"
	"github.com/spatialops/importer/modules/audit/services"
	"github.com/spatialops/importer/modules/ingest/domain/entities/execution"
	"github.com/spatialops/importer/modules/ingest/domain/entities/resource"
	"github.com/spatialops/importer/pkg/application"
	"github.com/spatialops/importer/pkg/composables"
	"github.com/spatialops/importer/pkg/configuration"
)

// AuditRecorder is the slice of the audit service the handler writes
// through.
type AuditRecorder interface {
	Record(ctx context.Context, entry *auditlog.AuditLog) error
}

// IngestEventsHandler mirrors the pipeline's domain events into the audit
// trail. Publishing is synchronous, so a slow insert slows the publisher;
// entries are single-row writes to keep that window small.
type IngestEventsHandler struct {
	app     application.Application
	service AuditRecorder
	logger  *logrus.Logger
}

func NewIngestEventsHandler(app application.Application, service AuditRecorder) *IngestEventsHandler {
	return &IngestEventsHandler{
		app:     app,
		service: service,
		logger:  configuration.Use().Logger(),
	}
}

func RegisterIngestEventHandlers(app application.Application) {
	handler := NewIngestEventsHandler(app, app.Service(services.AuditService{}).(*services.AuditService))
	app.EventPublisher().Subscribe(handler.onExecutionCreated)
	app.EventPublisher().Subscribe(handler.onStatusChanged)
	app.EventPublisher().Subscribe(handler.onLayerImported)
	app.EventPublisher().Subscribe(handler.onResourceCreated)
	app.EventPublisher().Subscribe(handler.onLayerRolledBack)
}

func (h *IngestEventsHandler) onExecutionCreated(event execution.CreatedEvent) {
	if event.Result == nil {
		return
	}
	id := event.Result.ID()
	params := event.Result.InputParams()
	h.record(&auditlog.AuditLog{
		ExecutionID: &id,
		Event:       auditlog.EventExecutionCreated,
		Message:     fmt.Sprintf("import accepted for %s", event.Result.Owner()),
	}, map[string]interface{}{
		"owner":     event.Result.Owner(),
		"base_file": params.BaseFile(),
		"handler":   params.Handler,
	})
}

func (h *IngestEventsHandler) onStatusChanged(event execution.StatusChangedEvent) {
	id := event.ExecutionID
	h.record(&auditlog.AuditLog{
		ExecutionID: &id,
		Event:       auditlog.EventStatusChanged,
		Message:     event.Reason,
	}, map[string]interface{}{
		"status": event.Status,
		"reason": event.Reason,
	})
}

func (h *IngestEventsHandler) onLayerImported(event execution.LayerImportedEvent) {
	id := event.ExecutionID
	h.record(&auditlog.AuditLog{
		ExecutionID: &id,
		Event:       auditlog.EventLayerImported,
		Message:     fmt.Sprintf("layer %s imported as %s", event.LayerName, event.Alternate),
	}, map[string]interface{}{
		"layer":     event.LayerName,
		"alternate": event.Alternate,
	})
}

func (h *IngestEventsHandler) onResourceCreated(event resource.CreatedEvent) {
	if event.Result == nil {
		return
	}
	id := event.Result.ExecutionID
	h.record(&auditlog.AuditLog{
		ExecutionID: &id,
		Event:       auditlog.EventResourceCreated,
		Message:     fmt.Sprintf("resource %s published", event.Result.Alternate),
	}, map[string]interface{}{
		"name":      event.Result.Name,
		"alternate": event.Result.Alternate,
		"owner":     event.Result.Owner,
	})
}

func (h *IngestEventsHandler) onLayerRolledBack(event execution.RolledBackEvent) {
	id := event.ExecutionID
	h.record(&auditlog.AuditLog{
		ExecutionID: &id,
		Event:       auditlog.EventLayerRolledBack,
		Message:     fmt.Sprintf("table %s rolled back", event.TableName),
	}, map[string]interface{}{
		"layer": event.LayerName,
		"table": event.TableName,
	})
}

func (h *IngestEventsHandler) record(entry *auditlog.AuditLog, payload map[string]interface{}) {
	if h.service == nil || h.app == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).WithField("event", entry.Event).Warn("failed to encode audit payload")
	} else {
		entry.Payload = body
	}

	ctx := composables.WithPool(context.Background(), h.app.DB())
	if err := h.service.Record(ctx, entry); err != nil {
		h.logger.WithError(err).WithField("event", entry.Event).Warn("failed to persist audit entry")
	}
}
