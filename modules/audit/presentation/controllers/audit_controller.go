package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/spatialops/importer/modules/audit/domain/entities/auditlog"
	"github.com/spatialops/importer/modules/audit/presentation/controllers/dtos"
	"github.com/spatialops/importer/modules/audit/services"
	"github.com/spatialops/importer/pkg/application"
	"github.com/spatialops/importer/pkg/composables"
	"github.com/spatialops/importer/pkg/httpapi"
)

type AuditController struct {
	app      application.Application
	audit    *services.AuditService
	basePath string
}

func NewAuditController(app application.Application) application.Controller {
	return &AuditController{
		app:      app,
		audit:    app.Service(services.AuditService{}).(*services.AuditService),
		basePath: "/api/v1/audit",
	}
}

func (c *AuditController) Key() string {
	return c.basePath
}

func (c *AuditController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("", c.List).Methods(http.MethodGet)
}

type auditEntryView struct {
	ID          int64           `json:"id"`
	ExecutionID *string         `json:"execution_id,omitempty"`
	Event       string          `json:"event"`
	Message     string          `json:"message"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func newAuditEntryView(entry *auditlog.AuditLog) auditEntryView {
	view := auditEntryView{
		ID:        entry.ID,
		Event:     entry.Event,
		Message:   entry.Message,
		Payload:   entry.Payload,
		CreatedAt: entry.CreatedAt,
	}
	if entry.ExecutionID != nil {
		id := entry.ExecutionID.String()
		view.ExecutionID = &id
	}
	return view
}

type auditListView struct {
	Items []auditEntryView `json:"items"`
	Total int64            `json:"total"`
}

func (c *AuditController) List(w http.ResponseWriter, r *http.Request) {
	dto, err := composables.UseQuery(&dtos.ListAuditDTO{}, r)
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if messages, ok := dto.Ok(); !ok {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "INVALID_INPUT", "validation failed", messages)
		return
	}

	params, err := dto.ToFindParams()
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}

	entries, total, err := c.audit.List(r.Context(), params)
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}

	views := make([]auditEntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, newAuditEntryView(entry))
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, auditListView{Items: views, Total: total})
}
