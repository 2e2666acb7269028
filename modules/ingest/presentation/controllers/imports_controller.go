package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/spatialops/importer/modules/ingest/domain/entities/execution"
	"github.com/spatialops/importer/modules/ingest/infrastructure/formats"
	"github.com/spatialops/importer/modules/ingest/infrastructure/persistence"
	"github.com/spatialops/importer/modules/ingest/infrastructure/uploads"
	"github.com/spatialops/importer/modules/ingest/presentation/controllers/dtos"
	"github.com/spatialops/importer/modules/ingest/services"
	"github.com/spatialops/importer/pkg/application"
	"github.com/spatialops/importer/pkg/composables"
	"github.com/spatialops/importer/pkg/configuration"
	"github.com/spatialops/importer/pkg/httpapi"
	"github.com/spatialops/importer/pkg/shared"
)

type ImportsController struct {
	app        application.Application
	executions *services.ExecutionService
	registry   *formats.Registry
	storage    *uploads.Storage
	basePath   string
}

func NewImportsController(app application.Application) application.Controller {
	return &ImportsController{
		app:        app,
		executions: app.Service(services.ExecutionService{}).(*services.ExecutionService),
		registry:   app.Service(formats.Registry{}).(*formats.Registry),
		storage:    uploads.NewStorage(configuration.Use().UploadsPath),
		basePath:   "/api/v1/imports",
	}
}

func (c *ImportsController) Key() string {
	return c.basePath
}

func (c *ImportsController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("", c.Create).Methods(http.MethodPost)
	router.HandleFunc("", c.List).Methods(http.MethodGet)
	router.HandleFunc("/{id}", c.GetByID).Methods(http.MethodGet)
}

type executionView struct {
	ID           string                 `json:"id"`
	Owner        string                 `json:"owner"`
	Status       string                 `json:"status"`
	Step         string                 `json:"step"`
	InputParams  execution.InputParams  `json:"input_params"`
	OutputParams map[string]interface{} `json:"output_params,omitempty"`
	Log          string                 `json:"log,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

func newExecutionView(e *execution.Execution) executionView {
	return executionView{
		ID:           e.ID().String(),
		Owner:        e.Owner(),
		Status:       string(e.Status()),
		Step:         string(e.Step()),
		InputParams:  e.InputParams(),
		OutputParams: e.OutputParams(),
		Log:          e.Log(),
		CreatedAt:    e.CreatedAt(),
		UpdatedAt:    e.UpdatedAt(),
	}
}

type executionListView struct {
	Items []executionView `json:"items"`
	Total int64           `json:"total"`
}

// Create accepts the multipart upload, stores its files and registers the
// execution together with its coordinator task in one transaction.
func (c *ImportsController) Create(w http.ResponseWriter, r *http.Request) {
	conf := configuration.Use()
	r.Body = http.MaxBytesReader(w, r.Body, conf.MaxUploadSize)

	if err := r.ParseMultipartForm(conf.MaxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = httpapi.WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", err.Error(), nil)
			return
		}
		_ = httpapi.WriteError(w, http.StatusBadRequest, "INVALID_MULTIPART", err.Error(), nil)
		return
	}

	var dto dtos.CreateImportDTO
	if err := shared.Decoder.Decode(&dto, r.MultipartForm.Value); err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if messages, ok := dto.Ok(); !ok {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "INVALID_INPUT", "validation failed", messages)
		return
	}
	if len(r.MultipartForm.File[uploads.BaseFileRole]) == 0 {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "MISSING_BASE_FILE", "base_file is required", nil)
		return
	}

	executionID := uuid.New()
	files, checksums, err := c.storage.SaveForm(executionID.String(), r.MultipartForm)
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "UPLOAD_FAILED", err.Error(), nil)
		return
	}

	fileset := formats.Fileset{BaseFile: files[uploads.BaseFileRole], Files: files}
	if _, err := c.registry.Resolve(dto.Handler, fileset); err != nil {
		c.removeUpload(r.Context(), executionID)
		_ = httpapi.WriteError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", err.Error(), nil)
		return
	}

	var created *execution.Execution
	err = composables.InTx(r.Context(), func(txCtx context.Context) error {
		var txErr error
		created, txErr = c.executions.Create(txCtx, resolveOwner(r), dto.ToInputParams(files, checksums), execution.WithID(executionID))
		return txErr
	})
	if err != nil {
		c.removeUpload(r.Context(), executionID)
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}

	_ = httpapi.WriteJSON(w, http.StatusCreated, newExecutionView(created))
}

func (c *ImportsController) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "INVALID_ID", "id must be a uuid", nil)
		return
	}

	exec, err := c.executions.GetByID(r.Context(), id)
	if errors.Is(err, persistence.ErrExecutionNotFound) {
		_ = httpapi.WriteError(w, http.StatusNotFound, "NOT_FOUND", "execution not found", nil)
		return
	}
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}

	_ = httpapi.WriteJSON(w, http.StatusOK, newExecutionView(exec))
}

func (c *ImportsController) List(w http.ResponseWriter, r *http.Request) {
	dto, err := composables.UseQuery(&dtos.ListImportsDTO{}, r)
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if messages, ok := dto.Ok(); !ok {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "INVALID_INPUT", "validation failed", messages)
		return
	}

	params := dto.ToFindParams()
	items, err := c.executions.List(r.Context(), params, dto.Query)
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}

	// The fuzzy filter runs after the page is fetched, so the repo count
	// only holds for unfiltered listings.
	total := int64(len(items))
	if dto.Query == "" {
		total, err = c.executions.Count(r.Context(), params)
		if err != nil {
			_ = httpapi.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
			return
		}
	}

	views := make([]executionView, 0, len(items))
	for _, item := range items {
		views = append(views, newExecutionView(item))
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, executionListView{Items: views, Total: total})
}

func (c *ImportsController) removeUpload(ctx context.Context, executionID uuid.UUID) {
	if err := c.storage.Remove(executionID.String()); err != nil {
		composables.TryUseLogger(ctx).WithError(err).Warn("failed to remove rejected upload")
	}
}

func resolveOwner(r *http.Request) string {
	owner := strings.TrimSpace(r.Header.Get("X-User"))
	if owner == "" {
		return "anonymous"
	}
	return owner
}
