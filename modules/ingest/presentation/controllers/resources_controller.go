package controllers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/spatialops/importer/modules/ingest/domain/entities/resource"
	"github.com/spatialops/importer/modules/ingest/presentation/controllers/dtos"
	"github.com/spatialops/importer/modules/ingest/services"
	"github.com/spatialops/importer/pkg/application"
	"github.com/spatialops/importer/pkg/composables"
	"github.com/spatialops/importer/pkg/httpapi"
)

type ResourcesController struct {
	app       application.Application
	resources *services.ResourceService
	basePath  string
}

func NewResourcesController(app application.Application) application.Controller {
	return &ResourcesController{
		app:       app,
		resources: app.Service(services.ResourceService{}).(*services.ResourceService),
		basePath:  "/api/v1/resources",
	}
}

func (c *ResourcesController) Key() string {
	return c.basePath
}

func (c *ResourcesController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("", c.List).Methods(http.MethodGet)
}

type resourceView struct {
	ID           int64     `json:"id"`
	ExecutionID  string    `json:"execution_id"`
	Name         string    `json:"name"`
	Alternate    string    `json:"alternate"`
	Handler      string    `json:"handler,omitempty"`
	Owner        string    `json:"owner"`
	GeometryType *string   `json:"geometry_type,omitempty"`
	SRID         *int      `json:"srid,omitempty"`
	RowCount     *int64    `json:"row_count,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func newResourceView(res *resource.Resource) resourceView {
	return resourceView{
		ID:           res.ID,
		ExecutionID:  res.ExecutionID.String(),
		Name:         res.Name,
		Alternate:    res.Alternate,
		Handler:      res.Handler,
		Owner:        res.Owner,
		GeometryType: res.GeometryType,
		SRID:         res.SRID,
		RowCount:     res.RowCount,
		CreatedAt:    res.CreatedAt,
	}
}

type resourceListView struct {
	Items []resourceView `json:"items"`
	Total int64          `json:"total"`
}

func (c *ResourcesController) List(w http.ResponseWriter, r *http.Request) {
	dto, err := composables.UseQuery(&dtos.ListResourcesDTO{}, r)
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

	items, err := c.resources.List(r.Context(), params, dto.Query)
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}

	// The fuzzy filter runs after the page is fetched, so the repo count
	// only holds for unfiltered listings.
	total := int64(len(items))
	if dto.Query == "" {
		total, err = c.resources.Count(r.Context(), params)
		if err != nil {
			_ = httpapi.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
			return
		}
	}

	views := make([]resourceView, 0, len(items))
	for _, item := range items {
		views = append(views, newResourceView(item))
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, resourceListView{Items: views, Total: total})
}
