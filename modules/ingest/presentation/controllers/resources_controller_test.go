package controllers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

func newResourcesRouter(c *ResourcesController) *mux.Router {
	r := mux.NewRouter()
	c.Register(r)
	return r
}

func TestResourcesController_List_RejectsMalformedExecutionID(t *testing.T) {
	router := newResourcesRouter(&ResourcesController{basePath: "/api/v1/resources"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/resources?execution_id=not-a-uuid", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	envelope := decodeAPIError(t, rr)
	require.Equal(t, "INVALID_INPUT", envelope.Code)
	require.NotEmpty(t, envelope.Meta["ExecutionID"])
}

func TestResourcesController_List_RejectsOversizeLimit(t *testing.T) {
	router := newResourcesRouter(&ResourcesController{basePath: "/api/v1/resources"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/resources?limit=1000", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	envelope := decodeAPIError(t, rr)
	require.Equal(t, "INVALID_INPUT", envelope.Code)
	require.NotEmpty(t, envelope.Meta["Limit"])
}
