package controllers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/spatialops/importer/modules/ingest/tasks"
	"github.com/spatialops/importer/pkg/application"
	"github.com/spatialops/importer/pkg/configuration"
	"github.com/spatialops/importer/pkg/httpapi"
)

type healthStatus string

const (
	healthStatusHealthy  healthStatus = "healthy"
	healthStatusDegraded healthStatus = "degraded"
	healthStatusDown     healthStatus = "down"
)

type healthResponse struct {
	Status    healthStatus   `json:"status"`
	Timestamp string         `json:"timestamp"`
	Checks    map[string]any `json:"checks"`
}

type componentHealth struct {
	Status       healthStatus   `json:"status"`
	ResponseTime string         `json:"responseTime,omitempty"`
	Error        string         `json:"error,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

const (
	queuePendingDegradedThreshold = int64(1000)
	queueOldestAvailableDegraded  = 5 * time.Minute
	dbDegradedLatency             = 100 * time.Millisecond
)

// OpsController reports pipeline liveness for probes and the on-call
// dashboard. Degraded states still answer 200 so orchestrators do not
// restart a server that is merely behind on its queue.
type OpsController struct {
	app         application.Application
	uploadsRoot string
	basePath    string
}

func NewOpsController(app application.Application) application.Controller {
	conf := configuration.Use()
	return &OpsController{
		app:         app,
		uploadsRoot: conf.UploadsPath,
		basePath:    "/health",
	}
}

func (c *OpsController) Key() string {
	return c.basePath
}

func (c *OpsController) Register(r *mux.Router) {
	r.HandleFunc(c.basePath, c.Health).Methods(http.MethodGet)
}

func (c *OpsController) Health(w http.ResponseWriter, r *http.Request) {
	response := c.performHealthChecks(r.Context())

	status := http.StatusOK
	if response.Status == healthStatusDown {
		status = http.StatusServiceUnavailable
	}
	_ = httpapi.WriteJSON(w, status, response)
}

func (c *OpsController) performHealthChecks(ctx context.Context) healthResponse {
	checks := make(map[string]any)
	overall := healthStatusHealthy

	dbHealth := c.checkDatabase(ctx)
	checks["database"] = dbHealth
	overall = mergeHealthStatus(overall, dbHealth.Status)

	queueHealth := c.checkQueue(ctx)
	checks["queue"] = queueHealth
	overall = mergeHealthStatus(overall, queueHealth.Status)

	uploadsHealth := c.checkUploads()
	checks["uploads"] = uploadsHealth
	overall = mergeHealthStatus(overall, uploadsHealth.Status)

	return healthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
}

func mergeHealthStatus(current, next healthStatus) healthStatus {
	if next == healthStatusDown {
		return healthStatusDown
	}
	if next == healthStatusDegraded && current == healthStatusHealthy {
		return healthStatusDegraded
	}
	return current
}

func (c *OpsController) checkDatabase(ctx context.Context) componentHealth {
	start := time.Now()

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	db := c.app.DB()
	if db == nil {
		return componentHealth{
			Status:       healthStatusDown,
			ResponseTime: time.Since(start).String(),
			Error:        "database connection pool not available",
		}
	}

	var result int
	err := db.QueryRow(timeoutCtx, "SELECT 1").Scan(&result)
	responseTime := time.Since(start)
	if err != nil {
		return componentHealth{
			Status:       healthStatusDown,
			ResponseTime: responseTime.String(),
			Error:        fmt.Sprintf("database query failed: %v", err),
		}
	}

	status := healthStatusHealthy
	if responseTime > dbDegradedLatency {
		status = healthStatusDegraded
	}

	return componentHealth{
		Status:       status,
		ResponseTime: responseTime.String(),
	}
}

func (c *OpsController) checkQueue(ctx context.Context) componentHealth {
	start := time.Now()

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	db := c.app.DB()
	if db == nil {
		return componentHealth{
			Status:       healthStatusDown,
			ResponseTime: time.Since(start).String(),
			Error:        "database connection pool not available",
		}
	}

	query := fmt.Sprintf(`SELECT
		    count(*) FILTER (WHERE completed_at IS NULL AND failed_at IS NULL),
		    count(*) FILTER (WHERE failed_at IS NOT NULL),
		    min(available_at) FILTER (WHERE completed_at IS NULL AND failed_at IS NULL)
		  FROM %s`, tasks.Table().Sanitize())

	var pending, dead int64
	var oldestAvailable *time.Time
	if err := db.QueryRow(timeoutCtx, query).Scan(&pending, &dead, &oldestAvailable); err != nil {
		return componentHealth{
			Status:       healthStatusDown,
			ResponseTime: time.Since(start).String(),
			Error:        fmt.Sprintf("queue depth query failed: %v", err),
		}
	}

	status := healthStatusHealthy
	var oldestAgeStr string
	if oldestAvailable != nil {
		age := time.Since(*oldestAvailable)
		oldestAgeStr = age.Truncate(time.Second).String()
		if age > queueOldestAvailableDegraded {
			status = healthStatusDegraded
		}
	}
	if pending > queuePendingDegradedThreshold {
		status = healthStatusDegraded
	}

	details := map[string]any{
		"pending": pending,
		"dead":    dead,
	}
	if oldestAgeStr != "" {
		details["oldest_available_age"] = oldestAgeStr
	}

	return componentHealth{
		Status:       status,
		ResponseTime: time.Since(start).String(),
		Details:      details,
	}
}

func (c *OpsController) checkUploads() componentHealth {
	start := time.Now()

	info, err := os.Stat(c.uploadsRoot)
	switch {
	case err != nil && os.IsNotExist(err):
		// The storage layer creates the root on first upload, so a
		// missing directory on a fresh deployment is not fatal.
		return componentHealth{
			Status:       healthStatusDegraded,
			ResponseTime: time.Since(start).String(),
			Details:      map[string]any{"path": c.uploadsRoot, "exists": false},
		}
	case err != nil:
		return componentHealth{
			Status:       healthStatusDown,
			ResponseTime: time.Since(start).String(),
			Error:        fmt.Sprintf("uploads root stat failed: %v", err),
		}
	case !info.IsDir():
		return componentHealth{
			Status:       healthStatusDown,
			ResponseTime: time.Since(start).String(),
			Error:        fmt.Sprintf("uploads root %s is not a directory", c.uploadsRoot),
		}
	}

	return componentHealth{
		Status:       healthStatusHealthy,
		ResponseTime: time.Since(start).String(),
		Details:      map[string]any{"path": c.uploadsRoot, "exists": true},
	}
}
