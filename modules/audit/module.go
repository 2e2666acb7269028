package audit

import (
	"embed"

	"github.com/spatialops/importer/modules/audit/handlers"
	"github.com/spatialops/importer/modules/audit/infrastructure/persistence"
	"github.com/spatialops/importer/modules/audit/presentation/controllers"
	"github.com/spatialops/importer/modules/audit/services"
	"github.com/spatialops/importer/pkg/application"
	"github.com/spatialops/importer/pkg/configuration"
)

//go:embed infrastructure/persistence/schema/00002_audit.sql
var migrationFiles embed.FS

func NewModule() application.Module {
	return &Module{}
}

type Module struct{}

func (m *Module) Register(app application.Application) error {
	app.Migrations().RegisterSchema(&migrationFiles)
	app.RegisterServices(
		services.NewAuditService(persistence.NewAuditLogRepository()),
	)
	app.RegisterControllers(
		controllers.NewAuditController(app),
	)
	// With recording disabled the trail stays queryable, it just stops
	// growing.
	if configuration.Use().AuditLogEnabled {
		handlers.RegisterIngestEventHandlers(app)
	}
	return nil
}

func (m *Module) Name() string {
	return "audit"
}
