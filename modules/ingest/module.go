package ingest

import (
	"embed"

	"github.com/spatialops/importer/modules/ingest/infrastructure/datastore"
	"github.com/spatialops/importer/modules/ingest/infrastructure/formats"
	"github.com/spatialops/importer/modules/ingest/infrastructure/gdal"
	"github.com/spatialops/importer/modules/ingest/infrastructure/persistence"
	"github.com/spatialops/importer/modules/ingest/presentation/controllers"
	"github.com/spatialops/importer/modules/ingest/services"
	"github.com/spatialops/importer/modules/ingest/tasks"
	"github.com/spatialops/importer/pkg/application"
	"github.com/spatialops/importer/pkg/configuration"
)

//go:embed infrastructure/persistence/schema/00001_ingest.sql
var migrationFiles embed.FS

func NewModule() application.Module {
	return &Module{}
}

type Module struct{}

func (m *Module) Register(app application.Application) error {
	conf := configuration.Use()
	conn, err := gdal.ParseConnection(conf.Datastore.URI())
	if err != nil {
		return err
	}
	store, err := datastore.Open(conn)
	if err != nil {
		return err
	}

	executions := persistence.NewExecutionRepository()
	schemas := persistence.NewSchemaRepository()
	barriers := persistence.NewBarrierRepository()
	resources := persistence.NewResourceRepository()

	registry := formats.Default()
	dispatcher := tasks.NewQueueDispatcher()
	loader := gdal.NewRunner(conn, gdal.Options{
		BinPath: conf.GDAL.Ogr2OgrPath,
		Timeout: conf.GDAL.Timeout,
	})
	schemaService := services.NewSchemaService(schemas)

	app.Migrations().RegisterSchema(&migrationFiles)
	app.RegisterServices(
		registry,
		schemaService,
		services.NewExecutionService(executions, dispatcher, app.EventPublisher()),
		services.NewResourceService(resources),
		services.NewImportService(
			executions,
			schemaService,
			barriers,
			resources,
			registry,
			loader,
			store,
			dispatcher,
			app.EventPublisher(),
			conf.Datastore.Name,
		),
	)
	app.RegisterControllers(
		controllers.NewImportsController(app),
		controllers.NewResourcesController(app),
		controllers.NewOpsController(app),
	)
	return nil
}

func (m *Module) Name() string {
	return "ingest"
}
