package application

import (
	"context"
	"embed"
	"reflect"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/spatialops/importer/pkg/eventbus"
)

// Module is a self-contained feature unit. Register wires the module's
// services, controllers, middleware and schema into the application.
type Module interface {
	Name() string
	Register(app Application) error
}

// Controller mounts a group of routes on the router. Key must be unique;
// registering a controller with an existing key replaces it.
type Controller interface {
	Key() string
	Register(r *mux.Router)
}

// MigrationManager applies the schema files modules register at load time.
type MigrationManager interface {
	RegisterSchema(fs ...*embed.FS)
	Run(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Application interface {
	DB() *pgxpool.Pool
	EventPublisher() eventbus.EventBus
	Logger() *logrus.Logger
	Migrations() MigrationManager
	Controllers() []Controller
	Middleware() []mux.MiddlewareFunc
	Services() map[reflect.Type]interface{}
	Service(service interface{}) interface{}
	RegisterControllers(controllers ...Controller)
	RegisterMiddleware(middleware ...mux.MiddlewareFunc)
	RegisterServices(services ...interface{})
}
