package routelint

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	internalserver "github.com/spatialops/importer/internal/server"
	auditpersistence "github.com/spatialops/importer/modules/audit/infrastructure/persistence"
	auditcontrollers "github.com/spatialops/importer/modules/audit/presentation/controllers"
	auditservices "github.com/spatialops/importer/modules/audit/services"
	"github.com/spatialops/importer/modules/ingest/infrastructure/formats"
	"github.com/spatialops/importer/modules/ingest/infrastructure/persistence"
	"github.com/spatialops/importer/modules/ingest/presentation/controllers"
	"github.com/spatialops/importer/modules/ingest/services"
	"github.com/spatialops/importer/modules/ingest/tasks"
	"github.com/spatialops/importer/pkg/application"
	"github.com/spatialops/importer/pkg/configuration"
	"github.com/spatialops/importer/pkg/eventbus"
	"github.com/spatialops/importer/pkg/metrics"
	"github.com/spatialops/importer/pkg/routing"
)

func TestServerRoutes_APIRoutesAreVersioned(t *testing.T) {
	router := buildServerRouter(t)

	rules, err := routing.LoadAllowlist("", internalserver.EntrypointServer)
	require.NoError(t, err)
	classifier := routing.NewClassifier(rules)

	offending := make([]string, 0)
	for _, p := range collectRoutePaths(t, router) {
		if !routing.HasPathPrefixOnBoundary(p, "/api") {
			continue
		}
		if routing.HasPathPrefixOnBoundary(p, "/api/v1") {
			continue
		}
		if _, ok := classifier.MatchAllowlist(p); ok {
			continue
		}
		offending = append(offending, p)
	}

	if len(offending) > 0 {
		sort.Strings(offending)
		t.Fatalf("unversioned /api routes missing from the allowlist:\n%s", strings.Join(offending, "\n"))
	}
}

func TestServerRoutes_EverySurfaceIsAllowlisted(t *testing.T) {
	router := buildServerRouter(t)

	rules, err := routing.LoadAllowlist("", internalserver.EntrypointServer)
	require.NoError(t, err)
	classifier := routing.NewClassifier(rules)

	offending := make([]string, 0)
	for _, p := range collectRoutePaths(t, router) {
		if p == "/" {
			continue
		}
		if _, ok := classifier.MatchAllowlist(p); !ok {
			offending = append(offending, p)
		}
	}

	if len(offending) > 0 {
		sort.Strings(offending)
		t.Fatalf("routes outside every allowlist prefix:\n%s", strings.Join(offending, "\n"))
	}
}

func TestServerRoutes_OpsRoutesStayOffTheAPIPrefix(t *testing.T) {
	router := buildServerRouter(t)

	rules, err := routing.LoadAllowlist("", internalserver.EntrypointServer)
	require.NoError(t, err)
	classifier := routing.NewClassifier(rules)

	for _, p := range collectRoutePaths(t, router) {
		class, ok := classifier.MatchAllowlist(p)
		if !ok || class != routing.RouteClassOps {
			continue
		}
		require.False(t, routing.HasPathPrefixOnBoundary(p, "/api"),
			"ops route %q must not live under /api", p)
	}
}

// buildServerRouter assembles the surface cmd/server mounts. The ingest
// module's Register opens the geodata store on startup, so the router is
// built from the same controllers without that connect.
func buildServerRouter(t *testing.T) *mux.Router {
	t.Helper()

	conf := configuration.Use()
	logger := conf.Logger()

	pool := newLazyPool(t, conf.Database.Opts)

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.NewEventPublisher(logger),
		Logger:   logger,
	})

	app.RegisterServices(
		formats.Default(),
		services.NewExecutionService(persistence.NewExecutionRepository(), tasks.NewQueueDispatcher(), app.EventPublisher()),
		services.NewResourceService(persistence.NewResourceRepository()),
		auditservices.NewAuditService(auditpersistence.NewAuditLogRepository()),
	)
	app.RegisterControllers(
		controllers.NewImportsController(app),
		controllers.NewResourcesController(app),
		controllers.NewOpsController(app),
		auditcontrollers.NewAuditController(app),
		metrics.NewPrometheusController(conf.Prometheus.Path),
	)

	srv, err := internalserver.Default(&internalserver.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
		Pool:          pool,
		Entrypoint:    internalserver.EntrypointServer,
	})
	require.NoError(t, err)

	return srv.Router()
}

func collectRoutePaths(t *testing.T, router *mux.Router) []string {
	t.Helper()

	var paths []string
	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		p := routePath(route)
		if strings.TrimSpace(p) != "" {
			paths = append(paths, p)
		}
		return nil
	})
	require.NoError(t, err)

	sort.Strings(paths)
	return paths
}

func routePath(route *mux.Route) string {
	if route == nil {
		return ""
	}
	if tmpl, err := route.GetPathTemplate(); err == nil {
		return tmpl
	}
	regexp, err := route.GetPathRegexp()
	if err != nil {
		return ""
	}
	result := strings.TrimPrefix(regexp, "^")
	return strings.TrimSuffix(result, "$")
}

func newLazyPool(t *testing.T, opts string) *pgxpool.Pool {
	t.Helper()

	pool, err := pgxpool.New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Close()
	})
	return pool
}
