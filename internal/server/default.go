package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"

	"github.com/spatialops/importer/pkg/application"
	"github.com/spatialops/importer/pkg/configuration"
	"github.com/spatialops/importer/pkg/constants"
	"github.com/spatialops/importer/pkg/httpapi"
	"github.com/spatialops/importer/pkg/middleware"
	"github.com/spatialops/importer/pkg/server"
)

// Entrypoint names match config/routing/allowlist.yaml. The ops guard
// only protects routes the allowlist classifies as ops for the given
// entrypoint.
const (
	EntrypointServer = "server"
	EntrypointWorker = "worker"
)

type DefaultOptions struct {
	Logger        *logrus.Logger
	Configuration *configuration.Configuration
	Application   application.Application
	Pool          *pgxpool.Pool
	Entrypoint    string
}

func Default(options *DefaultOptions) (*server.HTTPServer, error) {
	app := options.Application

	logOpts := middleware.DefaultLoggerOptions()
	logOpts.Entrypoint = options.Entrypoint

	// Core middleware stack with tracing capabilities
	middlewares := []mux.MiddlewareFunc{
		middleware.WithLogger(options.Logger, logOpts), // This now creates the root span for each request

		// Add traced middleware for each of your key middleware functions
		middleware.TracedMiddleware("database"),
		middleware.Provide(constants.AppKey, app),
		middleware.Provide(constants.PoolKey, options.Pool),

		middleware.TracedMiddleware("cors"),
		middleware.Cors(options.Configuration.Origin),

		middleware.TracedMiddleware("opsGuard"),
		middleware.OpsGuard(options.Configuration, options.Entrypoint),
	}

	// Add rate limiting middleware if enabled
	if options.Configuration.RateLimit.Enabled {
		var store limiter.Store
		var err error

		// Choose storage backend
		switch options.Configuration.RateLimit.Storage {
		case "redis":
			store, err = middleware.NewRedisStore(options.Configuration.RateLimit.RedisURL)
			if err != nil {
				options.Logger.WithError(err).Warn("Failed to create Redis store for rate limiting, falling back to memory")
				store = middleware.NewMemoryStore()
			}
		default:
			store = middleware.NewMemoryStore()
		}

		// Add global rate limiting middleware
		middlewares = append(middlewares,
			middleware.TracedMiddleware("rateLimit"),
			middleware.RateLimit(middleware.RateLimitConfig{
				RequestsPerPeriod: options.Configuration.RateLimit.GlobalRPS,
				Store:             store,
			}),
		)
	}

	middlewares = append(middlewares,
		middleware.TracedMiddleware("requestParams"),
		middleware.RequestParams(),
	)

	app.RegisterMiddleware(middlewares...)

	serverInstance := server.NewHTTPServer(
		app,
		notFoundHandler(),
		methodNotAllowedHandler(),
	)
	return serverInstance, nil
}

func notFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = httpapi.WriteError(w, http.StatusNotFound, "NOT_FOUND", "no route matches the request path", map[string]string{
			"path": r.URL.Path,
		})
	})
}

func methodNotAllowedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = httpapi.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "the route exists but not for this method", map[string]string{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	})
}
