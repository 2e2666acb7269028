package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/spatialops/importer/internal/server"
	"github.com/spatialops/importer/modules"
	"github.com/spatialops/importer/modules/ingest/handlers"
	"github.com/spatialops/importer/modules/ingest/presentation/controllers"
	"github.com/spatialops/importer/modules/ingest/services"
	"github.com/spatialops/importer/modules/ingest/tasks"
	"github.com/spatialops/importer/pkg/application"
	"github.com/spatialops/importer/pkg/composables"
	"github.com/spatialops/importer/pkg/configuration"
	"github.com/spatialops/importer/pkg/eventbus"
	"github.com/spatialops/importer/pkg/logging"
	"github.com/spatialops/importer/pkg/metrics"
	"github.com/spatialops/importer/pkg/middleware"
	"github.com/spatialops/importer/pkg/queue"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	// Set up OpenTelemetry if enabled
	var tracingCleanup func()
	if conf.OpenTelemetry.Enabled {
		tracingCleanup = logging.SetupTracing(
			context.Background(),
			conf.OpenTelemetry.ServiceName,
			conf.OpenTelemetry.TempoURL,
		)
		defer tracingCleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to Tempo at " + conf.OpenTelemetry.TempoURL)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer pool.Close()

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.NewEventPublisher(logger),
		Logger:   logger,
	})
	if err := modules.Load(app, modules.BuiltInModules...); err != nil {
		log.Fatalf("failed to load modules: %v", err)
	}

	taskMux := queue.NewMux()
	imports := app.Service(services.ImportService{}).(*services.ImportService)
	taskHandlers := handlers.RegisterImportTaskHandlers(taskMux, imports)

	workerLog := logger.WithField("component", "worker")
	worker, err := queue.NewWorker(pool, tasks.Table(), taskMux, queue.WorkerOptions{
		Queues:          splitQueues(conf.Queue.Queues),
		PollInterval:    conf.Queue.PollInterval,
		BatchSize:       conf.Queue.BatchSize,
		LockTTL:         conf.Queue.LockTTL,
		Concurrency:     conf.Queue.Concurrency,
		DispatchTimeout: conf.Queue.DispatchTimeout,
		LastErrorMaxLen: conf.Queue.LastErrorMaxBytes,
		OnDead:          taskHandlers.OnDead,
		Logger:          workerLog,
	})
	if err != nil {
		log.Fatalf("failed to create worker: %v", err)
	}

	startQueueJanitor(conf, pool, logger)
	startOpsServer(conf, app, logger)

	log.Printf("Consuming queues: %s\n", conf.Queue.Queues)
	if err := worker.Run(composables.WithPool(ctx, pool)); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker terminated: %v", err)
	}
}

func splitQueues(raw string) []string {
	parts := strings.Split(raw, ",")
	queues := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			queues = append(queues, p)
		}
	}
	return queues
}

func startQueueJanitor(conf *configuration.Configuration, pool *pgxpool.Pool, logger *logrus.Logger) {
	if !conf.Queue.JanitorEnabled {
		return
	}
	janitorLog := logger.WithField("component", "janitor")
	janitor, err := queue.NewJanitor(pool, tasks.Table(), queue.JanitorOptions{
		Enabled:       true,
		Interval:      conf.Queue.JanitorInterval,
		Retention:     conf.Queue.JanitorRetention,
		DeadRetention: conf.Queue.JanitorDeadRetention,
		Logger:        janitorLog,
	})
	if err != nil {
		janitorLog.WithError(err).Warn("queue: failed to create janitor")
		return
	}
	go func() {
		if err := janitor.Run(context.Background()); err != nil {
			janitorLog.WithError(err).Error("queue: janitor stopped")
		}
	}()
}

// startOpsServer exposes only the ops surface. The worker never serves
// the public API, so the router is built by hand instead of through the
// application's controller registry.
func startOpsServer(conf *configuration.Configuration, app application.Application, logger *logrus.Logger) {
	logOpts := middleware.DefaultLoggerOptions()
	logOpts.Entrypoint = server.EntrypointWorker

	r := mux.NewRouter()
	r.Use(
		middleware.WithLogger(logger, logOpts),
		middleware.OpsGuard(conf, server.EntrypointWorker),
	)
	controllers.NewOpsController(app).Register(r)
	if conf.Prometheus.Enabled {
		metrics.NewPrometheusController(conf.Prometheus.Path).Register(r)
	}
	go func() {
		if err := http.ListenAndServe(conf.SocketAddress, r); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("ops server stopped")
		}
	}()
}
