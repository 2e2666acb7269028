// Package commands holds the reusable bodies of importerctl subcommands.
package commands

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spatialops/importer/modules"
	"github.com/spatialops/importer/pkg/application"
	"github.com/spatialops/importer/pkg/configuration"
	"github.com/spatialops/importer/pkg/eventbus"
)

// Migrate applies or rolls back the schema of every registered module.
// Direction is "up" or "down".
func Migrate(ctx context.Context, direction string, mods ...application.Module) error {
	conf := configuration.Use()
	logger := conf.Logger()

	poolCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(poolCtx, conf.Database.Opts)
	if err != nil {
		return errors.Wrap(err, "failed to connect database")
	}
	defer pool.Close()

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.NewEventPublisher(logger),
		Logger:   logger,
	})
	if err := modules.Load(app, mods...); err != nil {
		return errors.Wrap(err, "failed to load modules")
	}

	switch direction {
	case "up":
		return app.Migrations().Run(ctx)
	case "down":
		return app.Migrations().Rollback(ctx)
	default:
		return errors.Errorf("unknown migration direction %q", direction)
	}
}
