package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/spatialops/importer/modules/audit"
	"github.com/spatialops/importer/modules/ingest/domain/entities/execution"
	"github.com/spatialops/importer/modules/ingest/infrastructure/formats"
	"github.com/spatialops/importer/modules/ingest/infrastructure/persistence"
	"github.com/spatialops/importer/modules/ingest/infrastructure/uploads"
	"github.com/spatialops/importer/modules/ingest/services"
	"github.com/spatialops/importer/modules/ingest/tasks"
	"github.com/spatialops/importer/pkg/application"
	"github.com/spatialops/importer/pkg/composables"
	"github.com/spatialops/importer/pkg/configuration"
	"github.com/spatialops/importer/pkg/eventbus"
)

type importOptions struct {
	owner    string
	handler  string
	override bool
	skip     bool
	store    bool
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Register a spatial file and enqueue its import",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.owner, "owner", "anonymous", "Owner recorded on the execution")
	cmd.Flags().StringVar(&opts.handler, "handler", "", "Force a format handler (gpkg, csv, xlsx) instead of detecting one")
	cmd.Flags().BoolVar(&opts.override, "override-existing-layer", false, "Replace layers that already exist under the same name")
	cmd.Flags().BoolVar(&opts.skip, "skip-existing-layer", false, "Skip layers that already exist instead of failing")
	cmd.Flags().BoolVar(&opts.store, "store-spatial-files", false, "Keep the source file after the import finishes")
	return cmd
}

func runImport(ctx context.Context, path string, opts importOptions) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return withCode(exitUsage, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return withCode(exitValidation, err)
	}
	if info.IsDir() {
		return withCode(exitValidation, fmt.Errorf("%s is a directory", abs))
	}

	sum, err := uploads.ChecksumFile(abs)
	if err != nil {
		return withCode(exitValidation, err)
	}

	// The worker resolves the file by the recorded path, so the path must
	// stay readable until the import finishes.
	files := map[string]string{uploads.BaseFileRole: abs}
	fileset := formats.Fileset{BaseFile: abs, Files: files}
	if _, err := formats.Default().Resolve(opts.handler, fileset); err != nil {
		return withCode(exitValidation, err)
	}

	conf := configuration.Use()
	logger := conf.Logger()

	pool, err := connectDB(ctx)
	if err != nil {
		return withCode(exitDB, err)
	}
	defer pool.Close()

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.NewEventPublisher(logger),
		Logger:   logger,
	})
	// The audit trail listens on the event bus, so a CLI import leaves
	// the same records an API import would.
	if err := audit.NewModule().Register(app); err != nil {
		return withCode(exitDB, err)
	}

	executions := services.NewExecutionService(
		persistence.NewExecutionRepository(),
		tasks.NewQueueDispatcher(),
		app.EventPublisher(),
	)

	params := execution.InputParams{
		Files:                 files,
		Checksums:             map[string]string{uploads.BaseFileRole: sum},
		OverrideExistingLayer: opts.override,
		SkipExistingLayer:     opts.skip,
		StoreSpatialFiles:     opts.store,
		Handler:               opts.handler,
	}

	var created *execution.Execution
	err = composables.InTx(composables.WithPool(ctx, pool), func(txCtx context.Context) error {
		var txErr error
		created, txErr = executions.Create(txCtx, opts.owner, params)
		return txErr
	})
	if err != nil {
		return withCode(exitDB, err)
	}

	return writeJSONLine(map[string]any{
		"id":     created.ID().String(),
		"status": string(created.Status()),
		"step":   string(created.Step()),
		"file":   abs,
	})
}
