package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spatialops/importer/modules/ingest/domain/entities/execution"
	"github.com/spatialops/importer/modules/ingest/infrastructure/persistence"
	"github.com/spatialops/importer/pkg/composables"
)

type executionsListOptions struct {
	status string
	limit  int
	offset int
}

func newExecutionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspect import executions",
	}
	cmd.AddCommand(newExecutionsListCmd())
	return cmd
}

func newExecutionsListCmd() *cobra.Command {
	var opts executionsListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions as JSON lines, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecutionsList(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.status, "status", "", "Filter by status (pending, running, succeeded, failed)")
	cmd.Flags().IntVar(&opts.limit, "limit", 50, "Maximum number of executions to print")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Number of executions to skip")
	return cmd
}

func runExecutionsList(ctx context.Context, opts executionsListOptions) error {
	params := &execution.FindParams{Limit: opts.limit, Offset: opts.offset}
	if s := strings.TrimSpace(opts.status); s != "" {
		status := execution.Status(s)
		if !status.IsValid() {
			return withCode(exitUsage, fmt.Errorf("unknown status %q", s))
		}
		params.Status = &status
	}

	pool, err := connectDB(ctx)
	if err != nil {
		return withCode(exitDB, err)
	}
	defer pool.Close()

	items, err := persistence.NewExecutionRepository().List(composables.WithPool(ctx, pool), params)
	if err != nil {
		return withCode(exitDB, err)
	}

	for _, item := range items {
		line := map[string]any{
			"id":         item.ID().String(),
			"owner":      item.Owner(),
			"status":     string(item.Status()),
			"step":       string(item.Step()),
			"base_file":  item.InputParams().BaseFile(),
			"created_at": item.CreatedAt(),
		}
		if log := item.Log(); log != "" {
			line["log"] = log
		}
		if err := writeJSONLine(line); err != nil {
			return err
		}
	}
	return nil
}
