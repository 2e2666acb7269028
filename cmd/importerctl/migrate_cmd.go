package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spatialops/importer/modules"
	"github.com/spatialops/importer/pkg/commands"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			if direction != "up" && direction != "down" {
				return withCode(exitUsage, fmt.Errorf("unknown direction %q (expected up or down)", direction))
			}
			if err := commands.Migrate(cmd.Context(), direction, modules.BuiltInModules...); err != nil {
				return withCode(exitDB, err)
			}
			return nil
		},
	}
}
