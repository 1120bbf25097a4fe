package main

import (
	"github.com/spf13/cobra"

	"tenantcore/pkg/database"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <command> [args...]",
		Short: "Run schema migrations",
		Long: `Run a goose command against the embedded migrations.

Supported commands: up, up-by-one, up-to N, down, down-to N, redo, reset,
status, version.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			return database.Migrate(cmd.Context(), cfg.Database.URL, args[0], args[1:]...)
		},
	}
}
