package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gearguard/migrator"
	"github.com/gearguard/migrator/internal/ui"
)

func newCreateDBCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create-db",
		Short: "Create the target database if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.runContext(cmd.Context())
			defer cancel()

			db := opts.cfg.Database
			created, err := migrator.EnsureDatabase(ctx, db)
			if err != nil {
				return err
			}
			opts.logger.Debug("ensure database", "target", db.Target(), "created", created)

			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"target":  db.Target(),
					"created": created,
				})
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "%s created %s\n", ui.RenderPass(ui.IconPass), db.Target())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s already exists\n", ui.RenderMuted(ui.IconSkip), db.Target())
			}
			return nil
		},
	}
}
