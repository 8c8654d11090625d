package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gearguard/migrator"
	"github.com/gearguard/migrator/internal/inspect"
	"github.com/gearguard/migrator/internal/schema"
	"github.com/gearguard/migrator/internal/ui"
)

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "List tables with row counts",
		Long: `verify lists the tables of the target database with their row counts.
With the built-in schema it also fails when an expected table is missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.runContext(cmd.Context())
			defer cancel()

			conn, err := migrator.Connect(ctx, opts.cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			tables, err := inspect.Tables(ctx, conn.Conn, conn.Dialect)
			if err != nil {
				return err
			}
			var missing []string
			if opts.builtinSchema() {
				missing = inspect.Missing(tables, schema.Tables)
			}

			if opts.jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), map[string]any{
					"tables":  tables,
					"missing": missing,
				}); err != nil {
					return err
				}
			} else {
				ui.Tables(cmd.OutOrStdout(), tables, missing)
			}
			if len(missing) > 0 {
				return fmt.Errorf("%w: %d expected tables missing", errReported, len(missing))
			}
			return nil
		},
	}
}
