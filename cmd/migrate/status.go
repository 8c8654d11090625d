package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gearguard/migrator"
	"github.com/gearguard/migrator/internal/ui"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.runContext(cmd.Context())
			defer cancel()

			plan, err := status(ctx, opts)
			if plan != nil {
				if opts.jsonOut {
					if jerr := writeJSON(cmd.OutOrStdout(), plan); jerr != nil {
						return fmt.Errorf("write status: %w", jerr)
					}
				} else {
					ui.Plan(cmd.OutOrStdout(), plan)
				}
			}
			return err
		},
	}
}

func status(ctx context.Context, opts *rootOptions) (*migrator.Plan, error) {
	m := opts.migrator()
	migs, err := m.LoadAllMigrations()
	if err != nil {
		return nil, err
	}

	conn, err := migrator.Connect(ctx, opts.cfg.Database)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			opts.logger.Warn("closing connection", "error", err)
		}
	}()

	return m.WithDialect(conn.Dialect).Plan(ctx, conn.Conn, migs)
}
