package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gearguard/migrator/internal/ui"
)

func runUp(cmd *cobra.Command, opts *rootOptions) error {
	ctx, cancel := opts.runContext(cmd.Context())
	defer cancel()

	m := opts.migrator().WithDryRun(opts.dryRun)
	report, err := m.MigrateUp(ctx, opts.cfg.Database)

	if opts.jsonOut {
		if jerr := writeJSON(cmd.OutOrStdout(), report); jerr != nil {
			return fmt.Errorf("write report: %w", jerr)
		}
	} else {
		ui.Report(cmd.OutOrStdout(), report, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", errReported, err)
	}
	return nil
}
