package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gearguard/migrator"
	"github.com/gearguard/migrator/internal/config"
	"github.com/gearguard/migrator/internal/schema"
	"github.com/gearguard/migrator/internal/telemetry"
)

// errReported marks errors that were already written to the terminal.
var errReported = errors.New("reported")

type rootOptions struct {
	configFile string
	envFile    string
	url        string
	dir        string
	manifest   string
	table      string
	timeout    string
	dryRun     bool
	noLock     bool
	jsonOut    bool
	verbose    bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `migrate applies every pending migration in id order, each in its own
transaction, and records it in the ledger table. Already applied
migrations are skipped; an edited applied migration stops the run.

Without --dir or --manifest the built-in GearGuard schema is used.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUp(cmd, opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "YAML config file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded into the environment if present")
	flags.StringVar(&opts.url, "url", "", "database URL (overrides DATABASE_URL and the DB_* settings)")
	flags.StringVar(&opts.dir, "dir", "", "directory of NNNN_name.sql migrations")
	flags.StringVar(&opts.manifest, "manifest", "", "YAML migration manifest")
	flags.StringVar(&opts.table, "table", migrator.DefaultLedgerTable, "ledger table name")
	flags.StringVar(&opts.timeout, "timeout", "0s", "limit for the whole run, 0 for none")
	flags.BoolVar(&opts.jsonOut, "json", false, "print results as JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "show what would be applied without applying it")
	cmd.Flags().BoolVar(&opts.noLock, "no-lock", false, "do not take the migration lock")

	cmd.AddCommand(
		newUpCmd(opts),
		newStatusCmd(opts),
		newCreateDBCmd(opts),
		newVerifyCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func newUpCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending schema migrations (same as migrate)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUp(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "show what would be applied without applying it")
	cmd.Flags().BoolVar(&opts.noLock, "no-lock", false, "do not take the migration lock")
	return cmd
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.logger)

	overrides := map[string]any{}
	set := func(flag, key string, value any) {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			overrides[key] = value
		}
	}
	set("url", config.KeyURL, o.url)
	set("dir", config.KeyDir, o.dir)
	set("manifest", config.KeyManifest, o.manifest)
	set("table", config.KeyLedgerTable, o.table)
	set("timeout", config.KeyTimeout, o.timeout)
	set("no-lock", config.KeyLock, !o.noLock)

	cfg, err := config.Load(config.Options{
		ConfigFile: o.configFile,
		EnvFile:    o.envFile,
		Overrides:  overrides,
	})
	if err != nil {
		return err
	}
	o.cfg = cfg

	if err := telemetry.Init(cmd.Context(), "migrate", version, cmd.ErrOrStderr()); err != nil {
		o.logger.Warn("telemetry disabled", "error", err)
	}
	return nil
}

// runContext applies the configured run timeout.
func (o *rootOptions) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.Migrations.Timeout > 0 {
		return context.WithTimeout(ctx, o.cfg.Migrations.Timeout)
	}
	return context.WithCancel(ctx)
}

func (o *rootOptions) migrator() *migrator.Migrator {
	sources := o.cfg.Sources()
	if sources == nil {
		sources = []migrator.MigrationSource{schema.Source()}
	}
	return migrator.NewMigrator(sources...).
		WithLedgerTable(o.cfg.Migrations.Table).
		WithLocking(o.cfg.Migrations.Lock).
		WithLogger(o.logger)
}

// builtinSchema reports whether the built-in migrations are in use.
func (o *rootOptions) builtinSchema() bool {
	return o.cfg.Sources() == nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
