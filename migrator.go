package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/gearguard/migrator/internal/telemetry"
)

const scopeName = "github.com/gearguard/migrator"

// Migrator applies migrations and records them in a ledger.
type Migrator struct {
	Sources     []MigrationSource
	LedgerTable string
	Ledger      Ledger
	Locker      Locker
	Locking     bool
	DryRun      bool
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewMigrator returns a Migrator with the default ledger table, locking
// enabled and the default logger. The ledger and locker are chosen from the
// database dialect when Apply connects; set them with WithDialect when
// using ApplyConn.
//
// Parameters:
//   - sources: Optional migration sources used by MigrateUp and Status.
//
// Returns:
//   - *Migrator: A new Migrator.
func NewMigrator(sources ...MigrationSource) *Migrator {
	return &Migrator{
		Sources:     sources,
		LedgerTable: DefaultLedgerTable,
		Locking:     true,
		Logger:      slog.Default(),
		Now:         time.Now,
	}
}

// WithSources returns a new Migrator with the given sources.
func (m *Migrator) WithSources(sources ...MigrationSource) *Migrator {
	new := *m
	new.Sources = sources
	return &new
}

// WithLedgerTable returns a new Migrator with the given ledger table name.
//
// Parameters:
//   - table: The name of the ledger table.
//
// Returns:
//   - *Migrator: A new Migrator instance.
func (m *Migrator) WithLedgerTable(table string) *Migrator {
	new := *m
	new.LedgerTable = table
	return &new
}

// WithLedger returns a new Migrator with the given Ledger.
func (m *Migrator) WithLedger(ledger Ledger) *Migrator {
	new := *m
	new.Ledger = ledger
	return &new
}

// WithLocker returns a new Migrator with the given Locker.
func (m *Migrator) WithLocker(locker Locker) *Migrator {
	new := *m
	new.Locker = locker
	return &new
}

// WithLocking returns a new Migrator with the run lock enabled or disabled.
func (m *Migrator) WithLocking(locking bool) *Migrator {
	new := *m
	new.Locking = locking
	return &new
}

// WithDialect returns a new Migrator whose unset ledger and locker are the
// defaults for d.
func (m *Migrator) WithDialect(d Dialect) *Migrator {
	new := *m
	if new.Ledger == nil {
		new.Ledger, _ = LedgerFor(d)
	}
	if new.Locker == nil {
		new.Locker = LockerFor(d)
	}
	return &new
}

// WithDryRun returns a new Migrator that plans but does not apply.
func (m *Migrator) WithDryRun(dryRun bool) *Migrator {
	new := *m
	new.DryRun = dryRun
	return &new
}

// WithLogger returns a new Migrator with the given logger.
func (m *Migrator) WithLogger(logger *slog.Logger) *Migrator {
	new := *m
	new.Logger = logger
	return &new
}

// WithClock returns a new Migrator that timestamps records with now.
func (m *Migrator) WithClock(now func() time.Time) *Migrator {
	new := *m
	new.Now = now
	return &new
}

// LoadAllMigrations loads, merges and sorts migrations from all sources.
func (m *Migrator) LoadAllMigrations() ([]Migration, error) {
	all, err := LoadAll(m.Sources...)
	if err != nil {
		return nil, err
	}
	m.logger().Debug("loaded migrations", "count", len(all))
	return all, nil
}

// MigrateUp loads migrations from the configured sources and applies them.
func (m *Migrator) MigrateUp(
	ctx context.Context, cfg ConnectionConfig,
) (*RunReport, error) {
	all, err := m.LoadAllMigrations()
	if err != nil {
		report := m.newReport()
		return m.finish(ctx, report, err)
	}
	return m.Apply(ctx, all, cfg)
}

// Apply connects to the database described by cfg and applies every
// pending migration in ascending id order. migrations must be sorted by id
// with unique ids.
//
// Each pending migration runs in its own transaction together with its
// ledger record. The first failing statement rolls that migration back and
// ends the run with a *MigrationError. A changed checksum of an applied
// migration ends the run with a *DriftError before anything is applied.
// Connection problems are reported as *ConnectionError.
//
// The report is returned on success and on failure.
func (m *Migrator) Apply(
	ctx context.Context, migrations []Migration, cfg ConnectionConfig,
) (*RunReport, error) {
	report := m.newReport()
	if err := ValidateMigrations(migrations); err != nil {
		return m.finish(ctx, report, err)
	}

	m.logger().Info("connecting", "target", cfg.Target())
	conn, err := Connect(ctx, cfg)
	if err != nil {
		return m.finish(ctx, report, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			m.logger().Warn("closing connection", "error", err)
		}
	}()

	return m.WithDialect(conn.Dialect).apply(ctx, conn.Conn, migrations, report)
}

// ApplyConn applies migrations on a caller-owned session. The Migrator
// must have a Ledger (see WithDialect). The caller keeps ownership of conn.
func (m *Migrator) ApplyConn(
	ctx context.Context, conn Conn, migrations []Migration,
) (*RunReport, error) {
	report := m.newReport()
	if err := ValidateMigrations(migrations); err != nil {
		return m.finish(ctx, report, err)
	}
	return m.apply(ctx, conn, migrations, report)
}

// Plan compares migrations with the ledger without applying anything. The
// ledger table is created if it is missing. A *DriftError is returned
// together with the partial plan.
func (m *Migrator) Plan(
	ctx context.Context, conn Conn, migrations []Migration,
) (*Plan, error) {
	if err := ValidateMigrations(migrations); err != nil {
		return nil, err
	}
	ledger, err := m.ledger()
	if err != nil {
		return nil, err
	}
	return m.plan(ctx, conn, ledger, migrations)
}

func (m *Migrator) apply(
	ctx context.Context, conn Conn, migrations []Migration, report *RunReport,
) (*RunReport, error) {
	ctx, span := telemetry.Tracer(scopeName).Start(ctx, "migrator.apply",
		trace.WithAttributes(
			attribute.String("migrator.run_id", report.RunID),
			attribute.Int("migrator.migrations", len(migrations)),
			attribute.Bool("migrator.dry_run", m.DryRun),
		),
	)
	defer span.End()

	ledger, err := m.ledger()
	if err != nil {
		return m.finish(ctx, report, err)
	}

	release, err := m.lock(ctx, conn)
	if err != nil {
		return m.finish(ctx, report, err)
	}
	defer release()

	plan, err := m.plan(ctx, conn, ledger, migrations)
	if plan != nil {
		report.Skipped = migrationIDs(plan.Applied)
		report.Unknown = plan.Unknown
		report.Ledger = plan.Ledger
	}
	if err != nil {
		return m.finish(ctx, report, err)
	}

	if m.DryRun {
		report.Applied = migrationIDs(plan.Pending)
		m.logger().Info("dry run", "pending", len(plan.Pending))
		return m.finish(ctx, report, nil)
	}

	inst := newInstruments(telemetry.Meter(scopeName))
	var last time.Time
	for _, mig := range plan.Pending {
		start := time.Now()
		if err := m.applyOne(ctx, conn, ledger, mig, &last); err != nil {
			inst.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("migration", mig.ID)))
			report.Failed = mig.ID
			report.Ledger = m.reloadLedger(ctx, conn, ledger, report.Ledger)
			return m.finish(ctx, report, err)
		}
		inst.applied.Add(ctx, 1)
		inst.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("migration", mig.ID)))
		report.Applied = append(report.Applied, mig.ID)
	}

	if len(report.Applied) > 0 {
		report.Ledger = m.reloadLedger(ctx, conn, ledger, report.Ledger)
	}
	return m.finish(ctx, report, nil)
}

// plan ensures the ledger exists, reads it, and checks every applied
// migration against its record.
func (m *Migrator) plan(
	ctx context.Context, conn Conn, ledger Ledger, migrations []Migration,
) (*Plan, error) {
	table := m.table()
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	if err := ledger.EnsureLedger(ctx, conn, table); err != nil {
		return nil, fmt.Errorf("ensure ledger table %s: %w", table, err)
	}
	m.logger().Debug("ledger table ensured", "table", table)

	recs, err := ledger.Records(ctx, conn, table)
	if err != nil {
		return nil, fmt.Errorf("read ledger table %s: %w", table, err)
	}
	m.logger().Debug("ledger loaded", "records", len(recs))

	plan := &Plan{Ledger: recs}
	byID := make(map[string]MigrationRecord, len(recs))
	for _, rec := range recs {
		byID[rec.MigrationID] = rec
	}

	known := make(map[string]bool, len(migrations))
	var firstPending string
	for _, mig := range migrations {
		known[mig.ID] = true
		rec, applied := byID[mig.ID]
		if !applied {
			if firstPending == "" {
				firstPending = mig.ID
			}
			plan.Pending = append(plan.Pending, mig)
			continue
		}
		if firstPending != "" {
			return plan, &DriftError{
				MigrationID: firstPending,
				Reason:      DriftOutOfOrder,
				AppliedID:   mig.ID,
			}
		}
		if sum := mig.Checksum(); sum != rec.Checksum {
			return plan, &DriftError{
				MigrationID: mig.ID,
				Reason:      DriftChecksum,
				Expected:    rec.Checksum,
				Actual:      sum,
			}
		}
		m.logger().Debug("skip applied migration", "migration", mig.ID, "name", mig.Name)
		plan.Applied = append(plan.Applied, mig)
	}

	for _, rec := range recs {
		if !known[rec.MigrationID] {
			m.logger().Warn("ledger has a migration that is not defined",
				"migration", rec.MigrationID, "name", rec.Name)
			plan.Unknown = append(plan.Unknown, rec.MigrationID)
		}
	}
	return plan, nil
}

// applyOne runs one migration and its ledger insert in a single
// transaction.
func (m *Migrator) applyOne(
	ctx context.Context, conn Conn, ledger Ledger, mig Migration, last *time.Time,
) error {
	ctx, span := telemetry.Tracer(scopeName).Start(ctx, "migrator.migration",
		trace.WithAttributes(
			attribute.String("migration.id", mig.ID),
			attribute.String("migration.name", mig.Name),
		),
	)
	defer span.End()

	start := time.Now()
	m.logger().Info("applying migration",
		"migration", mig.ID, "name", mig.Name, "statements", len(mig.Statements))

	fail := func(tx *sql.Tx, idx int, stmt string, err error) error {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				m.logger().Error("rolling back migration", "migration", mig.ID, "error", rbErr)
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
		merr := &MigrationError{
			MigrationID:    mig.ID,
			Name:           mig.Name,
			StatementIndex: idx,
			Statement:      stmt,
			Err:            err,
		}
		span.RecordError(merr)
		span.SetStatus(codes.Error, merr.Error())
		return merr
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fail(nil, StatementBegin, "", err)
	}

	for idx, stmt := range mig.Statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		m.logger().Debug("executing statement",
			"migration", mig.ID, "statement", idx+1)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fail(tx, idx, stmt, err)
		}
	}

	rec := MigrationRecord{
		MigrationID: mig.ID,
		Name:        mig.Name,
		Checksum:    mig.Checksum(),
		AppliedAt:   m.appliedAt(last),
	}
	if err := ledger.Record(ctx, tx, m.table(), rec); err != nil {
		return fail(tx, StatementRecord, "", err)
	}
	if err := tx.Commit(); err != nil {
		return fail(nil, StatementCommit, "", err)
	}

	m.logger().Info("migration applied",
		"migration", mig.ID, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// appliedAt returns a timestamp that never goes backwards within a run.
func (m *Migrator) appliedAt(last *time.Time) time.Time {
	now := m.now().UTC()
	if now.Before(*last) {
		now = *last
	}
	*last = now
	return now
}

func (m *Migrator) lock(ctx context.Context, conn Conn) (func(), error) {
	if !m.Locking || m.Locker == nil {
		return func() {}, nil
	}
	m.logger().Debug("acquiring migration lock", "key", m.table())
	release, err := m.Locker.Acquire(ctx, conn, m.table())
	if err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	return release, nil
}

// reloadLedger re-reads the ledger after the run, even if ctx was cancelled.
// On failure the previous records are kept.
func (m *Migrator) reloadLedger(
	ctx context.Context, conn Conn, ledger Ledger, prev []MigrationRecord,
) []MigrationRecord {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	recs, err := ledger.Records(rctx, conn, m.table())
	if err != nil {
		m.logger().Warn("re-reading ledger", "error", err)
		return prev
	}
	return recs
}

func (m *Migrator) newReport() *RunReport {
	return &RunReport{
		RunID:     NewRunID(),
		StartedAt: m.now().UTC(),
		DryRun:    m.DryRun,
	}
}

func (m *Migrator) finish(
	ctx context.Context, report *RunReport, err error,
) (*RunReport, error) {
	report.FinishedAt = m.now().UTC()
	span := trace.SpanFromContext(ctx)
	if err != nil {
		report.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger().Error("migration run failed",
			"run", report.RunID, "failed", report.Failed, "error", err)
		return report, err
	}
	m.logger().Info("migration run complete",
		"run", report.RunID,
		"applied", len(report.Applied),
		"skipped", len(report.Skipped),
		"dry_run", report.DryRun)
	return report, nil
}

func (m *Migrator) ledger() (Ledger, error) {
	if m.Ledger == nil {
		return nil, errors.New("no ledger configured: use WithDialect or WithLedger")
	}
	return m.Ledger, nil
}

func (m *Migrator) table() string {
	if m.LedgerTable == "" {
		return DefaultLedgerTable
	}
	return m.LedgerTable
}

func (m *Migrator) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

func (m *Migrator) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

type instruments struct {
	applied  metric.Int64Counter
	failed   metric.Int64Counter
	duration metric.Float64Histogram
}

// newInstruments creates the run metrics. An instrument the meter cannot
// create is reported to the OpenTelemetry error handler and replaced by a
// no-op.
func newInstruments(meter metric.Meter) instruments {
	inst := instruments{
		applied:  metricnoop.Int64Counter{},
		failed:   metricnoop.Int64Counter{},
		duration: metricnoop.Float64Histogram{},
	}
	if c, err := meter.Int64Counter("migrator.migrations.applied",
		metric.WithDescription("Migrations applied")); err != nil {
		otel.Handle(fmt.Errorf("migrator.migrations.applied: %w", err))
	} else {
		inst.applied = c
	}
	if c, err := meter.Int64Counter("migrator.migrations.failed",
		metric.WithDescription("Migrations that failed and were rolled back")); err != nil {
		otel.Handle(fmt.Errorf("migrator.migrations.failed: %w", err))
	} else {
		inst.failed = c
	}
	if h, err := meter.Float64Histogram("migrator.migration.duration",
		metric.WithDescription("Time to apply one migration"),
		metric.WithUnit("ms")); err != nil {
		otel.Handle(fmt.Errorf("migrator.migration.duration: %w", err))
	} else {
		inst.duration = h
	}
	return inst
}
