package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// DefaultLedgerTable is the table that records applied migrations.
const DefaultLedgerTable = "schema_migrations"

// MigrationRecord is the ledger entry written when a migration commits.
type MigrationRecord struct {
	MigrationID string    `json:"migration_id"`
	Name        string    `json:"name"`
	Checksum    string    `json:"checksum"`
	AppliedAt   time.Time `json:"applied_at"`
}

// Ledger defines how a dialect stores migration records.
type Ledger interface {
	// EnsureLedger creates the ledger table if it does not exist.
	EnsureLedger(ctx context.Context, exec Executor, table string) error
	// Records returns all records, sorted by migration id.
	Records(ctx context.Context, q Querier, table string) ([]MigrationRecord, error)
	// Record inserts a record. exec is the migration's transaction.
	Record(ctx context.Context, exec Executor, table string, rec MigrationRecord) error
}

// Dialect names a supported database family.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect maps driver names and URL schemes to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx", "pg", "pgsql":
		return DialectPostgres, nil
	case "mysql", "mariadb", "maria", "my":
		return DialectMySQL, nil
	case "sqlite", "sqlite3", "moderncsqlite", "modernsqlite", "file", "sq":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", name)
}

// LedgerFor returns the ledger implementation for a dialect.
func LedgerFor(d Dialect) (Ledger, error) {
	switch d {
	case DialectPostgres:
		return PostgresLedger{}, nil
	case DialectMySQL:
		return MySQLLedger{}, nil
	case DialectSQLite:
		return SQLiteLedger{}, nil
	}
	return nil, fmt.Errorf("no ledger for dialect %q", d)
}

var tableNamePattern = regexp.MustCompile(
	`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`,
)

// ValidateTableName rejects ledger table names that are not plain
// (optionally schema-qualified) identifiers. Table names are interpolated
// into SQL, so nothing else is accepted.
func ValidateTableName(table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("invalid ledger table name %q", table)
	}
	return nil
}

// PostgresLedger implements Ledger for PostgreSQL.
type PostgresLedger struct{}

// EnsureLedger creates the ledger table in PostgreSQL.
//
// Parameters:
//   - ctx: Context to use.
//   - exec: The session to run the statement on.
//   - table: The name of the ledger table.
//
// Returns:
//   - error: An error if the table creation fails.
func (PostgresLedger) EnsureLedger(
	ctx context.Context, exec Executor, table string,
) error {
	query := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
		migration_id VARCHAR(255) PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		checksum CHAR(64) NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL)`,
		table,
	)
	_, err := exec.ExecContext(ctx, query)
	return err
}

// Records reads all ledger records from PostgreSQL.
func (PostgresLedger) Records(
	ctx context.Context, q Querier, table string,
) ([]MigrationRecord, error) {
	query := fmt.Sprintf(
		`SELECT migration_id, name, checksum, applied_at FROM %s`, table,
	)
	return queryRecords(ctx, q, query, scanTimeRecord)
}

// Record inserts a ledger record in PostgreSQL.
func (PostgresLedger) Record(
	ctx context.Context, exec Executor, table string, rec MigrationRecord,
) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (migration_id, name, checksum, applied_at) VALUES ($1, $2, $3, $4)`,
		table,
	)
	_, err := exec.ExecContext(
		ctx, query, rec.MigrationID, rec.Name, rec.Checksum, rec.AppliedAt.UTC(),
	)
	return err
}

// MySQLLedger implements Ledger for MySQL. MySQL commits DDL implicitly, so
// a failed migration can leave earlier statements of that migration applied
// even though its ledger record is never written.
type MySQLLedger struct{}

// EnsureLedger creates the ledger table in MySQL.
func (MySQLLedger) EnsureLedger(
	ctx context.Context, exec Executor, table string,
) error {
	query := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
		migration_id VARCHAR(191) PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		checksum CHAR(64) NOT NULL,
		applied_at DATETIME(6) NOT NULL)`,
		table,
	)
	_, err := exec.ExecContext(ctx, query)
	return err
}

// Records reads all ledger records from MySQL. The connection must be opened
// with parseTime=true.
func (MySQLLedger) Records(
	ctx context.Context, q Querier, table string,
) ([]MigrationRecord, error) {
	query := fmt.Sprintf(
		"SELECT migration_id, name, checksum, applied_at FROM %s", table,
	)
	return queryRecords(ctx, q, query, scanTimeRecord)
}

// Record inserts a ledger record in MySQL.
func (MySQLLedger) Record(
	ctx context.Context, exec Executor, table string, rec MigrationRecord,
) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (migration_id, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
		table,
	)
	_, err := exec.ExecContext(
		ctx, query, rec.MigrationID, rec.Name, rec.Checksum, rec.AppliedAt.UTC(),
	)
	return err
}

// SQLiteLedger implements Ledger for SQLite. Timestamps are stored as
// RFC 3339 text.
type SQLiteLedger struct{}

const sqliteTimeFormat = time.RFC3339Nano

// EnsureLedger creates the ledger table in SQLite.
func (SQLiteLedger) EnsureLedger(
	ctx context.Context, exec Executor, table string,
) error {
	query := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
		migration_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		checksum TEXT NOT NULL,
		applied_at TEXT NOT NULL)`,
		table,
	)
	_, err := exec.ExecContext(ctx, query)
	return err
}

// Records reads all ledger records from SQLite.
func (SQLiteLedger) Records(
	ctx context.Context, q Querier, table string,
) ([]MigrationRecord, error) {
	query := fmt.Sprintf(
		`SELECT migration_id, name, checksum, applied_at FROM %s`, table,
	)
	return queryRecords(ctx, q, query, func(rows *sql.Rows) (MigrationRecord, error) {
		var rec MigrationRecord
		var appliedAt string
		if err := rows.Scan(
			&rec.MigrationID, &rec.Name, &rec.Checksum, &appliedAt,
		); err != nil {
			return rec, err
		}
		t, err := time.Parse(sqliteTimeFormat, appliedAt)
		if err != nil {
			return rec, fmt.Errorf("parse applied_at of %s: %w", rec.MigrationID, err)
		}
		rec.AppliedAt = t
		return rec, nil
	})
}

// Record inserts a ledger record in SQLite.
func (SQLiteLedger) Record(
	ctx context.Context, exec Executor, table string, rec MigrationRecord,
) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (migration_id, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
		table,
	)
	_, err := exec.ExecContext(
		ctx,
		query,
		rec.MigrationID,
		rec.Name,
		rec.Checksum,
		rec.AppliedAt.UTC().Format(sqliteTimeFormat),
	)
	return err
}

func scanTimeRecord(rows *sql.Rows) (MigrationRecord, error) {
	var rec MigrationRecord
	err := rows.Scan(&rec.MigrationID, &rec.Name, &rec.Checksum, &rec.AppliedAt)
	return rec, err
}

func queryRecords(
	ctx context.Context,
	q Querier,
	query string,
	scan func(*sql.Rows) (MigrationRecord, error),
) ([]MigrationRecord, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []MigrationRecord
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		rec.Checksum = strings.TrimSpace(rec.Checksum)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.SortFunc(recs, func(a, b MigrationRecord) int {
		return CompareIDs(a.MigrationID, b.MigrationID)
	})
	return recs, nil
}
