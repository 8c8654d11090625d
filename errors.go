package migrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrInvalidMigrations is returned when a migration set violates the run
// preconditions (missing ids, duplicates, wrong order, empty migrations).
var ErrInvalidMigrations = errors.New("invalid migration set")

// ConnectionError reports that the target database could not be reached or
// rejected the credentials. It is never retried.
type ConnectionError struct {
	Op     string // "parse", "open", "ping" or "conn"
	Target string // host/database, never the password
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("connect (%s): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("connect to %s (%s): %v", e.Target, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Drift reasons.
const (
	DriftChecksum   = "checksum mismatch"
	DriftOutOfOrder = "out of order"
)

// DriftError reports that the ledger disagrees with the migration set:
// either an applied migration was edited, or a migration with a lower id
// than an applied one is still pending.
type DriftError struct {
	MigrationID string
	Reason      string
	Expected    string // checksum recorded in the ledger
	Actual      string // checksum of the current definition
	AppliedID   string // for DriftOutOfOrder: the applied id that follows
}

func (e *DriftError) Error() string {
	switch e.Reason {
	case DriftOutOfOrder:
		return fmt.Sprintf(
			"drift detected: migration %s is pending but later migration %s is already applied",
			e.MigrationID,
			e.AppliedID,
		)
	default:
		return fmt.Sprintf(
			"drift detected: migration %s checksum mismatch (ledger %s, definition %s)",
			e.MigrationID,
			shortSum(e.Expected),
			shortSum(e.Actual),
		)
	}
}

// Statement indexes used by MigrationError for failures outside the
// migration's own statements.
const (
	StatementBegin  = -1
	StatementRecord = -2
	StatementCommit = -3
)

// MigrationError reports that a pending migration failed. The migration's
// transaction has been rolled back; later migrations were not attempted.
type MigrationError struct {
	MigrationID    string
	Name           string
	StatementIndex int // zero-based, or one of the Statement* constants
	Statement      string
	Err            error
}

func (e *MigrationError) Error() string {
	var where string
	switch e.StatementIndex {
	case StatementBegin:
		where = "begin transaction"
	case StatementRecord:
		where = "record in ledger"
	case StatementCommit:
		where = "commit"
	default:
		where = fmt.Sprintf("statement %d", e.StatementIndex+1)
	}
	return fmt.Sprintf(
		"migration %s (%s) failed at %s: %s",
		e.MigrationID,
		e.Name,
		where,
		DescribeDBError(e.Err),
	)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// DescribeDBError renders a database error with the driver's native detail
// (SQLSTATE for PostgreSQL, error number for MySQL) when it is available.
func DescribeDBError(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		var b strings.Builder
		fmt.Fprintf(&b, "%s (SQLSTATE %s)", pgErr.Message, pgErr.Code)
		if pgErr.Detail != "" {
			fmt.Fprintf(&b, ": %s", pgErr.Detail)
		}
		if pgErr.Hint != "" {
			fmt.Fprintf(&b, " hint: %s", pgErr.Hint)
		}
		return b.String()
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return fmt.Sprintf("%s (error %d)", myErr.Message, myErr.Number)
	}
	return err.Error()
}

func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
