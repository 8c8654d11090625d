package migrator

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
)

// Executor is an interface that *sql.DB, *sql.Conn and *sql.Tx implement.
type Executor interface {
	ExecContext(
		ctx context.Context, query string, args ...any,
	) (sql.Result, error)
}

// Querier can execute statements and read rows.
type Querier interface {
	Executor
	QueryContext(
		ctx context.Context, query string, args ...any,
	) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn is a database session that can start transactions. Both *sql.DB and
// *sql.Conn implement it; a run should use a *sql.Conn so that session-level
// locks and the ledger see the same connection.
type Conn interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Migration is a named, ordered unit of schema change. A migration must not
// be edited once it has been applied anywhere: its checksum is recorded in
// the ledger and verified on every later run.
type Migration struct {
	ID         string
	Name       string
	Statements []string
}

// NewMigration returns a new migration.
//
// Parameters:
//   - id: The id of the migration. It defines the apply order.
//   - name: A human-readable name.
//   - statements: The statements executed, in order, when applying.
//
// Returns:
//   - *Migration: A new migration.
func NewMigration(id string, name string, statements ...string) *Migration {
	return &Migration{
		ID:         id,
		Name:       name,
		Statements: statements,
	}
}

// WithID returns a new Migration with the given id.
func (m *Migration) WithID(id string) *Migration {
	new := *m
	new.ID = id
	return &new
}

// WithName returns a new Migration with the given name.
func (m *Migration) WithName(name string) *Migration {
	new := *m
	new.Name = name
	return &new
}

// WithStatements returns a new Migration with the given statements.
//
// Parameters:
//   - statements: The statements to use.
//
// Returns:
//   - *Migration: A new migration.
func (m *Migration) WithStatements(statements ...string) *Migration {
	new := *m
	new.Statements = append([]string(nil), statements...)
	return &new
}

// Checksum returns the hex sha256 of the migration's statements. Leading and
// trailing whitespace of each statement is ignored, as are blank statements;
// each statement is length-prefixed so that moving text between statements
// changes the sum.
func (m Migration) Checksum() string {
	h := sha256.New()
	for _, stmt := range m.Statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		fmt.Fprintf(h, "%d:%s;", len(stmt), stmt)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// String returns "id (name)".
func (m Migration) String() string {
	if m.Name == "" {
		return m.ID
	}
	return fmt.Sprintf("%s (%s)", m.ID, m.Name)
}

// CompareIDs orders migration ids. Ids made only of digits compare
// numerically, so "9" sorts before "10", and sort before every other id;
// other ids compare as strings. Numerically equal ids such as "01" and "1"
// fall back to the text.
func CompareIDs(a, b string) int {
	aNum, bNum := isNumericID(a), isNumericID(b)
	switch {
	case aNum && !bNum:
		return -1
	case !aNum && bNum:
		return 1
	case aNum && bNum:
		at, bt := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if c := cmp.Compare(len(at), len(bt)); c != 0 {
			return c
		}
		if c := strings.Compare(at, bt); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}

func isNumericID(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// ValidateMigrations checks the preconditions of a run: every migration has
// an id and at least one non-blank statement, ids are unique, and the slice
// is sorted ascending by id.
func ValidateMigrations(migrations []Migration) error {
	seen := make(map[string]bool, len(migrations))
	for i, mig := range migrations {
		if strings.TrimSpace(mig.ID) == "" {
			return fmt.Errorf("%w: migration at index %d has no id", ErrInvalidMigrations, i)
		}
		if seen[mig.ID] {
			return fmt.Errorf("%w: duplicate migration id %s", ErrInvalidMigrations, mig.ID)
		}
		seen[mig.ID] = true
		if !hasStatements(mig) {
			return fmt.Errorf(
				"%w: migration %s has no statements defined",
				ErrInvalidMigrations,
				mig,
			)
		}
		if i > 0 && CompareIDs(migrations[i-1].ID, mig.ID) >= 0 {
			return fmt.Errorf(
				"%w: migration %s is not ordered after %s",
				ErrInvalidMigrations,
				mig.ID,
				migrations[i-1].ID,
			)
		}
	}
	return nil
}

func hasStatements(mig Migration) bool {
	for _, stmt := range mig.Statements {
		if strings.TrimSpace(stmt) != "" {
			return true
		}
	}
	return false
}
