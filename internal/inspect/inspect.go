// Package inspect reports the user tables of a database with their row
// counts.
package inspect

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/gearguard/migrator"
)

// Table is one user table.
type Table struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

const (
	postgresTablesQuery = `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'`

	mysqlTablesQuery = `SELECT table_name FROM information_schema.tables
WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'`

	sqliteTablesQuery = `SELECT name FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`
)

// Tables lists the user tables visible to q, sorted by name, with their row
// counts.
func Tables(ctx context.Context, q migrator.Querier, d migrator.Dialect) ([]Table, error) {
	var (
		query string
		quote func(string) string
	)
	switch d {
	case migrator.DialectPostgres:
		query, quote = postgresTablesQuery, quotePostgres
	case migrator.DialectMySQL:
		query, quote = mysqlTablesQuery, quoteMySQL
	case migrator.DialectSQLite:
		query, quote = sqliteTablesQuery, quoteSQLite
	default:
		return nil, fmt.Errorf("inspect: unsupported dialect %q", d)
	}

	names, err := tableNames(ctx, q, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	slices.Sort(names)

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		var rows int64
		err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(name)).Scan(&rows)
		if err != nil {
			return nil, fmt.Errorf("count rows in %s: %w", name, err)
		}
		tables = append(tables, Table{Name: name, Rows: rows})
	}
	return tables, nil
}

func tableNames(ctx context.Context, q migrator.Querier, query string) ([]string, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Missing returns the entries of want that are not in tables.
func Missing(tables []Table, want []string) []string {
	have := make(map[string]bool, len(tables))
	for _, t := range tables {
		have[t.Name] = true
	}
	var missing []string
	for _, name := range want {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

func quotePostgres(name string) string { return pgx.Identifier{name}.Sanitize() }

func quoteMySQL(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteSQLite(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
