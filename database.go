package migrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// EnsureDatabase creates the database named by cfg when it does not exist
// yet. It connects to the server's maintenance database ("postgres" for
// PostgreSQL, none for MySQL); SQLite creates its file on first use, so
// nothing is done there.
//
// Returns whether the database was created.
func EnsureDatabase(ctx context.Context, cfg ConnectionConfig) (bool, error) {
	t, err := cfg.resolve()
	if err != nil {
		return false, &ConnectionError{Op: "parse", Target: cfg.Target(), Err: err}
	}
	name := t.database()
	if name == "" {
		return false, fmt.Errorf("no database name configured")
	}

	switch t.dialect {
	case DialectPostgres:
		maint := t.withDatabase("postgres")
		conn, err := connectTarget(ctx, maint, cfg.Target(), cfg.ConnectTimeout)
		if err != nil {
			return false, err
		}
		defer conn.Close()

		var exists bool
		err = conn.Conn.QueryRowContext(
			ctx,
			`SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_database WHERE datname = $1)`,
			name,
		).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("check database %s: %w", name, err)
		}
		if exists {
			return false, nil
		}
		// CREATE DATABASE cannot take a bind parameter.
		stmt := "CREATE DATABASE " + pgx.Identifier{name}.Sanitize()
		if _, err := conn.Conn.ExecContext(ctx, stmt); err != nil {
			return false, fmt.Errorf("create database %s: %w", name, err)
		}
		return true, nil

	case DialectMySQL:
		maint := t.withDatabase("")
		conn, err := connectTarget(ctx, maint, cfg.Target(), cfg.ConnectTimeout)
		if err != nil {
			return false, err
		}
		defer conn.Close()

		var found string
		err = conn.Conn.QueryRowContext(
			ctx,
			`SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = ?`,
			name,
		).Scan(&found)
		if err != nil {
			return false, fmt.Errorf("check database %s: %w", name, err)
		}
		if found != "0" {
			return false, nil
		}
		stmt := "CREATE DATABASE IF NOT EXISTS " + quoteMySQLIdent(name)
		if _, err := conn.Conn.ExecContext(ctx, stmt); err != nil {
			return false, fmt.Errorf("create database %s: %w", name, err)
		}
		return true, nil
	}
	return false, nil
}

func quoteMySQLIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
