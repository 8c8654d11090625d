package inspect

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearguard/migrator"
)

func TestTablesSQLite(t *testing.T) {
	ctx := context.Background()
	conn, err := migrator.Connect(ctx, migrator.ConnectionConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "inspect.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE equipment (id INTEGER PRIMARY KEY AUTOINCREMENT)`,
		`INSERT INTO users (name) VALUES ('a'), ('b'), ('c')`,
		`INSERT INTO equipment DEFAULT VALUES`,
	} {
		_, err := conn.Conn.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	tables, err := Tables(ctx, conn.Conn, migrator.DialectSQLite)
	require.NoError(t, err)
	// sqlite_sequence (from AUTOINCREMENT) is internal and skipped.
	assert.Equal(t, []Table{
		{Name: "equipment", Rows: 1},
		{Name: "users", Rows: 3},
	}, tables)

	assert.Equal(t, []string{"work_centers"},
		Missing(tables, []string{"users", "work_centers", "equipment"}))
}

func TestTablesPostgresQuotesNames(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM information_schema.tables\s+WHERE table_schema = current_schema\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).
			AddRow("users").AddRow("Odd Name"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "Odd Name"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	tables, err := Tables(context.Background(), db, migrator.DialectPostgres)
	require.NoError(t, err)
	assert.Equal(t, []Table{{Name: "Odd Name"}, {Name: "users", Rows: 7}}, tables)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTablesMySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`WHERE table_schema = DATABASE\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("users"))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `users`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	tables, err := Tables(context.Background(), db, migrator.DialectMySQL)
	require.NoError(t, err)
	assert.Equal(t, []Table{{Name: "users", Rows: 2}}, tables)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTablesUnsupportedDialect(t *testing.T) {
	_, err := Tables(context.Background(), nil, migrator.Dialect("oracle"))
	require.Error(t, err)
}
