package migrator

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDialect(t *testing.T) {
	for name, want := range map[string]Dialect{
		"postgres":   DialectPostgres,
		"PostgreSQL": DialectPostgres,
		"pgx":        DialectPostgres,
		"mysql":      DialectMySQL,
		"mariadb":    DialectMySQL,
		"sqlite":     DialectSQLite,
		" sqlite3 ":  DialectSQLite,
	} {
		got, err := ParseDialect(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseDialect("oracle")
	require.Error(t, err)

	_, err = LedgerFor(Dialect("oracle"))
	require.Error(t, err)
}

func TestValidateTableName(t *testing.T) {
	for _, ok := range []string{"schema_migrations", "_m", "public.schema_migrations", "M2"} {
		assert.NoError(t, ValidateTableName(ok), ok)
	}
	for _, bad := range []string{"", "2m", "a b", "a.b.c", "m;DROP TABLE users", `"m"`} {
		assert.Error(t, ValidateTableName(bad), bad)
	}
}

func TestPostgresLedger(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations \(\s*migration_id VARCHAR\(255\) PRIMARY KEY,.*applied_at TIMESTAMPTZ NOT NULL\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations \(migration_id, name, checksum, applied_at\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs("0001", "create_users", "abc", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT migration_id, name, checksum, applied_at FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"migration_id", "name", "checksum", "applied_at"}).
			AddRow("10", "b", "def   ", at).
			AddRow("9", "a", "abc", at))

	l := PostgresLedger{}
	require.NoError(t, l.EnsureLedger(ctx, db, DefaultLedgerTable))
	require.NoError(t, l.Record(ctx, db, DefaultLedgerTable, MigrationRecord{
		MigrationID: "0001", Name: "create_users", Checksum: "abc", AppliedAt: at,
	}))
	recs, err := l.Records(ctx, db, DefaultLedgerTable)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "9", recs[0].MigrationID, "records sort by id")
	assert.Equal(t, "def", recs[1].Checksum, "CHAR padding is trimmed")
	assert.Equal(t, at, recs[1].AppliedAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLLedger(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.FixedZone("x", 3600))

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS hist \(\s*migration_id VARCHAR\(191\) PRIMARY KEY,.*applied_at DATETIME\(6\) NOT NULL\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO hist \(migration_id, name, checksum, applied_at\) VALUES \(\?, \?, \?, \?\)`).
		WithArgs("1", "a", "abc", at.UTC()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	l := MySQLLedger{}
	require.NoError(t, l.EnsureLedger(ctx, db, "hist"))
	require.NoError(t, l.Record(ctx, db, "hist", MigrationRecord{
		MigrationID: "1", Name: "a", Checksum: "abc", AppliedAt: at,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteLedger_RoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := Connect(ctx, sqliteConfig(t))
	require.NoError(t, err)
	defer conn.Close()

	l := SQLiteLedger{}
	require.NoError(t, l.EnsureLedger(ctx, conn.Conn, "hist"))
	require.NoError(t, l.EnsureLedger(ctx, conn.Conn, "hist"), "ensure is idempotent")

	at := time.Date(2026, 5, 1, 10, 0, 0, 123456789, time.UTC)
	require.NoError(t, l.Record(ctx, conn.Conn, "hist", MigrationRecord{
		MigrationID: "1", Name: "a", Checksum: "abc", AppliedAt: at,
	}))
	err = l.Record(ctx, conn.Conn, "hist", MigrationRecord{
		MigrationID: "1", Name: "again", Checksum: "abc", AppliedAt: at,
	})
	require.Error(t, err, "one record per migration id")

	recs, err := l.Records(ctx, conn.Conn, "hist")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, at.Equal(recs[0].AppliedAt))
	assert.Equal(t, "a", recs[0].Name)
}
