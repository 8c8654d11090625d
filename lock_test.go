package migrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresLocker(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	key := hashLockKey(DefaultLedgerTable)
	mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).WithArgs(key).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).WithArgs(key).
		WillReturnResult(sqlmock.NewResult(0, 0))

	release, err := PostgresLocker{}.Acquire(context.Background(), db, DefaultLedgerTable)
	require.NoError(t, err)
	release()
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLLocker(t *testing.T) {
	tests := []struct {
		name    string
		result  any
		wantErr bool
	}{
		{"granted", 1, false},
		{"timed out", 0, true},
		{"null", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery(`SELECT GET_LOCK\(\?, \?\)`).
				WithArgs("migrator:schema_migrations", 5).
				WillReturnRows(sqlmock.NewRows([]string{"lock"}).AddRow(tt.result))
			if !tt.wantErr {
				mock.ExpectExec(`SELECT RELEASE_LOCK\(\?\)`).
					WithArgs("migrator:schema_migrations").
					WillReturnResult(sqlmock.NewResult(0, 0))
			}

			locker := MySQLLocker{Timeout: 5 * time.Second}
			release, err := locker.Acquire(context.Background(), db, DefaultLedgerTable)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrLockTimeout)
			} else {
				require.NoError(t, err)
				release()
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestNoopLocker(t *testing.T) {
	release, err := NoopLocker{}.Acquire(context.Background(), nil, "k")
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NoopLocker{}.Acquire(ctx, nil, "k")
	require.ErrorIs(t, err, context.Canceled)
}

func TestHashLockKey(t *testing.T) {
	a := hashLockKey("schema_migrations")
	assert.Equal(t, a, hashLockKey("schema_migrations"))
	assert.NotEqual(t, a, hashLockKey("other_migrations"))
	assert.GreaterOrEqual(t, a, int64(0))
}

func TestMySQLLockName(t *testing.T) {
	assert.Equal(t, "migrator:schema_migrations", mysqlLockName("schema_migrations"))

	long := mysqlLockName(strings.Repeat("x", 100))
	assert.LessOrEqual(t, len(long), 64)
	assert.True(t, strings.HasPrefix(long, "migrator:"))
}
