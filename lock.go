package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrLockTimeout is returned when the run lock is held by another process for
// longer than the locker is willing to wait.
var ErrLockTimeout = errors.New("migration lock is held by another process")

// Locker provides mutual exclusion between migration runs against the same
// database. Locks are session scoped: q must be the run's own connection,
// and the lock is released by the returned function or when that connection
// closes.
type Locker interface {
	Acquire(ctx context.Context, q Querier, key string) (release func(), err error)
}

// LockerFor returns the default locker for a dialect.
func LockerFor(d Dialect) Locker {
	switch d {
	case DialectPostgres:
		return PostgresLocker{}
	case DialectMySQL:
		return MySQLLocker{Timeout: 30 * time.Second}
	}
	return NoopLocker{}
}

// PostgresLocker uses session-level advisory locks.
type PostgresLocker struct{}

// Acquire blocks until the advisory lock for key is granted or ctx is done.
// The key is hashed to an int64 with FNV-1a.
func (PostgresLocker) Acquire(
	ctx context.Context, q Querier, key string,
) (func(), error) {
	lockID := hashLockKey(key)
	if _, err := q.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		return nil, fmt.Errorf("pg_advisory_lock(%d): %w", lockID, err)
	}
	release := func() {
		_, _ = q.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}
	return release, nil
}

// MySQLLocker uses GET_LOCK with a bounded wait.
type MySQLLocker struct {
	Timeout time.Duration
}

// Acquire takes the named lock, waiting at most l.Timeout.
func (l MySQLLocker) Acquire(
	ctx context.Context, q Querier, key string,
) (func(), error) {
	name := mysqlLockName(key)
	var got sql.NullInt64
	err := q.QueryRowContext(
		ctx, `SELECT GET_LOCK(?, ?)`, name, int(l.Timeout.Seconds()),
	).Scan(&got)
	if err != nil {
		return nil, fmt.Errorf("GET_LOCK(%s): %w", name, err)
	}
	if !got.Valid || got.Int64 != 1 {
		return nil, fmt.Errorf("GET_LOCK(%s): %w", name, ErrLockTimeout)
	}
	release := func() {
		_, _ = q.ExecContext(context.Background(), `SELECT RELEASE_LOCK(?)`, name)
	}
	return release, nil
}

// NoopLocker does nothing. SQLite serializes writers itself.
type NoopLocker struct{}

// Acquire returns immediately unless ctx is already done.
func (NoopLocker) Acquire(ctx context.Context, _ Querier, _ string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() {}, nil
}

// hashLockKey produces a stable int64 from a string key using FNV-1a.
func hashLockKey(key string) int64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // advisory lock key
}

// MySQL lock names are limited to 64 characters.
func mysqlLockName(key string) string {
	name := "migrator:" + key
	if len(name) > 64 {
		name = fmt.Sprintf("migrator:%x", hashLockKey(key))
	}
	return name
}
