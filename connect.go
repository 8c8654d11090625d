package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/xo/dburl"
	_ "modernc.org/sqlite"
)

// ConnectionConfig identifies the target database. When URL is set it takes
// precedence over the discrete fields.
type ConnectionConfig struct {
	Driver         string        `mapstructure:"driver" yaml:"driver" json:"driver"`
	Host           string        `mapstructure:"host" yaml:"host" json:"host"`
	Port           int           `mapstructure:"port" yaml:"port" json:"port"`
	Database       string        `mapstructure:"name" yaml:"name" json:"name"`
	User           string        `mapstructure:"user" yaml:"user" json:"user"`
	Password       string        `mapstructure:"password" yaml:"password" json:"-"`
	SSLMode        string        `mapstructure:"sslmode" yaml:"sslmode" json:"sslmode"`
	URL            string        `mapstructure:"url" yaml:"url" json:"-"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" json:"connect_timeout"`
}

// Target returns a printable description of the database without
// credentials.
func (c ConnectionConfig) Target() string {
	if c.URL != "" {
		u, err := dburl.Parse(c.URL)
		if err != nil {
			return "<invalid url>"
		}
		return u.Redacted()
	}
	d, err := ParseDialect(c.Driver)
	if err == nil && d == DialectSQLite {
		return c.Database
	}
	return fmt.Sprintf("%s/%s", net.JoinHostPort(c.Host, strconv.Itoa(c.port(d))), c.Database)
}

// Dialect returns the database family the config points at.
func (c ConnectionConfig) Dialect() (Dialect, error) {
	if c.URL != "" {
		u, err := dburl.Parse(c.URL)
		if err != nil {
			return "", err
		}
		return ParseDialect(u.Driver)
	}
	return ParseDialect(c.Driver)
}

func (c ConnectionConfig) port(d Dialect) int {
	if c.Port != 0 {
		return c.Port
	}
	if d == DialectMySQL {
		return 3306
	}
	return 5432
}

// target is a resolved, driver-specific connection description.
type target struct {
	dialect Dialect
	pg      *pgx.ConnConfig
	my      *mysql.Config
	path    string
}

func (c ConnectionConfig) resolve() (*target, error) {
	d, err := c.Dialect()
	if err != nil {
		return nil, err
	}
	dsn, err := c.dsn(d)
	if err != nil {
		return nil, err
	}

	t := &target{dialect: d}
	switch d {
	case DialectPostgres:
		t.pg, err = pgx.ParseConfig(dsn)
		if err != nil {
			return nil, err
		}
		if c.ConnectTimeout > 0 {
			t.pg.ConnectTimeout = c.ConnectTimeout
		}
	case DialectMySQL:
		t.my, err = mysql.ParseDSN(dsn)
		if err != nil {
			return nil, err
		}
		// The ledger scans DATETIME columns into time.Time.
		t.my.ParseTime = true
		if c.ConnectTimeout > 0 {
			t.my.Timeout = c.ConnectTimeout
		}
	case DialectSQLite:
		if dsn == "" {
			return nil, errors.New("sqlite database path is empty")
		}
		t.path = dsn
	}
	return t, nil
}

func (c ConnectionConfig) dsn(d Dialect) (string, error) {
	if c.URL != "" {
		u, err := dburl.Parse(c.URL)
		if err != nil {
			return "", err
		}
		return u.DSN, nil
	}

	switch d {
	case DialectPostgres:
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.port(d))),
			Path:   "/" + c.Database,
		}
		if c.User != "" {
			u.User = url.UserPassword(c.User, c.Password)
		}
		if c.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
		}
		return u.String(), nil
	case DialectMySQL:
		cfg := mysql.NewConfig()
		cfg.User = c.User
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.port(d)))
		cfg.DBName = c.Database
		return cfg.FormatDSN(), nil
	}
	return c.Database, nil
}

func (t *target) database() string {
	switch t.dialect {
	case DialectPostgres:
		return t.pg.Database
	case DialectMySQL:
		return t.my.DBName
	}
	return t.path
}

// withDatabase returns a copy of t pointing at another database on the same
// server.
func (t *target) withDatabase(name string) *target {
	cp := *t
	switch t.dialect {
	case DialectPostgres:
		cp.pg = t.pg.Copy()
		cp.pg.Database = name
	case DialectMySQL:
		cp.my = t.my.Clone()
		cp.my.DBName = name
	}
	return &cp
}

func (t *target) open() (*sql.DB, error) {
	switch t.dialect {
	case DialectPostgres:
		return stdlib.OpenDB(*t.pg), nil
	case DialectMySQL:
		connector, err := mysql.NewConnector(t.my)
		if err != nil {
			return nil, err
		}
		return sql.OpenDB(connector), nil
	}
	return sql.Open("sqlite", t.path)
}

// Connection is one scoped database session. Close must be called on every
// path; it releases the session and the underlying pool.
type Connection struct {
	DB      *sql.DB
	Conn    *sql.Conn
	Dialect Dialect
}

// Connect opens the database described by cfg, verifies it is reachable and
// that the credentials are accepted, and reserves a single session. All
// failures are reported as *ConnectionError.
//
// Parameters:
//   - ctx: Context bounding the connection attempt.
//   - cfg: The connection configuration.
//
// Returns:
//   - *Connection: The open connection.
//   - error: A *ConnectionError if the database cannot be used.
func Connect(ctx context.Context, cfg ConnectionConfig) (*Connection, error) {
	t, err := cfg.resolve()
	if err != nil {
		return nil, &ConnectionError{Op: "parse", Target: cfg.Target(), Err: err}
	}
	return connectTarget(ctx, t, cfg.Target(), cfg.ConnectTimeout)
}

func connectTarget(
	ctx context.Context, t *target, name string, timeout time.Duration,
) (*Connection, error) {
	db, err := t.open()
	if err != nil {
		return nil, &ConnectionError{Op: "open", Target: name, Err: err}
	}

	pingCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &ConnectionError{Op: "ping", Target: name, Err: err}
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, &ConnectionError{Op: "conn", Target: name, Err: err}
	}
	return &Connection{DB: db, Conn: conn, Dialect: t.dialect}, nil
}

// Close releases the session and closes the pool.
func (c *Connection) Close() error {
	var errs []error
	if c.Conn != nil {
		errs = append(errs, c.Conn.Close())
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}
