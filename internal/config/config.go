// Package config resolves the migrator's settings from flags, environment
// variables, an optional YAML file, a .env file and built-in defaults, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/xo/dburl"

	"github.com/gearguard/migrator"
)

// Config keys. Every key can also be set as MIGRATE_<KEY> with dots replaced
// by underscores, e.g. MIGRATE_DATABASE_HOST.
const (
	KeyDriver         = "database.driver"
	KeyHost           = "database.host"
	KeyPort           = "database.port"
	KeyName           = "database.name"
	KeyUser           = "database.user"
	KeyPassword       = "database.password"
	KeySSLMode        = "database.sslmode"
	KeyURL            = "database.url"
	KeyConnectTimeout = "database.connect_timeout"

	KeyDir         = "migrations.dir"
	KeyManifest    = "migrations.manifest"
	KeyLedgerTable = "migrations.table"
	KeyLock        = "migrations.lock"
	KeyTimeout     = "migrations.timeout"
)

// Unprefixed variables used by the application's deployment scripts.
var legacyEnv = map[string]string{
	KeyURL:      "DATABASE_URL",
	KeyDriver:   "DB_DRIVER",
	KeyHost:     "DB_HOST",
	KeyPort:     "DB_PORT",
	KeyName:     "DB_NAME",
	KeyUser:     "DB_USER",
	KeyPassword: "DB_PASSWORD",
	KeySSLMode:  "DB_SSLMODE",
}

// Config is the resolved configuration.
type Config struct {
	Database   migrator.ConnectionConfig `mapstructure:"database"`
	Migrations Migrations                `mapstructure:"migrations"`
}

// Migrations configures where migrations come from and how they run.
type Migrations struct {
	// Dir is a directory of NNNN_name.sql files. Empty selects the built-in
	// schema.
	Dir string `mapstructure:"dir"`
	// Manifest is a YAML migration manifest, used instead of Dir.
	Manifest string `mapstructure:"manifest"`
	Table    string `mapstructure:"table"`
	Lock     bool   `mapstructure:"lock"`
	// Timeout bounds the whole run. Zero means no limit.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Options controls Load.
type Options struct {
	// ConfigFile is an optional YAML file. It must exist when set.
	ConfigFile string
	// EnvFile is read if it exists. Variables naming a config key rank just
	// above the defaults; any other variable is exported to the process
	// environment unless already set. Defaults to ".env".
	EnvFile string
	// Overrides are applied above every other source, keyed by the Key
	// constants. The CLI passes explicitly set flags here.
	Overrides map[string]any
}

func registerDefaults(v *viper.Viper) {
	v.SetDefault(KeyDriver, "postgres")
	v.SetDefault(KeyHost, "localhost")
	v.SetDefault(KeyPort, 5432)
	v.SetDefault(KeyName, "gearguard")
	v.SetDefault(KeyUser, "postgres")
	v.SetDefault(KeyPassword, "")
	v.SetDefault(KeySSLMode, "")
	v.SetDefault(KeyURL, "")
	v.SetDefault(KeyConnectTimeout, "10s")

	v.SetDefault(KeyDir, "")
	v.SetDefault(KeyManifest, "")
	v.SetDefault(KeyLedgerTable, migrator.DefaultLedgerTable)
	v.SetDefault(KeyLock, true)
	v.SetDefault(KeyTimeout, "0s")
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	registerDefaults(v)
	if err := applyDotEnv(v, dotenv); err != nil {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v.SetEnvPrefix("MIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range legacyEnv {
		if err := v.BindEnv(key, envName(key), name); err != nil {
			return nil, err
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envName(key string) string {
	return "MIGRATE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// applyDotEnv layers .env values over the defaults. A prefixed variable beats
// its legacy name.
func applyDotEnv(v *viper.Viper, dotenv map[string]string) error {
	if len(dotenv) == 0 {
		return nil
	}
	claimed := make(map[string]bool)
	for _, key := range v.AllKeys() {
		for _, name := range []string{legacyEnv[key], envName(key)} {
			if name == "" {
				continue
			}
			claimed[name] = true
			if value, ok := dotenv[name]; ok {
				v.SetDefault(key, value)
			}
		}
	}
	for name, value := range dotenv {
		if claimed[name] {
			continue
		}
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, value); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the resolved configuration for contradictions.
func (c *Config) Validate() error {
	if c.Database.URL != "" {
		if _, err := dburl.Parse(c.Database.URL); err != nil {
			return fmt.Errorf("%s: %w", KeyURL, err)
		}
	}
	if _, err := c.Database.Dialect(); err != nil {
		return fmt.Errorf("%s: %w", KeyDriver, err)
	}
	if c.Migrations.Dir != "" && c.Migrations.Manifest != "" {
		return fmt.Errorf("%s and %s are mutually exclusive", KeyDir, KeyManifest)
	}
	if err := migrator.ValidateTableName(c.Migrations.Table); err != nil {
		return fmt.Errorf("%s: %w", KeyLedgerTable, err)
	}
	if c.Migrations.Timeout < 0 {
		return fmt.Errorf("%s must not be negative", KeyTimeout)
	}
	return nil
}

// Sources returns the migration sources named by the configuration, or nil
// when the built-in schema should be used.
// Scripts are split with the lexical rules of the configured database.
func (c *Config) Sources() []migrator.MigrationSource {
	dialect, _ := c.Database.Dialect()
	switch {
	case c.Migrations.Manifest != "":
		src := migrator.NewFileMigrationSource(c.Migrations.Manifest).WithDialect(dialect)
		return []migrator.MigrationSource{src}
	case c.Migrations.Dir != "":
		src := migrator.NewDirMigrationSource(c.Migrations.Dir).WithDialect(dialect)
		return []migrator.MigrationSource{src}
	}
	return nil
}
