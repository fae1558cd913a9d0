package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// ConnectionConfig describes the target database. It satisfies the
// persistence client configuration contract.
type ConnectionConfig struct {
	Driver      string        `koanf:"driver" yaml:"driver"`
	DSN         string        `koanf:"dsn" yaml:"dsn"`
	Debug       bool          `koanf:"debug" yaml:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" yaml:"ping_timeout"`
}

func (c ConnectionConfig) GetDebug() bool {
	return c.Debug
}

func (c ConnectionConfig) GetDriver() string {
	return normalizeDriver(c.Driver)
}

func (c ConnectionConfig) GetServer() string {
	return strings.TrimSpace(c.DSN)
}

func (c ConnectionConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c ConnectionConfig) GetOtelIdentifier() string {
	return "go-subsync"
}

// MigrationDialect maps the driver onto the migration tree dialect name.
func (c ConnectionConfig) MigrationDialect() string {
	if c.GetDriver() == DriverSQLite {
		return "sqlite"
	}
	return "postgres"
}

// Open connects to the configured database and wraps it in a persistence
// client with the matching bun dialect.
func Open(cfg ConnectionConfig) (*persistence.Client, error) {
	driver := cfg.GetDriver()
	dsn := cfg.GetServer()
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	return client, nil
}

func dialectFor(driver string) (schema.Dialect, error) {
	switch driver {
	case DriverPostgres:
		return pgdialect.New(), nil
	case DriverSQLite:
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

func normalizeDriver(driver string) string {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "", "postgres", "postgresql", "pg":
		return DriverPostgres
	case "sqlite", "sqlite3":
		return DriverSQLite
	default:
		return strings.TrimSpace(strings.ToLower(driver))
	}
}
