// Package metastore implements a persistent, concurrency-safe key-value
// metadata store backed by a relational table.
//
// The store is a coordination point for independent processes: tracking
// "last processed" markers, dedup keys, or small pieces of shared state.
// It exposes five operations (Get, Put, PutIfAbsent, Replace, Remove) and
// builds their atomicity out of two primitives the backend can express
// with ordinary SQL: a conditional insert that reports whether it inserted,
// and a locking read that holds an exclusive lock on the matched row until
// its transaction ends. Expected races (two callers inserting the same
// key, a key vanishing between statements) are absorbed by retry loops;
// backend failures are never retried and surface as BackendError.
package metastore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const (
	// DefaultTablePrefix is prepended to table names unless overridden.
	DefaultTablePrefix = "INT_"

	// DefaultRegion is the partition value used when no region is set.
	DefaultRegion = "DEFAULT"
)

// Config describes how to reach the backing database.
type Config struct {
	// Driver selects the backend. Defaults to DriverSQLite.
	Driver Driver

	// DSN is the database file path for SQLite or a connection string
	// for PostgreSQL.
	DSN string

	// TablePrefix is substituted into every table name.
	// Defaults to DefaultTablePrefix.
	TablePrefix string

	// Region scopes all operations to one partition of the table.
	// Defaults to DefaultRegion.
	Region string

	// MaxOpenConns and MaxIdleConns size the connection pool
	// (PostgreSQL only; SQLite is pinned to a single connection).
	MaxOpenConns int
	MaxIdleConns int
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.TablePrefix == "" {
		c.TablePrefix = DefaultTablePrefix
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Driver == DriverPostgres {
		if c.MaxOpenConns == 0 {
			c.MaxOpenConns = 25
		}
		if c.MaxIdleConns == 0 {
			c.MaxIdleConns = 5
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if _, err := c.Driver.sqlDriverName(); err != nil {
		return err
	}
	return nil
}

// Store provides atomic key-value operations over a relational table.
//
// A Store holds no cross-call mutable state besides the statement cache,
// which is built once at construction and only read afterwards, so a
// single Store is safe for use from any number of goroutines. Correctness
// also holds across separate Store instances (and separate processes)
// pointed at the same table.
type Store struct {
	db      *sql.DB
	driver  Driver
	prefix  string
	region  string
	queries map[query]string
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithTablePrefix overrides the default table prefix. The prefix is fixed
// for the lifetime of the store.
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithRegion scopes the store to a region partition of the table. Stores
// configured with different regions never observe each other's records.
func WithRegion(region string) Option {
	return func(s *Store) { s.region = region }
}

// Open connects to the configured database, applies connection settings,
// and ensures the schema exists.
//
// For SQLite the database is configured with:
//   - WAL mode for concurrent readers during writes
//   - 5-second busy timeout for cross-process lock contention
//   - immediate locking transactions, so a multi-statement operation takes
//     the database write lock when it begins rather than on first write
//
// This function is idempotent - safe to call multiple times against the
// same database.
func Open(cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}

	driverName, err := cfg.Driver.sqlDriverName()
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if cfg.Driver == DriverSQLite && !strings.Contains(dsn, "_txlock=") {
		// Locking transactions must take the write lock at BEGIN, not at
		// the first write, or two lock-read transactions could interleave.
		if strings.Contains(dsn, "?") {
			dsn += "&_txlock=immediate"
		} else {
			dsn += "?_txlock=immediate"
		}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	switch cfg.Driver {
	case DriverSQLite:
		// SQLite supports one writer at a time; a single pooled connection
		// avoids SQLITE_BUSY between this process's own operations.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	case DriverPostgres:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	store, err := New(db, cfg.Driver,
		WithTablePrefix(cfg.TablePrefix), WithRegion(cfg.Region))
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := store.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// New creates a Store over an existing database handle. The handle must
// not be nil; construction fails fast rather than erroring on first use.
//
// New does not create the schema - callers managing their own connection
// are expected to own DDL as well, or to call EnsureSchema explicitly.
func New(db *sql.DB, driver Driver, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if _, err := driver.sqlDriverName(); err != nil {
		return nil, err
	}

	s := &Store{
		db:     db,
		driver: driver,
		prefix: DefaultTablePrefix,
		region: DefaultRegion,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.queries = buildQueries(s.prefix, s.driver)
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB. Sibling packages (and tests) use it to
// run statements against the same pool; prefer the Store operations where
// one exists.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the backend driver this store was built for.
func (s *Store) Driver() Driver {
	return s.driver
}

// TablePrefix returns the configured table prefix.
func (s *Store) TablePrefix() string {
	return s.prefix
}

// Region returns the region partition this store operates in.
func (s *Store) Region() string {
	return s.region
}

// EnsureSchema creates the metadata and lock tables for this store's
// prefix if they do not exist. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := strings.ReplaceAll(schemaSQL, "%PREFIX%", s.prefix)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}
