// Package database provides the relational store for stations and daily fuel prices.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-scraper/internal/metrics"
	"github.com/andygrunwald/fuel-price-scraper/internal/retry"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultBusyTimeout is how long SQLite waits on a lock before reporting busy.
const DefaultBusyTimeout = 5 * time.Second

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Options configures a DB.
type Options struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string
	// Path is the SQLite database file.
	Path string
	// DSN is the PostgreSQL connection string.
	DSN string
	// BusyTimeout is the SQLite busy timeout.
	BusyTimeout time.Duration
	// Retry is applied to write transactions that fail because the store is busy.
	Retry retry.Policy
	// MaxOpenConns limits the connection pool. 0 keeps the default of 10.
	MaxOpenConns int
}

// DB wraps the database connection and provides operations for stations and prices.
// It is safe for concurrent use; write transactions are serialized in-process.
type DB struct {
	db      *sql.DB
	driver  string
	retry   retry.Policy
	writeMu sync.Mutex
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New opens the database, applies pending migrations and returns a DB.
func New(ctx context.Context, opts Options, m *metrics.Metrics, logger zerolog.Logger) (*DB, error) {
	driverName, dsn, err := opts.dataSource()
	if err != nil {
		return nil, err
	}

	if opts.Driver == DriverSQLite {
		if err := ensureDir(opts.Path); err != nil {
			return nil, err
		}
	}

	if err := migrateUp(opts.Driver, driverName, dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}

	// Configure connection pool
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	d := NewWithDB(db, opts.Driver, opts.Retry, m, logger)
	d.logger.Info().
		Str("driver", opts.Driver).
		Int("max_open_conns", maxOpen).
		Msg("database ready")
	return d, nil
}

// NewWithDB wraps an already opened connection. No migrations are applied.
func NewWithDB(db *sql.DB, driver string, policy retry.Policy, m *metrics.Metrics, logger zerolog.Logger) *DB {
	return &DB{
		db:      db,
		driver:  driver,
		retry:   policy,
		metrics: m,
		logger:  logger.With().Str("component", "database").Logger(),
	}
}

func (o Options) dataSource() (driverName, dsn string, err error) {
	switch o.Driver {
	case DriverSQLite:
		if o.Path == "" {
			return "", "", fmt.Errorf("sqlite database path must not be empty")
		}
		timeout := o.BusyTimeout
		if timeout <= 0 {
			timeout = DefaultBusyTimeout
		}
		return "sqlite3", sqliteDSN(o.Path, timeout), nil
	case DriverPostgres:
		if o.DSN == "" {
			return "", "", fmt.Errorf("postgres DSN must not be empty")
		}
		return "pgx", o.DSN, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", o.Driver)
	}
}

// sqliteDSN enables WAL so readers do not block the writer, takes the write
// lock at BEGIN and enforces foreign keys.
func sqliteDSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("%s?_journal_mode=WAL&_txlock=immediate&_foreign_keys=on&_busy_timeout=%d",
		path, busyTimeout.Milliseconds())
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks if the database connection is alive.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// rebind converts ? placeholders to the positional form PostgreSQL expects.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// withWriteTx runs fn in a write transaction. The whole transaction is
// retried while the store reports busy.
func (d *DB) withWriteTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	attempt := func(ctx context.Context) error {
		d.writeMu.Lock()
		defer d.writeMu.Unlock()

		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	}

	notify := func(n int, delay time.Duration, err error) {
		d.metrics.RecordBusyRetry(operation)
		d.logger.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", n).
			Dur("delay", delay).
			Msg("database busy, retrying transaction")
	}

	err := retry.Do(ctx, d.retry, IsBusy, notify, attempt)
	if err != nil {
		d.metrics.RecordDBOperation(operation, "error")
		if IsBusy(err) {
			return fmt.Errorf("%s: %w: %w", operation, ErrBusy, err)
		}
		return fmt.Errorf("%s: %w", operation, err)
	}

	d.metrics.RecordDBOperation(operation, "success")
	return nil
}

// batchSize is the number of rows per multi-row INSERT.
const batchSize = 500

// insertQuery builds a multi-row INSERT that ignores rows conflicting on conflictCols.
func insertQuery(table string, columns []string, rows int, conflictCols string) string {
	group := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(group)
	}
	b.WriteString(" ON CONFLICT (")
	b.WriteString(conflictCols)
	b.WriteString(") DO NOTHING")
	return b.String()
}
