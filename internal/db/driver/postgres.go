package driver

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver, registered as "pgx"
)

// PostgresDriver implements the Driver interface for PostgreSQL.
type PostgresDriver struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL driver.
func NewPostgres() *PostgresDriver {
	return &PostgresDriver{}
}

// Open opens a PostgreSQL database connection and checks it is reachable.
func (d *PostgresDriver) Open(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	d.db = db
	return nil
}

// Close closes the database connection.
func (d *PostgresDriver) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *PostgresDriver) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, rebindDollar(query), args...)
}

func (d *PostgresDriver) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, rebindDollar(query), args...)
}

func (d *PostgresDriver) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, rebindDollar(query), args...)
}

// BeginTx starts a transaction.
func (d *PostgresDriver) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqlTx{tx: tx, rebind: rebindDollar}, nil
}

// Migrate applies migrations from schema/postgres.
func (d *PostgresDriver) Migrate(ctx context.Context, schemaFS fs.FS, schema string) error {
	return migrate(ctx, d, schemaFS, "schema/postgres", schema, `
		CREATE TABLE IF NOT EXISTS _migrations (
			schema_name TEXT NOT NULL,
			version INTEGER NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (schema_name, version)
		)
	`)
}

func (d *PostgresDriver) Dialect() Dialect {
	return DialectPostgres
}

func (d *PostgresDriver) DB() *sql.DB {
	return d.db
}
