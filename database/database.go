// Package database provides database connections that execute migration
// batches transactionally.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/platforma-dev/migrator/log"
	"github.com/platforma-dev/migrator/migration"
	"github.com/platforma-dev/migrator/render"
)

// ErrDatabaseMissing is returned by Execute when the target database does not
// exist and creating it was not requested.
var ErrDatabaseMissing = errors.New("database does not exist")

// StatementError describes a statement that failed inside an Execute transaction.
type StatementError struct {
	Batch     int
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	stmt := e.Statement
	if len(stmt) > 200 {
		stmt = stmt[:200] + "..."
	}
	return fmt.Sprintf("batch %d: statement %q failed: %s", e.Batch, stmt, e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

type store interface {
	open() (*sqlx.DB, error)
	exists(ctx context.Context, conn *sqlx.DB) (bool, error)
	create(ctx context.Context) error
}

// Database represents a connection to a database that migrations are applied to.
type Database struct {
	dialect      render.Dialect
	store        store
	conn         *sqlx.DB
	repositories map[string]any
	migrations   []migration.Migration
}

// New creates a new Database for driver ("postgres" or "sqlite") and dsn.
// The connection is opened lazily, so a database that does not exist yet can
// still be created by Execute.
func New(driver, dsn string) (*Database, error) {
	dialect, err := render.DialectFor(driver)
	if err != nil {
		return nil, err
	}

	var s store
	switch dialect.Name() {
	case render.Postgres.Name():
		s = &postgresStore{dsn: dsn}
	default:
		s = &sqliteStore{dsn: dsn}
	}

	conn, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{dialect: dialect, store: s, conn: conn, repositories: make(map[string]any)}, nil
}

// Connection returns the underlying sqlx database connection.
func (db *Database) Connection() *sqlx.DB {
	return db.conn
}

// Dialect returns the SQL dialect of the database.
func (db *Database) Dialect() render.Dialect {
	return db.dialect
}

// Close closes the underlying connection.
func (db *Database) Close() error {
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// RegisterRepository registers a repository in the database.
// If repository implements migration.Source, its SQL migrations become part of Catalog.
func (db *Database) RegisterRepository(name string, repository any) {
	db.repositories[name] = repository
}

// RegisterMigrations adds Go-defined migrations to the catalog of the database.
func (db *Database) RegisterMigrations(migrations ...migration.Migration) {
	db.migrations = append(db.migrations, migrations...)
}

// Catalog merges the registered Go migrations with the SQL migrations of every
// registered repository that implements migration.Source into one ordered catalog.
func (db *Database) Catalog() (*migration.Catalog, error) {
	migrations := slices.Clone(db.migrations)
	for _, name := range slices.Sorted(maps.Keys(db.repositories)) {
		source, ok := db.repositories[name].(migration.Source)
		if !ok {
			continue
		}
		parsed, err := migration.ParseSQLMigrations(source.Migrations())
		if err != nil {
			return nil, fmt.Errorf("failed to parse migrations for %s: %w", name, err)
		}
		for _, m := range parsed {
			migrations = append(migrations, m)
		}
	}

	slices.SortStableFunc(migrations, func(a, b migration.Migration) int {
		return migration.CompareIDs(a.ID(), b.ID())
	})

	return migration.NewCatalog(migrations...)
}

// Exists reports whether the target database exists.
func (db *Database) Exists(ctx context.Context) (bool, error) {
	return db.store.exists(ctx, db.conn)
}

// Create creates the target database. It runs outside of any transaction.
func (db *Database) Create(ctx context.Context) error {
	if err := db.store.create(ctx); err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	log.InfoContext(ctx, "database created")
	return nil
}

// Execute runs batches in order inside a single transaction. When the database
// does not exist it is created first if ensureDatabase is set; otherwise
// ErrDatabaseMissing is returned. Any failing statement rolls back everything
// executed by this call.
func (db *Database) Execute(ctx context.Context, batches []render.Batch, ensureDatabase bool) error {
	exists, err := db.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if !ensureDatabase {
			return ErrDatabaseMissing
		}
		if err := db.Create(ctx); err != nil {
			return err
		}
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for i, batch := range batches {
		for _, stmt := range batch.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
					log.ErrorContext(ctx, "failed to rollback transaction", "error", rollbackErr)
				}
				return &StatementError{Batch: i, Statement: stmt, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ExecContext executes a query outside of a migration transaction.
func (db *Database) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return res, nil
}

// GetContext scans a single row into dest.
func (db *Database) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if err := db.conn.GetContext(ctx, dest, query, args...); err != nil {
		return fmt.Errorf("failed to get row: %w", err)
	}
	return nil
}

// SelectContext scans all rows into dest.
func (db *Database) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	if err := db.conn.SelectContext(ctx, dest, query, args...); err != nil {
		return fmt.Errorf("failed to select rows: %w", err)
	}
	return nil
}

// isInvalidCatalog reports whether err is the postgres error for a missing database.
func isInvalidCatalog(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "3D000"
}
