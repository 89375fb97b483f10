// Package history keeps the record of which migrations have been applied to a
// database and produces the bookkeeping statements that maintain it.
package history

import (
	"context"
	"errors"
)

// DefaultTable is the name of the history table unless configured otherwise.
const DefaultTable = "migrations_history"

// ErrIdempotentUnsupported is returned by the guard scripts of dialects that
// have no conditional blocks.
var ErrIdempotentUnsupported = errors.New("idempotent scripts are not supported by this dialect")

// Row records a migration applied to a database.
type Row struct {
	MigrationID    string `db:"migration_id"`
	ProductVersion string `db:"product_version"`
}

// Ledger reads the applied migration history and generates the statements
// that create and maintain it.
type Ledger interface {
	// AppliedMigrations returns the recorded rows ordered by migration ID.
	// It returns no rows when the history table does not exist.
	AppliedMigrations(ctx context.Context) ([]Row, error)
	// Exists reports whether the history table exists.
	Exists(ctx context.Context) (bool, error)

	CreateScript() string
	CreateIfNotExistsScript() string
	InsertScript(row Row) string
	DeleteScript(migrationID string) string

	// BeginIfNotExistsScript opens a block that runs only while migrationID
	// is not recorded.
	BeginIfNotExistsScript(migrationID string) (string, error)
	// BeginIfExistsScript opens a block that runs only while migrationID is
	// recorded.
	BeginIfExistsScript(migrationID string) (string, error)
	// EndIfScript closes a block opened by either Begin script.
	EndIfScript() (string, error)
}
