package migrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownAppliedMigration is returned when the history records a
	// migration the catalog does not contain.
	ErrUnknownAppliedMigration = errors.New("history contains migrations missing from the catalog")
	// ErrLedgerMissing is returned when the history table is absent although
	// migrations other than the first have to be applied.
	ErrLedgerMissing = errors.New("history table does not exist")
	// ErrRevertOrder is returned when migrations to revert are not in strictly
	// descending order.
	ErrRevertOrder = errors.New("migrations to revert are out of order")
)

// Direction tells whether a migration is applied or reverted.
type Direction string

const (
	// Up applies a migration.
	Up Direction = "up"
	// Down reverts a migration.
	Down Direction = "down"
)

// UnknownMigrationsError lists applied migrations absent from the catalog.
type UnknownMigrationsError struct {
	IDs []string
}

func (e *UnknownMigrationsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownAppliedMigration, strings.Join(e.IDs, ", "))
}

func (e *UnknownMigrationsError) Unwrap() error {
	return ErrUnknownAppliedMigration
}

// ExecutionError is returned when applying or reverting a migration fails.
// Migrations committed before it stay committed.
type ExecutionError struct {
	MigrationID string
	Direction   Direction
	Err         error
}

func (e *ExecutionError) Error() string {
	verb := "apply"
	if e.Direction == Down {
		verb = "revert"
	}
	return fmt.Sprintf("failed to %s migration %s: %s", verb, e.MigrationID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
