package migration

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrInvalidCatalog is matched by every *CatalogError.
	ErrInvalidCatalog = errors.New("invalid migration catalog")
	// ErrMigrationNotFound is returned when an identifier matches no migration.
	ErrMigrationNotFound = errors.New("migration not found")
	// ErrAmbiguousMigration is returned when an identifier matches several migrations.
	ErrAmbiguousMigration = errors.New("ambiguous migration identifier")
)

// CatalogError reports a migration that breaks catalog ordering rules.
type CatalogError struct {
	Index int
	ID    string
	Msg   string
}

// Error returns the formatted error message for CatalogError.
func (e *CatalogError) Error() string {
	return fmt.Sprintf("invalid migration catalog: migration #%d %q: %s", e.Index, e.ID, e.Msg)
}

// Is reports whether target is ErrInvalidCatalog.
func (e *CatalogError) Is(target error) bool {
	return target == ErrInvalidCatalog
}

// ResolveError is returned when an identifier cannot be resolved to exactly
// one migration.
type ResolveError struct {
	Input      string
	Candidates []string
	err        error
}

// Error returns the formatted error message for ResolveError.
func (e *ResolveError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("%s: %q", e.err, e.Input)
	}
	return fmt.Sprintf("%s: %q matches %s", e.err, e.Input, strings.Join(e.Candidates, ", "))
}

// Unwrap returns ErrMigrationNotFound or ErrAmbiguousMigration.
func (e *ResolveError) Unwrap() error {
	return e.err
}

// Catalog is the ordered, immutable set of known migrations.
type Catalog struct {
	migrations []Migration
	model      *Snapshot
}

// NewCatalog validates and wraps migrations. IDs must be non-empty, sort after
// InitialDatabase and be strictly ascending under case-insensitive comparison;
// anything else is rejected so an out-of-order migration is caught when the
// catalog is built instead of silently changing application order.
func NewCatalog(migrations ...Migration) (*Catalog, error) {
	for i, m := range migrations {
		id := m.ID()
		switch {
		case strings.TrimSpace(id) == "":
			return nil, &CatalogError{Index: i, ID: id, Msg: "empty ID"}
		case CompareIDs(id, InitialDatabase) <= 0:
			return nil, &CatalogError{Index: i, ID: id, Msg: fmt.Sprintf("ID must sort after %q", InitialDatabase)}
		case i > 0 && CompareIDs(migrations[i-1].ID(), id) == 0:
			return nil, &CatalogError{Index: i, ID: id, Msg: "duplicate ID"}
		case i > 0 && CompareIDs(migrations[i-1].ID(), id) > 0:
			return nil, &CatalogError{Index: i, ID: id, Msg: fmt.Sprintf("must sort after %q", migrations[i-1].ID())}
		}
	}

	ms := make([]Migration, len(migrations))
	copy(ms, migrations)
	return &Catalog{migrations: ms}, nil
}

// MustCatalog is like NewCatalog but panics on error. It is meant for
// package-level catalogs assembled at init time.
func MustCatalog(migrations ...Migration) *Catalog {
	c, err := NewCatalog(migrations...)
	if err != nil {
		panic(err)
	}
	return c
}

// WithModelSnapshot returns a copy of the catalog exposing model as the last
// known schema model.
func (c *Catalog) WithModelSnapshot(model *Snapshot) *Catalog {
	return &Catalog{migrations: c.migrations, model: model}
}

// ModelSnapshot returns the last known schema model: the explicit snapshot if
// one was attached, otherwise the target snapshot of the newest migration that
// carries one. Migrations without model information, such as SQL files, are skipped.
func (c *Catalog) ModelSnapshot() *Snapshot {
	if c.model != nil {
		return c.model
	}
	for _, m := range slices.Backward(c.migrations) {
		if s := m.TargetSnapshot(); s != nil {
			return s
		}
	}
	return nil
}

// Migrations returns the migrations in application order.
func (c *Catalog) Migrations() []Migration {
	ms := make([]Migration, len(c.migrations))
	copy(ms, c.migrations)
	return ms
}

// Len returns the number of migrations.
func (c *Catalog) Len() int {
	return len(c.migrations)
}

// First returns the oldest migration or nil.
func (c *Catalog) First() Migration {
	if len(c.migrations) == 0 {
		return nil
	}
	return c.migrations[0]
}

// Last returns the newest migration or nil.
func (c *Catalog) Last() Migration {
	if len(c.migrations) == 0 {
		return nil
	}
	return c.migrations[len(c.migrations)-1]
}

// Index returns the position of the migration with the exact ID
// (case-insensitive), or -1.
func (c *Catalog) Index(id string) int {
	for i, m := range c.migrations {
		if strings.EqualFold(m.ID(), id) {
			return i
		}
	}
	return -1
}

// Get returns the migration with the exact ID (case-insensitive).
func (c *Catalog) Get(id string) (Migration, bool) {
	i := c.Index(id)
	if i < 0 {
		return nil, false
	}
	return c.migrations[i], true
}

// Before returns the migration immediately preceding id in the catalog, or nil
// when id is the first migration or unknown.
func (c *Catalog) Before(id string) Migration {
	i := c.Index(id)
	if i <= 0 {
		return nil
	}
	return c.migrations[i-1]
}

// IsFirst reports whether m is the oldest migration in the catalog.
func (c *Catalog) IsFirst(m Migration) bool {
	first := c.First()
	return first != nil && strings.EqualFold(first.ID(), m.ID())
}

// Resolve turns a full ID, a migration name or an ID prefix into exactly one
// canonical migration ID. InitialDatabase resolves to itself.
//
// Matching is case-insensitive and tried in order: exact ID, name (the part
// after the first underscore), then ID prefix. The first step that finds any
// candidate decides the outcome.
func (c *Catalog) Resolve(nameOrID string) (string, error) {
	if nameOrID == InitialDatabase {
		return InitialDatabase, nil
	}

	if m, ok := c.Get(nameOrID); ok {
		return m.ID(), nil
	}

	matchers := []func(id string) bool{
		func(id string) bool { return strings.EqualFold(Name(id), nameOrID) },
		func(id string) bool {
			return nameOrID != "" && len(id) >= len(nameOrID) && strings.EqualFold(id[:len(nameOrID)], nameOrID)
		},
	}

	for _, match := range matchers {
		var candidates []string
		for _, m := range c.migrations {
			if match(m.ID()) {
				candidates = append(candidates, m.ID())
			}
		}

		switch len(candidates) {
		case 0:
			continue
		case 1:
			return candidates[0], nil
		default:
			return "", &ResolveError{Input: nameOrID, Candidates: candidates, err: ErrAmbiguousMigration}
		}
	}

	return "", &ResolveError{Input: nameOrID, err: ErrMigrationNotFound}
}

// CompareIDs orders migration IDs by case-insensitive ordinal comparison.
func CompareIDs(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}
