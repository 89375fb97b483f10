// Package render turns abstract migration operations into dialect-specific
// statement batches.
package render

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownDialect is returned by DialectFor for unsupported names.
var ErrUnknownDialect = errors.New("unknown dialect")

// Dialect captures the SQL flavour differences the generator cares about.
type Dialect interface {
	// Name is the configuration name of the dialect, also used as the
	// database/sql driver name.
	Name() string
	QuoteIdentifier(name string) string
	QuoteLiteral(value string) string
	// Terminator ends every statement in a script.
	Terminator() string
	// BatchSeparator is written on its own line after every batch in a
	// script. Empty when the dialect has none.
	BatchSeparator() string
	// SupportsAlterColumn reports whether columns can be altered in place.
	SupportsAlterColumn() bool
}

type postgres struct{}

func (postgres) Name() string                      { return "postgres" }
func (postgres) QuoteIdentifier(name string) string { return quote(name, `"`) }
func (postgres) QuoteLiteral(value string) string  { return quote(value, `'`) }
func (postgres) Terminator() string                { return ";" }
func (postgres) BatchSeparator() string            { return "" }
func (postgres) SupportsAlterColumn() bool         { return true }

type sqlite struct{}

func (sqlite) Name() string                      { return "sqlite" }
func (sqlite) QuoteIdentifier(name string) string { return quote(name, `"`) }
func (sqlite) QuoteLiteral(value string) string  { return quote(value, `'`) }
func (sqlite) Terminator() string                { return ";" }
func (sqlite) BatchSeparator() string            { return "" }
func (sqlite) SupportsAlterColumn() bool         { return false }

var (
	// Postgres is the PostgreSQL dialect.
	Postgres Dialect = postgres{} //nolint:gochecknoglobals
	// SQLite is the SQLite dialect.
	SQLite Dialect = sqlite{} //nolint:gochecknoglobals
)

// DialectFor selects a dialect by its configuration name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgsql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
}

func quote(s, q string) string {
	return q + strings.ReplaceAll(s, q, q+q) + q
}
