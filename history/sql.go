package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/platforma-dev/migrator/render"
)

type db interface {
	Exists(ctx context.Context) (bool, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// SQLLedger is a Ledger stored in a table of the target database.
type SQLLedger struct {
	db      db
	dialect render.Dialect
	table   string
}

var _ Ledger = (*SQLLedger)(nil)

// Option configures an SQLLedger.
type Option func(*SQLLedger)

// WithTable overrides the history table name.
func WithTable(table string) Option {
	return func(l *SQLLedger) {
		if table != "" {
			l.table = table
		}
	}
}

// NewSQLLedger creates a ledger over db for the given dialect.
func NewSQLLedger(db db, dialect render.Dialect, opts ...Option) *SQLLedger {
	l := &SQLLedger{db: db, dialect: dialect, table: DefaultTable}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Table returns the history table name.
func (l *SQLLedger) Table() string {
	return l.table
}

// Exists implements Ledger. A missing database has no history table.
func (l *SQLLedger) Exists(ctx context.Context) (bool, error) {
	dbExists, err := l.db.Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check database existence: %w", err)
	}
	if !dbExists {
		return false, nil
	}

	var count int
	switch l.dialect.Name() {
	case render.Postgres.Name():
		err = l.db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM pg_catalog.pg_tables WHERE schemaname = current_schema() AND tablename = $1`, l.table)
	default:
		err = l.db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, l.table)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check history table existence: %w", err)
	}

	return count > 0, nil
}

// AppliedMigrations implements Ledger.
func (l *SQLLedger) AppliedMigrations(ctx context.Context) ([]Row, error) {
	exists, err := l.Exists(ctx)
	if err != nil || !exists {
		return nil, err
	}

	q := l.dialect.QuoteIdentifier
	query := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s",
		q("migration_id"), q("product_version"), q(l.table), q("migration_id"))

	var rows []Row
	if err := l.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to select applied migrations: %w", err)
	}

	return rows, nil
}

// CreateScript implements Ledger.
func (l *SQLLedger) CreateScript() string {
	return l.create(false)
}

// CreateIfNotExistsScript implements Ledger.
func (l *SQLLedger) CreateIfNotExistsScript() string {
	return l.create(true)
}

func (l *SQLLedger) create(ifNotExists bool) string {
	q := l.dialect.QuoteIdentifier

	idType, versionType, timeType := "VARCHAR(150)", "VARCHAR(32)", "TIMESTAMP"
	if l.dialect.Name() == render.SQLite.Name() {
		idType, versionType, timeType = "TEXT", "TEXT", "TEXT"
	}

	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if ifNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(q(l.table))
	sb.WriteString(" (\n")
	fmt.Fprintf(&sb, "    %s %s NOT NULL,\n", q("migration_id"), idType)
	fmt.Fprintf(&sb, "    %s %s NOT NULL,\n", q("product_version"), versionType)
	fmt.Fprintf(&sb, "    %s %s NOT NULL DEFAULT CURRENT_TIMESTAMP,\n", q("applied_at"), timeType)
	fmt.Fprintf(&sb, "    CONSTRAINT %s PRIMARY KEY (%s)\n", q("pk_"+l.table), q("migration_id"))
	sb.WriteString(")")
	return sb.String()
}

// InsertScript implements Ledger.
func (l *SQLLedger) InsertScript(row Row) string {
	q, lit := l.dialect.QuoteIdentifier, l.dialect.QuoteLiteral
	return fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
		q(l.table), q("migration_id"), q("product_version"), lit(row.MigrationID), lit(row.ProductVersion))
}

// DeleteScript implements Ledger. The row is matched case-insensitively, like
// the applied history is matched against the catalog.
func (l *SQLLedger) DeleteScript(migrationID string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", l.dialect.QuoteIdentifier(l.table), l.matchID(migrationID))
}

func (l *SQLLedger) matchID(migrationID string) string {
	return fmt.Sprintf("LOWER(%s) = LOWER(%s)", l.dialect.QuoteIdentifier("migration_id"), l.dialect.QuoteLiteral(migrationID))
}

// BeginIfNotExistsScript implements Ledger.
func (l *SQLLedger) BeginIfNotExistsScript(migrationID string) (string, error) {
	return l.beginIf("NOT EXISTS", migrationID)
}

// BeginIfExistsScript implements Ledger.
func (l *SQLLedger) BeginIfExistsScript(migrationID string) (string, error) {
	return l.beginIf("EXISTS", migrationID)
}

// EndIfScript implements Ledger.
func (l *SQLLedger) EndIfScript() (string, error) {
	if l.dialect.Name() != render.Postgres.Name() {
		return "", ErrIdempotentUnsupported
	}
	return "    END IF;\nEND $migrator$;", nil
}

func (l *SQLLedger) beginIf(condition, migrationID string) (string, error) {
	if l.dialect.Name() != render.Postgres.Name() {
		return "", ErrIdempotentUnsupported
	}

	return fmt.Sprintf("DO $migrator$\nBEGIN\n    IF %s(SELECT 1 FROM %s WHERE %s) THEN",
		condition, l.dialect.QuoteIdentifier(l.table), l.matchID(migrationID)), nil
}
