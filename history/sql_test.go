package history_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/platforma-dev/migrator/database"
	"github.com/platforma-dev/migrator/history"
	"github.com/platforma-dev/migrator/render"
)

func newSQLite(t *testing.T, dsn string) *database.Database {
	t.Helper()

	db, err := database.New("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %s", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func execute(t *testing.T, db *database.Database, stmts ...string) {
	t.Helper()

	if err := db.Execute(context.Background(), []render.Batch{{Statements: stmts}}, false); err != nil {
		t.Fatalf("failed to execute %q: %s", stmts, err)
	}
}

func appliedIDs(t *testing.T, l *history.SQLLedger) []string {
	t.Helper()

	rows, err := l.AppliedMigrations(context.Background())
	if err != nil {
		t.Fatalf("failed to read history: %s", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.MigrationID)
	}
	return ids
}

func TestSQLLedgerSQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("no table means no history", func(t *testing.T) {
		t.Parallel()

		l := history.NewSQLLedger(newSQLite(t, ":memory:"), render.SQLite)

		exists, err := l.Exists(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		if exists {
			t.Fatal("expected no history table")
		}

		rows, err := l.AppliedMigrations(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		if len(rows) != 0 {
			t.Fatalf("expected no rows, got %v", rows)
		}
	})

	t.Run("missing database file means no history", func(t *testing.T) {
		t.Parallel()

		dsn := filepath.Join(t.TempDir(), "absent.db")
		l := history.NewSQLLedger(newSQLite(t, dsn), render.SQLite)

		exists, err := l.Exists(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		if exists {
			t.Fatal("expected no history table")
		}
		if _, err := os.Stat(dsn); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected the check not to create %s, got %v", dsn, err)
		}
	})

	t.Run("records and removes rows", func(t *testing.T) {
		t.Parallel()

		db := newSQLite(t, ":memory:")
		l := history.NewSQLLedger(db, render.SQLite, history.WithTable("schema_history"))
		if l.Table() != "schema_history" {
			t.Fatalf("expected configured table, got %s", l.Table())
		}

		execute(t, db,
			l.CreateScript(),
			l.CreateIfNotExistsScript(),
			l.InsertScript(history.Row{MigrationID: "20200102_AddX", ProductVersion: "1.0.0"}),
			l.InsertScript(history.Row{MigrationID: "20200101_Init", ProductVersion: "0.9.0"}),
			l.InsertScript(history.Row{MigrationID: "20200103_It's", ProductVersion: "1.0.0"}),
		)

		exists, err := l.Exists(ctx)
		if err != nil || !exists {
			t.Fatalf("expected history table, got exists=%v err=%v", exists, err)
		}

		rows, err := l.AppliedMigrations(ctx)
		if err != nil {
			t.Fatalf("failed to read history: %s", err)
		}
		expected := []history.Row{
			{MigrationID: "20200101_Init", ProductVersion: "0.9.0"},
			{MigrationID: "20200102_AddX", ProductVersion: "1.0.0"},
			{MigrationID: "20200103_It's", ProductVersion: "1.0.0"},
		}
		if !slices.Equal(rows, expected) {
			t.Fatalf("expected rows %v, got %v", expected, rows)
		}

		execute(t, db, l.DeleteScript("20200102_AddX"))

		if ids := appliedIDs(t, l); !slices.Equal(ids, []string{"20200101_Init", "20200103_It's"}) {
			t.Fatalf("expected AddX removed, got %v", ids)
		}
	})

	t.Run("delete matches ids regardless of case", func(t *testing.T) {
		t.Parallel()

		db := newSQLite(t, ":memory:")
		l := history.NewSQLLedger(db, render.SQLite)

		execute(t, db,
			l.CreateScript(),
			l.InsertScript(history.Row{MigrationID: "20200101_init", ProductVersion: "1.0.0"}),
			l.InsertScript(history.Row{MigrationID: "20200102_ADDX", ProductVersion: "1.0.0"}),
		)

		execute(t, db, l.DeleteScript("20200101_Init"), l.DeleteScript("20200102_AddX"))

		if ids := appliedIDs(t, l); len(ids) != 0 {
			t.Fatalf("expected rows recorded in another case to be deleted, got %v", ids)
		}
	})

	t.Run("guards are unsupported", func(t *testing.T) {
		t.Parallel()

		l := history.NewSQLLedger(nil, render.SQLite)

		if _, err := l.BeginIfNotExistsScript("1_A"); !errors.Is(err, history.ErrIdempotentUnsupported) {
			t.Fatalf("expected ErrIdempotentUnsupported, got %v", err)
		}
		if _, err := l.BeginIfExistsScript("1_A"); !errors.Is(err, history.ErrIdempotentUnsupported) {
			t.Fatalf("expected ErrIdempotentUnsupported, got %v", err)
		}
		if _, err := l.EndIfScript(); !errors.Is(err, history.ErrIdempotentUnsupported) {
			t.Fatalf("expected ErrIdempotentUnsupported, got %v", err)
		}
	})
}

func TestSQLLedgerPostgresScripts(t *testing.T) {
	t.Parallel()

	l := history.NewSQLLedger(nil, render.Postgres)

	expectedCreate := "CREATE TABLE \"migrations_history\" (\n" +
		"    \"migration_id\" VARCHAR(150) NOT NULL,\n" +
		"    \"product_version\" VARCHAR(32) NOT NULL,\n" +
		"    \"applied_at\" TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,\n" +
		"    CONSTRAINT \"pk_migrations_history\" PRIMARY KEY (\"migration_id\")\n" +
		")"
	if got := l.CreateScript(); got != expectedCreate {
		t.Errorf("unexpected create script:\n%s", got)
	}
	if got := l.CreateIfNotExistsScript(); !strings.Contains(got, `CREATE TABLE IF NOT EXISTS "migrations_history" (`) {
		t.Errorf("unexpected create-if-not-exists script:\n%s", got)
	}

	insert := l.InsertScript(history.Row{MigrationID: "1_O'Brien", ProductVersion: "2.0"})
	if insert != `INSERT INTO "migrations_history" ("migration_id", "product_version") VALUES ('1_O''Brien', '2.0')` {
		t.Errorf("unexpected insert script: %s", insert)
	}

	del := l.DeleteScript("1_A")
	if del != `DELETE FROM "migrations_history" WHERE LOWER("migration_id") = LOWER('1_A')` {
		t.Errorf("unexpected delete script: %s", del)
	}

	begin, err := l.BeginIfNotExistsScript("1_A")
	if err != nil {
		t.Fatalf("expected guard, got %s", err)
	}
	expectedBegin := "DO $migrator$\nBEGIN\n" +
		`    IF NOT EXISTS(SELECT 1 FROM "migrations_history" WHERE LOWER("migration_id") = LOWER('1_A')) THEN`
	if begin != expectedBegin {
		t.Errorf("unexpected begin script:\n%s", begin)
	}

	begin, err = l.BeginIfExistsScript("1_A")
	if err != nil {
		t.Fatalf("expected guard, got %s", err)
	}
	if !strings.Contains(begin, `    IF EXISTS(SELECT 1`) {
		t.Errorf("unexpected begin script:\n%s", begin)
	}

	end, err := l.EndIfScript()
	if err != nil {
		t.Fatalf("expected guard end, got %s", err)
	}
	if end != "    END IF;\nEND $migrator$;" {
		t.Errorf("unexpected end script:\n%s", end)
	}
}
