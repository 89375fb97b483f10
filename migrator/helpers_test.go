package migrator_test

import (
	"context"
	"sync"
	"testing"

	"github.com/platforma-dev/migrator/database"
	"github.com/platforma-dev/migrator/history"
	"github.com/platforma-dev/migrator/migration"
	"github.com/platforma-dev/migrator/migrator"
	"github.com/platforma-dev/migrator/render"
)

const (
	initID  = "20200101_Init"
	addXID  = "20200102_AddX"
	indexID = "20200103_IndexEmail"
)

var (
	usersV1 = migration.NewSnapshot(migration.Table{
		Name: "users",
		Columns: []migration.Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "email", Type: "TEXT", Nullable: true},
		},
		PrimaryKey: []string{"id"},
	})
	usersV2 = migration.NewSnapshot(migration.Table{
		Name: "users",
		Columns: []migration.Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "email", Type: "TEXT", Nullable: true},
			{Name: "x", Type: "TEXT", Nullable: true},
		},
		PrimaryKey: []string{"id"},
	})
)

func initMigration() migration.Migration {
	return &migration.Func{
		MigrationID: initID,
		UpFunc: func(b *migration.Builder) {
			b.CreateTable("users", usersV1.Tables()[0].Columns, "id")
		},
		DownFunc: func(b *migration.Builder) { b.DropTable("users") },
		Snapshot: usersV1,
	}
}

func addXMigration() migration.Migration {
	return &migration.Func{
		MigrationID: addXID,
		UpFunc: func(b *migration.Builder) {
			b.AddColumn("users", migration.Column{Name: "x", Type: "TEXT", Nullable: true})
		},
		DownFunc: func(b *migration.Builder) { b.DropColumn("users", "x") },
		Snapshot: usersV2,
	}
}

func indexMigration() migration.Migration {
	return &migration.Func{
		MigrationID: indexID,
		UpFunc:      func(b *migration.Builder) { b.CreateIndex("ix_users_email", "users", false, "email") },
		DownFunc:    func(b *migration.Builder) { b.DropIndex("ix_users_email", "users") },
		Snapshot:    usersV2,
	}
}

func testCatalog(t *testing.T, migrations ...migration.Migration) *migration.Catalog {
	t.Helper()

	if len(migrations) == 0 {
		migrations = []migration.Migration{initMigration(), addXMigration(), indexMigration()}
	}
	c, err := migration.NewCatalog(migrations...)
	if err != nil {
		t.Fatalf("failed to build catalog: %s", err)
	}
	return c
}

type env struct {
	db       *database.Database
	ledger   *history.SQLLedger
	executor *recordingExecutor
	renderer *capturingRenderer
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := database.New("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %s", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return &env{
		db:       db,
		ledger:   history.NewSQLLedger(db, render.SQLite),
		executor: &recordingExecutor{next: db},
		renderer: &capturingRenderer{Renderer: render.NewGenerator(render.SQLite)},
	}
}

func (e *env) migrator(catalog *migration.Catalog, opts ...migrator.Option) *migrator.Migrator {
	opts = append([]migrator.Option{migrator.WithProductVersion("1.0.0")}, opts...)
	return migrator.New(catalog, e.ledger, e.renderer, e.executor, opts...)
}

func (e *env) appliedIDs(t *testing.T) []string {
	t.Helper()

	rows, err := e.ledger.AppliedMigrations(context.Background())
	if err != nil {
		t.Fatalf("failed to read history: %s", err)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.MigrationID)
	}
	return ids
}

func (e *env) columns(t *testing.T, table string) []string {
	t.Helper()

	var cols []string
	err := e.db.SelectContext(context.Background(), &cols,
		"SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		t.Fatalf("failed to read columns of %s: %s", table, err)
	}
	return cols
}

// recordingExecutor records every executed batch list before delegating.
type recordingExecutor struct {
	mu    sync.Mutex
	next  migrator.Executor
	calls [][]render.Batch
	after func(call int)
}

func (r *recordingExecutor) Execute(ctx context.Context, batches []render.Batch, ensureDatabase bool) error {
	r.mu.Lock()
	r.calls = append(r.calls, batches)
	call := len(r.calls)
	r.mu.Unlock()

	err := r.next.Execute(ctx, batches, ensureDatabase)
	if r.after != nil {
		r.after(call)
	}
	return err
}

// capturingRenderer records the target snapshot of every Render call.
type capturingRenderer struct {
	render.Renderer
	mu      sync.Mutex
	targets []*migration.Snapshot
}

func (c *capturingRenderer) Render(ops []migration.Operation, target *migration.Snapshot) ([]render.Batch, error) {
	c.mu.Lock()
	c.targets = append(c.targets, target)
	c.mu.Unlock()

	return c.Renderer.Render(ops, target)
}

// absentLedger reports a missing history table while still serving rows.
type absentLedger struct {
	history.Ledger
}

func (absentLedger) Exists(context.Context) (bool, error) {
	return false, nil
}
