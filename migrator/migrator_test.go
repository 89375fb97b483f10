package migrator_test

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/platforma-dev/migrator/log"
	"github.com/platforma-dev/migrator/migration"
	"github.com/platforma-dev/migrator/migrator"
)

func ids(ms []migration.Migration) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID())
	}
	return out
}

func TestApply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("applies all pending migrations and bootstraps history", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		m := e.migrator(testCatalog(t, initMigration(), addXMigration()))

		res, err := m.Apply(ctx, "")
		if err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		if !slices.Equal(res.Applied, []string{initID, addXID}) {
			t.Errorf("expected both migrations applied, got %v", res.Applied)
		}
		if len(res.Reverted) != 0 {
			t.Errorf("expected nothing reverted, got %v", res.Reverted)
		}
		if res.Target != addXID {
			t.Errorf("expected target %s, got %s", addXID, res.Target)
		}

		if len(e.executor.calls) != 2 {
			t.Fatalf("expected one transaction per migration, got %d", len(e.executor.calls))
		}
		first := e.executor.calls[0][0].Statements[0]
		if !strings.HasPrefix(first, `CREATE TABLE "migrations_history"`) {
			t.Errorf("expected history bootstrap first, got %s", first)
		}
		for _, b := range e.executor.calls[1] {
			for _, stmt := range b.Statements {
				if strings.Contains(stmt, `CREATE TABLE "migrations_history"`) {
					t.Errorf("expected history created once, got %s", stmt)
				}
			}
		}

		if applied := e.appliedIDs(t); !slices.Equal(applied, []string{initID, addXID}) {
			t.Errorf("unexpected history %v", applied)
		}
		if cols := e.columns(t, "users"); !slices.Equal(cols, []string{"id", "email", "x"}) {
			t.Errorf("unexpected columns %v", cols)
		}

		unapplied, err := m.UnappliedMigrations(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		if len(unapplied) != 0 {
			t.Errorf("expected nothing unapplied, got %v", ids(unapplied))
		}
	})

	t.Run("reverts everything to the initial database", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		m := e.migrator(testCatalog(t, initMigration(), addXMigration()))

		if _, err := m.Apply(ctx, ""); err != nil {
			t.Fatalf("expected no error, got %s", err)
		}

		res, err := m.Apply(ctx, migration.InitialDatabase)
		if err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		if !slices.Equal(res.Reverted, []string{addXID, initID}) {
			t.Errorf("expected reverse order revert, got %v", res.Reverted)
		}
		if len(res.Applied) != 0 {
			t.Errorf("expected nothing applied, got %v", res.Applied)
		}
		if len(e.executor.calls) != 4 {
			t.Errorf("expected 4 transactions, got %d", len(e.executor.calls))
		}

		if applied := e.appliedIDs(t); len(applied) != 0 {
			t.Errorf("expected empty history, got %v", applied)
		}
		if cols := e.columns(t, "users"); len(cols) != 0 {
			t.Errorf("expected users dropped, got %v", cols)
		}
	})

	t.Run("reverts history recorded in another case", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		m := e.migrator(testCatalog(t))

		if _, err := m.Apply(ctx, ""); err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		if _, err := e.db.ExecContext(ctx, `UPDATE "migrations_history" SET "migration_id" = LOWER("migration_id")`); err != nil {
			t.Fatalf("failed to rewrite history: %s", err)
		}

		res, err := m.Apply(ctx, migration.InitialDatabase)
		if err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		if !slices.Equal(res.Reverted, []string{indexID, addXID, initID}) {
			t.Errorf("expected every migration reverted, got %v", res.Reverted)
		}

		if applied := e.appliedIDs(t); len(applied) != 0 {
			t.Errorf("expected empty history, got %v", applied)
		}
		unapplied, err := m.UnappliedMigrations(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		if len(unapplied) != 3 {
			t.Errorf("expected all 3 migrations unapplied, got %v", ids(unapplied))
		}
		if cols := e.columns(t, "users"); len(cols) != 0 {
			t.Errorf("expected users dropped, got %v", cols)
		}
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		m := e.migrator(testCatalog(t))

		if _, err := m.Apply(ctx, ""); err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		calls := len(e.executor.calls)

		res, err := m.Apply(ctx, "")
		if err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		if len(res.Applied) != 0 || len(res.Reverted) != 0 {
			t.Errorf("expected no changes, got applied=%v reverted=%v", res.Applied, res.Reverted)
		}
		if len(e.executor.calls) != calls {
			t.Errorf("expected no new transactions, got %d", len(e.executor.calls)-calls)
		}
	})

	t.Run("stops at the failing migration", func(t *testing.T) {
		t.Parallel()

		broken := &migration.Func{
			MigrationID: addXID,
			UpFunc:      func(b *migration.Builder) { b.SQL("not even SQL here") },
		}

		e := newEnv(t)
		m := e.migrator(testCatalog(t, initMigration(), broken, indexMigration()))

		res, err := m.Apply(ctx, "")
		var execErr *migrator.ExecutionError
		if !errors.As(err, &execErr) {
			t.Fatalf("expected ExecutionError, got %v", err)
		}
		if execErr.MigrationID != addXID || execErr.Direction != migrator.Up {
			t.Errorf("unexpected failure %s %s", execErr.MigrationID, execErr.Direction)
		}

		if !slices.Equal(res.Applied, []string{initID}) {
			t.Errorf("expected only init applied, got %v", res.Applied)
		}
		if len(e.executor.calls) != 2 {
			t.Errorf("expected later migrations never attempted, got %d transactions", len(e.executor.calls))
		}
		if applied := e.appliedIDs(t); !slices.Equal(applied, []string{initID}) {
			t.Errorf("unexpected history %v", applied)
		}
	})

	t.Run("resumes after a failure is fixed", func(t *testing.T) {
		t.Parallel()

		broken := &migration.Func{
			MigrationID: addXID,
			UpFunc:      func(b *migration.Builder) { b.SQL("not even SQL here") },
		}

		e := newEnv(t)
		if _, err := e.migrator(testCatalog(t, initMigration(), broken)).Apply(ctx, ""); err == nil {
			t.Fatal("expected the broken migration to fail")
		}

		res, err := e.migrator(testCatalog(t, initMigration(), addXMigration())).Apply(ctx, "")
		if err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		if !slices.Equal(res.Applied, []string{addXID}) {
			t.Errorf("expected only AddX applied, got %v", res.Applied)
		}
		if applied := e.appliedIDs(t); !slices.Equal(applied, []string{initID, addXID}) {
			t.Errorf("unexpected history %v", applied)
		}
	})

	t.Run("cancellation stops before the next migration", func(t *testing.T) {
		t.Parallel()

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		e := newEnv(t)
		e.executor.after = func(call int) {
			if call == 1 {
				cancel()
			}
		}
		m := e.migrator(testCatalog(t))

		res, err := m.Apply(runCtx, "")
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if !slices.Equal(res.Applied, []string{initID}) {
			t.Errorf("expected only init applied, got %v", res.Applied)
		}
		if len(e.executor.calls) != 1 {
			t.Errorf("expected 1 transaction, got %d", len(e.executor.calls))
		}
		if applied := e.appliedIDs(t); !slices.Equal(applied, []string{initID}) {
			t.Errorf("unexpected history %v", applied)
		}
	})

	t.Run("missing history table with applied migrations fails", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		if _, err := e.migrator(testCatalog(t, initMigration())).Apply(ctx, ""); err != nil {
			t.Fatalf("expected no error, got %s", err)
		}

		m := migrator.New(testCatalog(t), absentLedger{e.ledger}, e.renderer, e.executor)
		if _, err := m.Apply(ctx, ""); !errors.Is(err, migrator.ErrLedgerMissing) {
			t.Fatalf("expected ErrLedgerMissing, got %v", err)
		}
		if applied := e.appliedIDs(t); !slices.Equal(applied, []string{initID}) {
			t.Errorf("unexpected history %v", applied)
		}
	})

	t.Run("unknown target fails before any work", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		if _, err := e.migrator(testCatalog(t)).Apply(ctx, "Nope"); !errors.Is(err, migration.ErrMigrationNotFound) {
			t.Fatalf("expected ErrMigrationNotFound, got %v", err)
		}
		if len(e.executor.calls) != 0 {
			t.Errorf("expected no transactions, got %d", len(e.executor.calls))
		}
	})
}

func TestPlan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	e := newEnv(t)
	m := e.migrator(testCatalog(t))
	if _, err := m.Apply(ctx, initID); err != nil {
		t.Fatalf("expected no error, got %s", err)
	}

	testCases := []struct {
		target   string
		resolved string
		apply    []string
		revert   []string
	}{
		{target: "", resolved: indexID, apply: []string{addXID, indexID}},
		{target: "AddX", resolved: addXID, apply: []string{addXID}},
		{target: "20200102", resolved: addXID, apply: []string{addXID}},
		{target: "indexemail", resolved: indexID, apply: []string{addXID, indexID}},
		{target: initID, resolved: initID},
		{target: migration.InitialDatabase, resolved: migration.InitialDatabase, revert: []string{initID}},
	}

	for _, tc := range testCases {
		t.Run("target "+tc.target, func(t *testing.T) {
			t.Parallel()

			plan, err := m.Plan(ctx, tc.target)
			if err != nil {
				t.Fatalf("expected no error, got %s", err)
			}
			if plan.Target != tc.resolved {
				t.Errorf("expected target %s, got %s", tc.resolved, plan.Target)
			}
			if got := ids(plan.ToApply); !slices.Equal(got, tc.apply) {
				t.Errorf("expected to apply %v, got %v", tc.apply, got)
			}
			if got := ids(plan.ToRevert); !slices.Equal(got, tc.revert) {
				t.Errorf("expected to revert %v, got %v", tc.revert, got)
			}

			again, err := m.Plan(ctx, tc.target)
			if err != nil {
				t.Fatalf("expected no error, got %s", err)
			}
			if !reflect.DeepEqual(plan, again) {
				t.Errorf("expected planning twice to yield the same plan, got %+v and %+v", plan, again)
			}
		})
	}

	t.Run("ambiguous prefix", func(t *testing.T) {
		t.Parallel()

		if _, err := m.Plan(ctx, "202001"); !errors.Is(err, migration.ErrAmbiguousMigration) {
			t.Fatalf("expected ErrAmbiguousMigration, got %v", err)
		}
	})

	t.Run("history unknown to the catalog", func(t *testing.T) {
		t.Parallel()

		other := e.migrator(testCatalog(t, addXMigration()))
		_, err := other.Plan(ctx, "")
		if !errors.Is(err, migrator.ErrUnknownAppliedMigration) {
			t.Fatalf("expected ErrUnknownAppliedMigration, got %v", err)
		}

		var unknownErr *migrator.UnknownMigrationsError
		if !errors.As(err, &unknownErr) {
			t.Fatalf("expected UnknownMigrationsError, got %T", err)
		}
		if !slices.Equal(unknownErr.IDs, []string{initID}) {
			t.Errorf("unexpected unknown ids %v", unknownErr.IDs)
		}
	})
}

func TestConvergence(t *testing.T) {
	t.Parallel()

	targets := []string{migration.InitialDatabase, initID, addXID, indexID}
	want := map[string][]string{
		migration.InitialDatabase: {},
		initID:                    {initID},
		addXID:                    {initID, addXID},
		indexID:                   {initID, addXID, indexID},
	}

	for _, start := range targets {
		for _, end := range targets {
			t.Run(start+" to "+end, func(t *testing.T) {
				t.Parallel()

				ctx := context.Background()
				e := newEnv(t)
				m := e.migrator(testCatalog(t))

				if _, err := m.Apply(ctx, start); err != nil {
					t.Fatalf("failed to reach %s: %s", start, err)
				}
				if _, err := m.Apply(ctx, end); err != nil {
					t.Fatalf("failed to reach %s: %s", end, err)
				}

				if applied := e.appliedIDs(t); !slices.Equal(applied, want[end]) {
					t.Errorf("expected history %v, got %v", want[end], applied)
				}
			})
		}
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	m := e.migrator(testCatalog(t))

	if _, err := m.Apply(ctx, initID); err != nil {
		t.Fatalf("expected no error, got %s", err)
	}
	before := e.columns(t, "users")

	if _, err := m.Apply(ctx, addXID); err != nil {
		t.Fatalf("expected no error, got %s", err)
	}
	if cols := e.columns(t, "users"); !slices.Equal(cols, []string{"id", "email", "x"}) {
		t.Errorf("unexpected columns %v", cols)
	}

	res, err := m.Apply(ctx, initID)
	if err != nil {
		t.Fatalf("expected no error, got %s", err)
	}
	if !slices.Equal(res.Reverted, []string{addXID}) {
		t.Errorf("expected AddX reverted, got %v", res.Reverted)
	}
	if cols := e.columns(t, "users"); !slices.Equal(cols, before) {
		t.Errorf("expected columns %v restored, got %v", before, cols)
	}
	if applied := e.appliedIDs(t); !slices.Equal(applied, []string{initID}) {
		t.Errorf("unexpected history %v", applied)
	}
}

func TestRevertSnapshots(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("to a migration", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		m := e.migrator(testCatalog(t))
		if _, err := m.Apply(ctx, ""); err != nil {
			t.Fatalf("expected no error, got %s", err)
		}

		e.renderer.targets = nil
		if _, err := m.Apply(ctx, initID); err != nil {
			t.Fatalf("expected no error, got %s", err)
		}

		// index reverts to AddX's schema, AddX to the target Init's schema
		if len(e.renderer.targets) != 2 {
			t.Fatalf("expected 2 renders, got %d", len(e.renderer.targets))
		}
		if e.renderer.targets[0] != usersV2 || e.renderer.targets[1] != usersV1 {
			t.Errorf("unexpected revert snapshots %v", e.renderer.targets)
		}
	})

	t.Run("to the initial database", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		m := e.migrator(testCatalog(t, initMigration(), addXMigration()))
		if _, err := m.Apply(ctx, ""); err != nil {
			t.Fatalf("expected no error, got %s", err)
		}

		e.renderer.targets = nil
		if _, err := m.Apply(ctx, migration.InitialDatabase); err != nil {
			t.Fatalf("expected no error, got %s", err)
		}

		if len(e.renderer.targets) != 2 {
			t.Fatalf("expected 2 renders, got %d", len(e.renderer.targets))
		}
		if e.renderer.targets[0] != usersV1 {
			t.Errorf("expected AddX reverted to Init's schema, got %v", e.renderer.targets[0])
		}
		if e.renderer.targets[1] != nil {
			t.Errorf("expected Init reverted to no schema, got %v", e.renderer.targets[1])
		}
	})
}

func TestHasPendingModelChanges(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	m := e.migrator(testCatalog(t))

	if m.HasPendingModelChanges(usersV2) {
		t.Error("expected the latest snapshot to match")
	}
	if !m.HasPendingModelChanges(usersV1) {
		t.Error("expected an older model to differ")
	}
	if !m.HasPendingModelChanges(nil) {
		t.Error("expected a missing model to differ")
	}

	never := migrator.ModelComparerFunc(func(_, _ *migration.Snapshot) bool { return false })
	if e.migrator(testCatalog(t), migrator.WithModelComparer(never)).HasPendingModelChanges(usersV1) {
		t.Error("expected the custom comparer to be used")
	}

	explicit := testCatalog(t).WithModelSnapshot(usersV1)
	if e.migrator(explicit).HasPendingModelChanges(usersV1) {
		t.Error("expected the explicit model snapshot to be used")
	}
}

func TestMetricsAndEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	reg := prometheus.NewRegistry()
	metrics := migrator.NewMetrics(reg)

	var buf bytes.Buffer
	events := log.NewWideEventLogger(&buf, nil, "json", nil)

	broken := &migration.Func{
		MigrationID: addXID,
		UpFunc:      func(b *migration.Builder) { b.SQL("broken") },
	}

	e := newEnv(t)
	m := e.migrator(testCatalog(t, initMigration(), broken),
		migrator.WithName("main"), migrator.WithMetrics(metrics), migrator.WithEventLogger(events))

	if _, err := m.Apply(ctx, ""); err == nil {
		t.Fatal("expected the broken migration to fail")
	}

	if got := testutil.ToFloat64(metrics.Migrations.WithLabelValues("main", "up", "success")); got != 1 {
		t.Errorf("expected 1 successful migration, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Migrations.WithLabelValues("main", "up", "failure")); got != 1 {
		t.Errorf("expected 1 failed migration, got %v", got)
	}

	metrics.SetPending("main", 1)
	if got := testutil.ToFloat64(metrics.Pending.WithLabelValues("main")); got != 1 {
		t.Errorf("expected 1 pending, got %v", got)
	}

	out := buf.String()
	for _, want := range []string{`"name":"migration.run"`, `"database":"main"`, initID, `"status":"failed"`, `"applied":1`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in event, got %s", want, out)
		}
	}
	if n := strings.Count(out, "\n"); n != 1 {
		t.Errorf("expected one wide event per run, got %d", n)
	}

	var nilMetrics *migrator.Metrics
	nilMetrics.SetPending("main", 3)
}

func TestExecutionErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := &migrator.ExecutionError{MigrationID: addXID, Direction: migrator.Down, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to unwrap")
	}
	if err.Error() != "failed to revert migration 20200102_AddX: boom" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
