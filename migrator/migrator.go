// Package migrator moves a database between versions of a migration catalog,
// either by executing migrations against a live connection or by generating
// a script that does the same.
package migrator

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/platforma-dev/migrator/history"
	"github.com/platforma-dev/migrator/log"
	"github.com/platforma-dev/migrator/migration"
	"github.com/platforma-dev/migrator/render"
)

// Executor runs statement batches against the target database in one
// transaction, creating the database first when ensureDatabase is set.
type Executor interface {
	Execute(ctx context.Context, batches []render.Batch, ensureDatabase bool) error
}

// Migrator orchestrates a catalog against one database.
type Migrator struct {
	catalog  *migration.Catalog
	ledger   history.Ledger
	renderer render.Renderer
	executor Executor

	name           string
	productVersion string
	comparer       ModelComparer
	metrics        *Metrics
	events         *log.WideEventLogger
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithName names the database the migrator works on, for logs and metrics.
func WithName(name string) Option {
	return func(m *Migrator) {
		m.name = name
	}
}

// WithProductVersion sets the version recorded with every applied migration.
func WithProductVersion(version string) Option {
	return func(m *Migrator) {
		m.productVersion = version
	}
}

// WithModelComparer replaces the comparer used by HasPendingModelChanges.
func WithModelComparer(c ModelComparer) Option {
	return func(m *Migrator) {
		m.comparer = c
	}
}

// WithMetrics records migration outcomes in metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Migrator) {
		m.metrics = metrics
	}
}

// WithEventLogger writes one wide event per Apply run.
func WithEventLogger(l *log.WideEventLogger) Option {
	return func(m *Migrator) {
		m.events = l
	}
}

// New creates a Migrator.
func New(catalog *migration.Catalog, ledger history.Ledger, renderer render.Renderer, executor Executor, opts ...Option) *Migrator {
	m := &Migrator{
		catalog:        catalog,
		ledger:         ledger,
		renderer:       renderer,
		executor:       executor,
		name:           "default",
		productVersion: "dev",
		comparer:       FingerprintComparer{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Catalog returns the migration catalog.
func (m *Migrator) Catalog() *migration.Catalog {
	return m.catalog
}

// Name returns the database name given by WithName.
func (m *Migrator) Name() string {
	return m.name
}

// Plan is the work needed to move a database to Target. ToApply is in
// ascending and ToRevert in descending ID order.
type Plan struct {
	Target   string
	ToApply  []migration.Migration
	ToRevert []migration.Migration
}

// Empty reports whether the database is already at the target.
func (p *Plan) Empty() bool {
	return len(p.ToApply) == 0 && len(p.ToRevert) == 0
}

// AppliedMigrations returns the applied catalog migrations in catalog order.
func (m *Migrator) AppliedMigrations(ctx context.Context) ([]migration.Migration, error) {
	applied, _, err := m.partition(ctx)
	return applied, err
}

// UnappliedMigrations returns the catalog migrations the history does not
// record, in catalog order.
func (m *Migrator) UnappliedMigrations(ctx context.Context) ([]migration.Migration, error) {
	_, unapplied, err := m.partition(ctx)
	return unapplied, err
}

func (m *Migrator) partition(ctx context.Context) ([]migration.Migration, []migration.Migration, error) {
	rows, err := m.ledger.AppliedMigrations(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read migration history: %w", err)
	}

	recorded := make(map[string]bool, len(rows))
	var unknown []string
	for _, row := range rows {
		recorded[strings.ToLower(row.MigrationID)] = true
		if m.catalog.Index(row.MigrationID) < 0 {
			unknown = append(unknown, row.MigrationID)
		}
	}
	if len(unknown) > 0 {
		return nil, nil, &UnknownMigrationsError{IDs: unknown}
	}

	var applied, unapplied []migration.Migration
	for _, mig := range m.catalog.Migrations() {
		if recorded[strings.ToLower(mig.ID())] {
			applied = append(applied, mig)
		} else {
			unapplied = append(unapplied, mig)
		}
	}
	return applied, unapplied, nil
}

// Plan computes the migrations to apply and revert to reach target. An empty
// target means the latest migration and migration.InitialDatabase means the
// empty database. Other targets are resolved by ID, name or ID prefix.
func (m *Migrator) Plan(ctx context.Context, target string) (*Plan, error) {
	resolved, err := m.resolveTarget(target)
	if err != nil {
		return nil, err
	}

	applied, unapplied, err := m.partition(ctx)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Target: resolved}
	for _, mig := range unapplied {
		if migration.CompareIDs(mig.ID(), resolved) <= 0 {
			plan.ToApply = append(plan.ToApply, mig)
		}
	}
	for _, mig := range slices.Backward(applied) {
		if migration.CompareIDs(mig.ID(), resolved) > 0 {
			plan.ToRevert = append(plan.ToRevert, mig)
		}
	}

	return plan, nil
}

func (m *Migrator) resolveTarget(target string) (string, error) {
	if target == "" {
		return m.latest(), nil
	}
	resolved, err := m.catalog.Resolve(target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve target migration: %w", err)
	}
	return resolved, nil
}

func (m *Migrator) latest() string {
	if last := m.catalog.Last(); last != nil {
		return last.ID()
	}
	return migration.InitialDatabase
}

func (m *Migrator) renderForward(mig migration.Migration) ([]render.Batch, error) {
	ops := append(migration.UpOperations(mig), migration.SQL{
		Statement: m.ledger.InsertScript(history.Row{MigrationID: mig.ID(), ProductVersion: m.productVersion}),
	})

	batches, err := m.renderer.Render(ops, mig.TargetSnapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to render migration %s: %w", mig.ID(), err)
	}
	return batches, nil
}

func (m *Migrator) renderBackward(mig migration.Migration, target *migration.Snapshot) ([]render.Batch, error) {
	ops := append(migration.DownOperations(mig), migration.SQL{
		Statement: m.ledger.DeleteScript(mig.ID()),
	})

	batches, err := m.renderer.Render(ops, target)
	if err != nil {
		return nil, fmt.Errorf("failed to render revert of migration %s: %w", mig.ID(), err)
	}
	return batches, nil
}

// revertSnapshots returns, for every migration in reverts, the schema left
// once it is reverted: the snapshot of the next migration in reverts, and for
// the last one the snapshot of target (empty for the initial database).
func (m *Migrator) revertSnapshots(reverts []migration.Migration, target string) ([]*migration.Snapshot, error) {
	snapshots := make([]*migration.Snapshot, len(reverts))
	for i, mig := range reverts {
		if i+1 < len(reverts) {
			next := reverts[i+1]
			if migration.CompareIDs(next.ID(), mig.ID()) >= 0 {
				return nil, fmt.Errorf("%w: %s is followed by %s", ErrRevertOrder, mig.ID(), next.ID())
			}
			snapshots[i] = next.TargetSnapshot()
			continue
		}

		if migration.CompareIDs(target, mig.ID()) >= 0 {
			return nil, fmt.Errorf("%w: %s is not above target %s", ErrRevertOrder, mig.ID(), target)
		}
		if pred, ok := m.catalog.Get(target); ok {
			snapshots[i] = pred.TargetSnapshot()
		}
	}
	return snapshots, nil
}
