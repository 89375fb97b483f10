package migrator

import (
	"context"
	"fmt"
	"time"

	"github.com/platforma-dev/migrator/log"
	"github.com/platforma-dev/migrator/render"
)

// Result lists what an Apply run changed, in execution order.
type Result struct {
	Target   string
	Applied  []string
	Reverted []string
}

// Apply moves the database to target, executing each migration in its own
// transaction: pending migrations ascending, then reverted ones descending.
// A migration's schema change and its history row commit together.
//
// When a migration fails, migrations committed before it stay committed and
// the returned Result lists them alongside an *ExecutionError. Cancelling ctx
// stops the run before the next migration starts.
func (m *Migrator) Apply(ctx context.Context, target string) (*Result, error) {
	ctx, runID := log.WithRunID(ctx)
	ctx = context.WithValue(ctx, log.DatabaseKey, m.name)

	event := log.NewEvent("migration.run")
	event.AddAttrs(map[string]any{"run.id": runID, "run.database": m.name, "run.requestedTarget": target})
	ctx = log.ContextWithEvent(ctx, event)

	result := &Result{}
	err := m.apply(ctx, target, result)

	event.AddAttrs(map[string]any{
		"run.target":         result.Target,
		"run.productVersion": m.productVersion,
	})
	event.AddError(err)
	if m.events != nil {
		m.events.WriteEvent(ctx, event)
	}

	return result, err
}

func (m *Migrator) apply(ctx context.Context, target string, result *Result) error {
	plan, err := m.Plan(ctx, target)
	if err != nil {
		return err
	}
	result.Target = plan.Target

	if plan.Empty() {
		log.InfoContext(ctx, "database is up to date", "target", plan.Target)
		return nil
	}

	log.InfoContext(ctx, "migration plan computed",
		"target", plan.Target, "toApply", len(plan.ToApply), "toRevert", len(plan.ToRevert))

	snapshots, err := m.revertSnapshots(plan.ToRevert, plan.Target)
	if err != nil {
		return err
	}

	bootstrap := false
	if len(plan.ToApply) > 0 {
		exists, err := m.ledger.Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check history table: %w", err)
		}
		if !exists {
			if !m.catalog.IsFirst(plan.ToApply[0]) {
				return fmt.Errorf("%w: cannot apply %s before the first migration", ErrLedgerMissing, plan.ToApply[0].ID())
			}
			bootstrap = true
		}
	}

	for _, mig := range plan.ToApply {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("migration run stopped before %s: %w", mig.ID(), err)
		}

		batches, err := m.renderForward(mig)
		if err != nil {
			return err
		}
		if bootstrap {
			batches = prependStatement(batches, m.ledger.CreateScript())
			bootstrap = false
		}

		if err := m.execute(ctx, mig.ID(), Up, batches); err != nil {
			return err
		}
		result.Applied = append(result.Applied, mig.ID())
	}

	for i, mig := range plan.ToRevert {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("migration run stopped before reverting %s: %w", mig.ID(), err)
		}

		batches, err := m.renderBackward(mig, snapshots[i])
		if err != nil {
			return err
		}

		if err := m.execute(ctx, mig.ID(), Down, batches); err != nil {
			return err
		}
		result.Reverted = append(result.Reverted, mig.ID())
	}

	return nil
}

func (m *Migrator) execute(ctx context.Context, id string, dir Direction, batches []render.Batch) error {
	ctx = context.WithValue(ctx, log.MigrationIDKey, id)
	ctx = context.WithValue(ctx, log.DirectionKey, string(dir))

	started := time.Now()
	err := m.executor.Execute(ctx, batches, dir == Up)
	elapsed := time.Since(started)

	m.metrics.observe(m.name, dir, err, elapsed)

	if event := log.EventFromContext(ctx); event != nil {
		event.AddStep(log.Step{MigrationID: id, Direction: string(dir), Batches: len(batches), Duration: elapsed, Err: err})
	}

	if err != nil {
		log.ErrorContext(ctx, "migration failed", "error", err)
		return &ExecutionError{MigrationID: id, Direction: dir, Err: err}
	}

	log.InfoContext(ctx, "migration "+verb(dir), "duration", elapsed)
	return nil
}

func verb(dir Direction) string {
	if dir == Down {
		return "reverted"
	}
	return "applied"
}

// prependStatement places stmt before every other statement of batches.
func prependStatement(batches []render.Batch, stmt string) []render.Batch {
	if len(batches) == 0 {
		return []render.Batch{{Statements: []string{stmt}}}
	}
	out := make([]render.Batch, len(batches))
	copy(out, batches)
	out[0] = render.Batch{Statements: append([]string{stmt}, batches[0].Statements...)}
	return out
}
