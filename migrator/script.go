package migrator

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/platforma-dev/migrator/log"
	"github.com/platforma-dev/migrator/migration"
	"github.com/platforma-dev/migrator/render"
)

const indent = "    "

// Script generates a script that moves a database from one migration to
// another without touching it. An empty from means the initial database and
// an empty to means the latest migration. When from is newer than to the
// script reverts migrations.
//
// Idempotent scripts guard every batch with a check of the history table so
// they can be run any number of times.
func (m *Migrator) Script(ctx context.Context, from, to string, idempotent bool) (string, error) {
	if from == "" {
		from = migration.InitialDatabase
	}
	fromID, err := m.catalog.Resolve(from)
	if err != nil {
		return "", fmt.Errorf("failed to resolve source migration: %w", err)
	}
	toID, err := m.resolveTarget(to)
	if err != nil {
		return "", err
	}

	if idempotent {
		if _, err := m.ledger.EndIfScript(); err != nil {
			return "", err
		}
	}

	w := &scriptWriter{
		terminator: m.renderer.Terminator(),
		separator:  m.renderer.BatchSeparator(),
	}

	if migration.CompareIDs(fromID, toID) <= 0 {
		err = m.scriptForward(w, fromID, toID, idempotent)
	} else {
		err = m.scriptBackward(w, fromID, toID, idempotent)
	}
	if err != nil {
		return "", err
	}

	log.DebugContext(ctx, "migration script generated", "from", fromID, "to", toID, "idempotent", idempotent)
	return w.String(), nil
}

func (m *Migrator) scriptForward(w *scriptWriter, from, to string, idempotent bool) error {
	var selected []migration.Migration
	for _, mig := range m.catalog.Migrations() {
		if migration.CompareIDs(mig.ID(), from) > 0 && migration.CompareIDs(mig.ID(), to) <= 0 {
			selected = append(selected, mig)
		}
	}

	if len(selected) > 0 && m.catalog.IsFirst(selected[0]) {
		w.batch(render.Batch{Statements: []string{m.ledger.CreateIfNotExistsScript()}}.Text(w.terminator))
	}

	for _, mig := range selected {
		batches, err := m.renderForward(mig)
		if err != nil {
			return err
		}
		if err := m.writeBatches(w, batches, idempotent, func() (string, error) {
			return m.ledger.BeginIfNotExistsScript(mig.ID())
		}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) scriptBackward(w *scriptWriter, from, to string, idempotent bool) error {
	var selected []migration.Migration
	for _, mig := range slices.Backward(m.catalog.Migrations()) {
		if migration.CompareIDs(mig.ID(), to) > 0 && migration.CompareIDs(mig.ID(), from) <= 0 {
			selected = append(selected, mig)
		}
	}

	snapshots, err := m.revertSnapshots(selected, to)
	if err != nil {
		return err
	}

	for i, mig := range selected {
		batches, err := m.renderBackward(mig, snapshots[i])
		if err != nil {
			return err
		}
		if err := m.writeBatches(w, batches, idempotent, func() (string, error) {
			return m.ledger.BeginIfExistsScript(mig.ID())
		}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) writeBatches(w *scriptWriter, batches []render.Batch, idempotent bool, begin func() (string, error)) error {
	for _, b := range batches {
		text := b.Text(w.terminator)
		if !idempotent {
			w.batch(text)
			continue
		}

		open, err := begin()
		if err != nil {
			return err
		}
		end, err := m.ledger.EndIfScript()
		if err != nil {
			return err
		}
		w.batch(open + "\n" + indentLines(text) + "\n" + end)
	}
	return nil
}

type scriptWriter struct {
	strings.Builder
	terminator string
	separator  string
}

// batch writes one batch followed by the separator line, if any, and a blank line.
func (w *scriptWriter) batch(text string) {
	w.WriteString(text)
	w.WriteString("\n")
	if w.separator != "" {
		w.WriteString(w.separator)
		w.WriteString("\n")
	}
	w.WriteString("\n")
}

func indentLines(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}
