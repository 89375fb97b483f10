package migrator

import "github.com/platforma-dev/migrator/migration"

// ModelComparer tells whether two schema snapshots differ.
type ModelComparer interface {
	HasDifferences(source, target *migration.Snapshot) bool
}

// ModelComparerFunc adapts a function to ModelComparer.
type ModelComparerFunc func(source, target *migration.Snapshot) bool

// HasDifferences implements ModelComparer.
func (f ModelComparerFunc) HasDifferences(source, target *migration.Snapshot) bool {
	return f(source, target)
}

// FingerprintComparer compares snapshots by fingerprint.
type FingerprintComparer struct{}

// HasDifferences implements ModelComparer.
func (FingerprintComparer) HasDifferences(source, target *migration.Snapshot) bool {
	return source.Fingerprint() != target.Fingerprint()
}

// HasPendingModelChanges reports whether current, the schema model the
// application is built against, differs from the last model the catalog knows.
// A difference means a new migration has to be added.
func (m *Migrator) HasPendingModelChanges(current *migration.Snapshot) bool {
	return m.comparer.HasDifferences(m.catalog.ModelSnapshot(), current)
}
