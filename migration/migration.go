// Package migration describes versioned schema changes: the migration contract,
// the abstract operations a migration produces, schema snapshots and the
// ordered catalog migrations are resolved against.
package migration

// InitialDatabase identifies the state before any migration has been applied.
const InitialDatabase = "0"

// Migration is a single, immutable unit of schema change.
//
// ID must sort lexicographically in application order, usually a timestamp
// prefix followed by a human readable name ("20200101120000_Init").
type Migration interface {
	ID() string
	// Up appends the operations that move the schema forward.
	Up(b *Builder)
	// Down appends the operations that restore the previous schema.
	Down(b *Builder)
	// TargetSnapshot returns the schema after this migration is applied.
	// Nil means the migration carries no model information.
	TargetSnapshot() *Snapshot
}

// Name returns the human readable part of a migration ID, the text after the
// first underscore. IDs without an underscore are returned unchanged.
func Name(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == '_' {
			return id[i+1:]
		}
	}
	return id
}

// Func is a Migration assembled from functions, handy for migrations defined in Go.
type Func struct {
	MigrationID string
	UpFunc      func(b *Builder)
	DownFunc    func(b *Builder)
	Snapshot    *Snapshot
}

// ID implements Migration.
func (f *Func) ID() string { return f.MigrationID }

// Up implements Migration.
func (f *Func) Up(b *Builder) {
	if f.UpFunc != nil {
		f.UpFunc(b)
	}
}

// Down implements Migration.
func (f *Func) Down(b *Builder) {
	if f.DownFunc != nil {
		f.DownFunc(b)
	}
}

// TargetSnapshot implements Migration.
func (f *Func) TargetSnapshot() *Snapshot { return f.Snapshot }

// UpOperations collects the forward operations of m.
func UpOperations(m Migration) []Operation {
	b := NewBuilder()
	m.Up(b)
	return b.Operations()
}

// DownOperations collects the backward operations of m.
func DownOperations(m Migration) []Operation {
	b := NewBuilder()
	m.Down(b)
	return b.Operations()
}
