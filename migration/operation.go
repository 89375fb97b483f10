package migration

// Operation is a dialect-agnostic description of one schema change.
// Operations carry no execution logic; renderers turn them into statements.
type Operation interface {
	operation()
}

// Column describes a table column.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
	// Default is a raw SQL expression, empty for none.
	Default string `json:"default,omitempty"`
}

// CreateTable creates a table with the given columns.
type CreateTable struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// DropTable drops a table.
type DropTable struct {
	Name string
}

// RenameTable renames a table.
type RenameTable struct {
	Name    string
	NewName string
}

// AddColumn adds a column to an existing table.
type AddColumn struct {
	Table  string
	Column Column
}

// DropColumn removes a column.
type DropColumn struct {
	Table string
	Name  string
}

// RenameColumn renames a column.
type RenameColumn struct {
	Table   string
	Name    string
	NewName string
}

// AlterColumn changes the definition of an existing column.
type AlterColumn struct {
	Table  string
	Column Column
}

// CreateIndex creates an index.
type CreateIndex struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// DropIndex drops an index.
type DropIndex struct {
	Name  string
	Table string
}

// SQL is a raw statement passed through to the database untouched.
type SQL struct {
	Statement string
}

func (CreateTable) operation()  {}
func (DropTable) operation()    {}
func (RenameTable) operation()  {}
func (AddColumn) operation()    {}
func (DropColumn) operation()   {}
func (RenameColumn) operation() {}
func (AlterColumn) operation()  {}
func (CreateIndex) operation()  {}
func (DropIndex) operation()    {}
func (SQL) operation()          {}

// Builder collects operations in the order they are added.
type Builder struct {
	ops []Operation
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Append adds arbitrary operations.
func (b *Builder) Append(ops ...Operation) *Builder {
	b.ops = append(b.ops, ops...)
	return b
}

// CreateTable appends a CreateTable operation.
func (b *Builder) CreateTable(name string, columns []Column, primaryKey ...string) *Builder {
	return b.Append(CreateTable{Name: name, Columns: columns, PrimaryKey: primaryKey})
}

// DropTable appends a DropTable operation.
func (b *Builder) DropTable(name string) *Builder {
	return b.Append(DropTable{Name: name})
}

// RenameTable appends a RenameTable operation.
func (b *Builder) RenameTable(name, newName string) *Builder {
	return b.Append(RenameTable{Name: name, NewName: newName})
}

// AddColumn appends an AddColumn operation.
func (b *Builder) AddColumn(table string, column Column) *Builder {
	return b.Append(AddColumn{Table: table, Column: column})
}

// DropColumn appends a DropColumn operation.
func (b *Builder) DropColumn(table, name string) *Builder {
	return b.Append(DropColumn{Table: table, Name: name})
}

// RenameColumn appends a RenameColumn operation.
func (b *Builder) RenameColumn(table, name, newName string) *Builder {
	return b.Append(RenameColumn{Table: table, Name: name, NewName: newName})
}

// AlterColumn appends an AlterColumn operation.
func (b *Builder) AlterColumn(table string, column Column) *Builder {
	return b.Append(AlterColumn{Table: table, Column: column})
}

// CreateIndex appends a CreateIndex operation.
func (b *Builder) CreateIndex(name, table string, unique bool, columns ...string) *Builder {
	return b.Append(CreateIndex{Name: name, Table: table, Columns: columns, Unique: unique})
}

// DropIndex appends a DropIndex operation.
func (b *Builder) DropIndex(name, table string) *Builder {
	return b.Append(DropIndex{Name: name, Table: table})
}

// SQL appends a raw statement.
func (b *Builder) SQL(statement string) *Builder {
	return b.Append(SQL{Statement: statement})
}

// Operations returns a copy of the collected operations.
func (b *Builder) Operations() []Operation {
	ops := make([]Operation, len(b.ops))
	copy(ops, b.ops)
	return ops
}
