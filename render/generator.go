package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/platforma-dev/migrator/migration"
)

// ErrUnsupportedOperation is returned when a dialect cannot express an operation.
var ErrUnsupportedOperation = errors.New("operation not supported by dialect")

// Generator is the Renderer for a single dialect. It emits one batch per operation.
type Generator struct {
	dialect Dialect
}

var _ Renderer = (*Generator)(nil)

// NewGenerator creates a Generator for dialect.
func NewGenerator(dialect Dialect) *Generator {
	return &Generator{dialect: dialect}
}

// Dialect returns the generator dialect.
func (g *Generator) Dialect() Dialect {
	return g.dialect
}

// Terminator implements Renderer.
func (g *Generator) Terminator() string {
	return g.dialect.Terminator()
}

// BatchSeparator implements Renderer.
func (g *Generator) BatchSeparator() string {
	return g.dialect.BatchSeparator()
}

// Render implements Renderer.
func (g *Generator) Render(ops []migration.Operation, target *migration.Snapshot) ([]Batch, error) {
	batches := make([]Batch, 0, len(ops))
	for i, op := range ops {
		stmts, err := g.generate(op, target)
		if err != nil {
			return nil, fmt.Errorf("failed to render operation #%d (%T): %w", i, op, err)
		}
		if len(stmts) == 0 {
			continue
		}
		batches = append(batches, Batch{Statements: stmts})
	}
	return batches, nil
}

func (g *Generator) generate(op migration.Operation, target *migration.Snapshot) ([]string, error) {
	q := g.dialect.QuoteIdentifier

	switch o := op.(type) {
	case migration.SQL:
		if strings.TrimSpace(o.Statement) == "" {
			return nil, nil
		}
		return []string{o.Statement}, nil

	case migration.CreateTable:
		return []string{g.createTable(o.Name, o.Columns, o.PrimaryKey)}, nil

	case migration.DropTable:
		return []string{"DROP TABLE " + q(o.Name)}, nil

	case migration.RenameTable:
		return []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s", q(o.Name), q(o.NewName))}, nil

	case migration.AddColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", q(o.Table), g.columnDefinition(o.Column))}, nil

	case migration.DropColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", q(o.Table), q(o.Name))}, nil

	case migration.RenameColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", q(o.Table), q(o.Name), q(o.NewName))}, nil

	case migration.AlterColumn:
		if g.dialect.SupportsAlterColumn() {
			return g.alterColumn(o), nil
		}
		return g.rebuildTable(o.Table, target)

	case migration.CreateIndex:
		unique := ""
		if o.Unique {
			unique = "UNIQUE "
		}
		return []string{fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, q(o.Name), q(o.Table), g.columnList(o.Columns))}, nil

	case migration.DropIndex:
		return []string{"DROP INDEX " + q(o.Name)}, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedOperation, op)
	}
}

func (g *Generator) createTable(name string, columns []migration.Column, primaryKey []string) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	sb.WriteString(g.dialect.QuoteIdentifier(name))
	sb.WriteString(" (\n")
	for i, c := range columns {
		sb.WriteString("    ")
		sb.WriteString(g.columnDefinition(c))
		if i < len(columns)-1 || len(primaryKey) > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	if len(primaryKey) > 0 {
		sb.WriteString("    PRIMARY KEY (")
		sb.WriteString(g.columnList(primaryKey))
		sb.WriteString(")\n")
	}
	sb.WriteString(")")
	return sb.String()
}

func (g *Generator) columnDefinition(c migration.Column) string {
	def := g.dialect.QuoteIdentifier(c.Name) + " " + c.Type
	if !c.Nullable {
		def += " NOT NULL"
	}
	if c.Default != "" {
		def += " DEFAULT " + c.Default
	}
	return def
}

func (g *Generator) columnList(columns []string) string {
	quoted := make([]string, 0, len(columns))
	for _, c := range columns {
		quoted = append(quoted, g.dialect.QuoteIdentifier(c))
	}
	return strings.Join(quoted, ", ")
}

func (g *Generator) alterColumn(o migration.AlterColumn) []string {
	q := g.dialect.QuoteIdentifier
	prefix := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s ", q(o.Table), q(o.Column.Name))

	stmts := []string{prefix + "TYPE " + o.Column.Type}
	if o.Column.Nullable {
		stmts = append(stmts, prefix+"DROP NOT NULL")
	} else {
		stmts = append(stmts, prefix+"SET NOT NULL")
	}
	if o.Column.Default != "" {
		stmts = append(stmts, prefix+"SET DEFAULT "+o.Column.Default)
	} else {
		stmts = append(stmts, prefix+"DROP DEFAULT")
	}
	return stmts
}

// rebuildTable recreates a table in the shape the target snapshot describes,
// for dialects that cannot alter columns in place.
func (g *Generator) rebuildTable(name string, target *migration.Snapshot) ([]string, error) {
	table, ok := target.Table(name)
	if !ok {
		return nil, fmt.Errorf("%w: altering a column of %q requires the table in the target snapshot", ErrUnsupportedOperation, name)
	}

	q := g.dialect.QuoteIdentifier
	temp := "migrator_temp_" + table.Name

	names := make([]string, 0, len(table.Columns))
	for _, c := range table.Columns {
		names = append(names, c.Name)
	}
	cols := g.columnList(names)

	return []string{
		g.createTable(temp, table.Columns, table.PrimaryKey),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", q(temp), cols, cols, q(table.Name)),
		"DROP TABLE " + q(table.Name),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", q(temp), q(table.Name)),
	}, nil
}
