package render

import (
	"strings"

	"github.com/platforma-dev/migrator/migration"
)

// Batch is an ordered group of executable statements.
type Batch struct {
	Statements []string
}

// Text joins the statements into script text, each statement trimmed of any
// trailing terminator and terminated with terminator on its own.
func (b Batch) Text(terminator string) string {
	var sb strings.Builder
	for i, stmt := range b.Statements {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strings.TrimRight(strings.TrimSpace(stmt), terminator+" \t\r\n"))
		sb.WriteString(terminator)
	}
	return sb.String()
}

// Renderer turns an ordered list of operations into statement batches,
// rendered against the schema the operations produce. A nil target stands for
// the empty schema.
type Renderer interface {
	Render(ops []migration.Operation, target *migration.Snapshot) ([]Batch, error)
	Terminator() string
	BatchSeparator() string
}
