package migration

import (
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Table is the shape of a table inside a Snapshot.
type Table struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	PrimaryKey []string `json:"primaryKey,omitempty"`
}

// Column returns the column with the given name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// Snapshot is an immutable, fully resolved schema shape.
// A nil *Snapshot stands for the empty schema.
type Snapshot struct {
	tables []Table
}

// NewSnapshot builds a Snapshot from tables. The input is copied.
func NewSnapshot(tables ...Table) *Snapshot {
	s := &Snapshot{tables: make([]Table, 0, len(tables))}
	for _, t := range tables {
		t.Columns = slices.Clone(t.Columns)
		t.PrimaryKey = slices.Clone(t.PrimaryKey)
		s.tables = append(s.tables, t)
	}
	return s
}

// Tables returns a copy of the snapshot tables.
func (s *Snapshot) Tables() []Table {
	if s == nil {
		return nil
	}
	return slices.Clone(s.tables)
}

// Table looks up a table by name, case-insensitively.
func (s *Snapshot) Table(name string) (Table, bool) {
	if s == nil {
		return Table{}, false
	}
	for _, t := range s.tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

// Fingerprint returns a stable hash of the snapshot. Table order does not
// affect the result; the empty schema and a nil snapshot share a fingerprint.
func (s *Snapshot) Fingerprint() string {
	tables := s.Tables()
	slices.SortFunc(tables, func(a, b Table) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	if tables == nil {
		tables = []Table{}
	}

	data, err := json.Marshal(tables)
	if err != nil {
		// Tables hold only strings and bools.
		panic(err)
	}

	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
