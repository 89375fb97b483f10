package migration

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
)

const (
	markerUp   = "-- +migrate Up"
	markerDown = "-- +migrate Down"
	markerID   = "-- +migrate ID:"
)

var (
	errMissingUpSection  = errors.New("missing or empty Up section")
	errEmptyIDOverride   = errors.New("empty ID override")
	errDuplicateIDMarker = errors.New("duplicate ID override marker")
	errIDMarkerNotFirst  = errors.New("ID override marker must be the first marker")
)

// Source is implemented by anything that ships SQL migration files,
// typically a repository with an embedded migrations directory.
type Source interface {
	Migrations() fs.FS
}

// SQLMigration is a migration written as a plain SQL file.
type SQLMigration struct {
	id   string
	up   string
	down string
}

// NewSQLMigration creates a migration from raw up and down SQL.
func NewSQLMigration(id, up, down string) *SQLMigration {
	return &SQLMigration{id: id, up: up, down: down}
}

// ID implements Migration.
func (m *SQLMigration) ID() string { return m.id }

// Up implements Migration.
func (m *SQLMigration) Up(b *Builder) {
	b.SQL(m.up)
}

// Down implements Migration. A missing Down section produces no operations.
func (m *SQLMigration) Down(b *Builder) {
	if m.down != "" {
		b.SQL(m.down)
	}
}

// TargetSnapshot implements Migration. SQL files carry no model.
func (m *SQLMigration) TargetSnapshot() *Snapshot { return nil }

// UpSQL returns the forward SQL.
func (m *SQLMigration) UpSQL() string { return m.up }

// DownSQL returns the backward SQL.
func (m *SQLMigration) DownSQL() string { return m.down }

// LoadCatalog parses the SQL migrations in fsys and builds a Catalog from them.
func LoadCatalog(fsys fs.FS) (*Catalog, error) {
	parsed, err := ParseSQLMigrations(fsys)
	if err != nil {
		return nil, err
	}

	ms := make([]Migration, 0, len(parsed))
	for _, m := range parsed {
		ms = append(ms, m)
	}

	slices.SortStableFunc(ms, func(a, b Migration) int { return CompareIDs(a.ID(), b.ID()) })

	return NewCatalog(ms...)
}

// ParseSQLMigrations parses SQL migration files from an fs.FS.
// Files must have .sql extension and contain -- +migrate Up marker.
// The -- +migrate Down marker is optional.
// Migration ID is derived from the filename without extension,
// unless overridden with -- +migrate ID: <custom_id> as the first marker.
// Migrations are returned sorted lexicographically by filename.
func ParseSQLMigrations(fsys fs.FS) ([]*SQLMigration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var filenames []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		filenames = append(filenames, entry.Name())
	}

	slices.Sort(filenames)

	migrations := make([]*SQLMigration, 0, len(filenames))
	for _, filename := range filenames {
		m, err := parseSQLFile(fsys, filename)
		if err != nil {
			return nil, fmt.Errorf("failed to parse migration %s: %w", filename, err)
		}
		migrations = append(migrations, m)
	}

	return migrations, nil
}

func parseSQLFile(fsys fs.FS, filename string) (*SQLMigration, error) {
	file, err := fsys.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	id := strings.TrimSuffix(filename, ".sql")
	idOverridden := false
	anyMarkerSeen := false

	var upBuilder, downBuilder strings.Builder
	var section *strings.Builder

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, markerID) {
			if idOverridden {
				return nil, errDuplicateIDMarker
			}
			if anyMarkerSeen {
				return nil, errIDMarkerNotFirst
			}
			overrideID := strings.TrimSpace(strings.TrimPrefix(trimmed, markerID))
			if overrideID == "" {
				return nil, errEmptyIDOverride
			}
			id = overrideID
			idOverridden = true
			anyMarkerSeen = true
			continue
		}

		switch trimmed {
		case markerUp:
			section = &upBuilder
			anyMarkerSeen = true
			continue
		case markerDown:
			section = &downBuilder
			anyMarkerSeen = true
			continue
		}

		if section != nil {
			section.WriteString(line)
			section.WriteString("\n")
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	up := strings.TrimSpace(upBuilder.String())
	if up == "" {
		return nil, errMissingUpSection
	}

	return &SQLMigration{
		id:   id,
		up:   up,
		down: strings.TrimSpace(downBuilder.String()),
	}, nil
}
