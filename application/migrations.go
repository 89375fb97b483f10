package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/platforma-dev/migrator/database"
	"github.com/platforma-dev/migrator/history"
	"github.com/platforma-dev/migrator/log"
	"github.com/platforma-dev/migrator/migration"
	"github.com/platforma-dev/migrator/migrator"
	"github.com/platforma-dev/migrator/render"
)

var (
	// ErrUnknownDatabase is returned when a command names a database that is not registered.
	ErrUnknownDatabase = errors.New("unknown database")
	// ErrDatabaseRequired is returned by script when several databases are registered
	// and none is selected.
	ErrDatabaseRequired = errors.New("several databases registered, select one with --database")
)

type databaseEntry struct {
	db       *database.Database
	opts     []migrator.Option
	model    *migration.Snapshot
	migrator *migrator.Migrator
}

// RegisterDatabase adds a database to the application. Its migrator is built
// on first use from the migrations and repositories registered for it; opts
// override the application defaults.
func (a *Application) RegisterDatabase(dbName string, db *database.Database, opts ...migrator.Option) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.databases[dbName] = &databaseEntry{db: db, opts: opts}
}

// RegisterRepository adds a repository to a registered database. Repositories
// implementing migration.Source contribute their SQL migrations.
func (a *Application) RegisterRepository(dbName string, repoName string, repository any) {
	entry, ok := a.entry(dbName)
	if !ok {
		log.Warn("repository registered for unknown database", "database", dbName, "repository", repoName)
		return
	}
	entry.db.RegisterRepository(repoName, repository)
}

// RegisterMigrations adds Go-defined migrations to a registered database.
func (a *Application) RegisterMigrations(dbName string, migrations ...migration.Migration) {
	entry, ok := a.entry(dbName)
	if !ok {
		log.Warn("migrations registered for unknown database", "database", dbName)
		return
	}
	entry.db.RegisterMigrations(migrations...)
}

// RegisterModel sets the schema model the application is built against. The
// status command reports when it differs from the model of the newest migration.
func (a *Application) RegisterModel(dbName string, model *migration.Snapshot) {
	if entry, ok := a.entry(dbName); ok {
		entry.model = model
	}
}

// RegisterDomain registers the repository of domain in database dbName.
func (a *Application) RegisterDomain(name, dbName string, domain Domain) {
	if dbName != "" {
		a.RegisterRepository(dbName, name+"_repository", domain.GetRepository())
	}
}

// Migrator returns the migrator of database dbName, building it on first use.
func (a *Application) Migrator(dbName string) (*migrator.Migrator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.databases[dbName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, dbName)
	}
	if entry.migrator != nil {
		return entry.migrator, nil
	}

	catalog, err := entry.db.Catalog()
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations of database %s: %w", dbName, err)
	}

	var ledgerOpts []history.Option
	if a.historyTable != "" {
		ledgerOpts = append(ledgerOpts, history.WithTable(a.historyTable))
	}
	ledger := history.NewSQLLedger(entry.db, entry.db.Dialect(), ledgerOpts...)

	opts := []migrator.Option{
		migrator.WithName(dbName),
		migrator.WithProductVersion(a.productVersion),
		migrator.WithMetrics(a.metrics),
	}
	if a.events != nil {
		opts = append(opts, migrator.WithEventLogger(a.events))
	}
	opts = append(opts, entry.opts...)

	entry.migrator = migrator.New(catalog, ledger, render.NewGenerator(entry.db.Dialect()), entry.db, opts...)
	return entry.migrator, nil
}

// MigrationTask returns a startup task that migrates every database to target.
func (a *Application) MigrationTask(target string) Runner {
	return RunnerFunc(func(ctx context.Context) error {
		return a.migrate(ctx, a.databaseNames(), target)
	})
}

func (a *Application) entry(dbName string) (*databaseEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.databases[dbName]
	return entry, ok
}

func (a *Application) model(dbName string) *migration.Snapshot {
	entry, ok := a.entry(dbName)
	if !ok {
		return nil
	}
	return entry.model
}

func (a *Application) databaseNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return slices.Sorted(maps.Keys(a.databases))
}

func (a *Application) selectDatabases(name string) ([]string, error) {
	if name == "" {
		return a.databaseNames(), nil
	}
	if _, ok := a.entry(name); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, name)
	}
	return []string{name}, nil
}

func (a *Application) migrate(ctx context.Context, names []string, target string) error {
	if len(names) == 0 {
		log.WarnContext(ctx, "no databases registered")
		return nil
	}

	for _, dbName := range names {
		dbCtx := context.WithValue(ctx, log.DatabaseKey, dbName)
		log.InfoContext(dbCtx, "migrating database", "target", target)

		m, err := a.Migrator(dbName)
		if err != nil {
			return &ErrDatabaseMigrationFailed{database: dbName, err: err}
		}

		res, err := m.Apply(dbCtx, target)
		if err != nil {
			log.ErrorContext(dbCtx, "error in database migration", "error", err)
			return &ErrDatabaseMigrationFailed{database: dbName, err: err}
		}

		log.InfoContext(dbCtx, "database migrated", "target", res.Target, "applied", len(res.Applied), "reverted", len(res.Reverted))
	}

	return nil
}

type migrateArgs struct {
	Database string `kong:"short='d',help='Name of the database (default: all).'"`
	Target   string `kong:"arg,optional,help='Migration ID, name or ID prefix (default: latest).'"`
}

type scriptArgs struct {
	Database   string `kong:"short='d',help='Name of the database.'"`
	Idempotent bool   `kong:"help='Guard every migration with a history check.'"`
	From       string `kong:"arg,optional,help='Migration the database is at (default: empty database).'"`
	To         string `kong:"arg,optional,help='Migration to move to (default: latest).'"`
}

type statusArgs struct {
	Database string `kong:"short='d',help='Name of the database (default: all).'"`
}

// errHelp is returned by parseArgs when help was printed instead of parsing.
var errHelp = errors.New("help requested")

func (a *Application) parseArgs(command string, grammar any, args []string) (err error) {
	parser, err := kong.New(grammar,
		kong.Name(command),
		kong.Writers(a.out, a.out),
		kong.Exit(func(int) { panic(errHelp) }),
	)
	if err != nil {
		return fmt.Errorf("failed creating the %s parser: %w", command, err)
	}

	defer func() {
		if r := recover(); r != nil {
			if r != errHelp {
				panic(r)
			}
			err = errHelp
		}
	}()

	if _, err := parser.Parse(args); err != nil {
		return fmt.Errorf("invalid %s arguments: %w", command, err)
	}
	return nil
}

func (a *Application) migrateCommand(ctx context.Context, args []string) error {
	var cmd migrateArgs
	if err := a.parseArgs("migrate", &cmd, args); err != nil {
		if errors.Is(err, errHelp) {
			return nil
		}
		return err
	}

	names, err := a.selectDatabases(cmd.Database)
	if err != nil {
		return err
	}

	return a.migrate(ctx, names, cmd.Target)
}

func (a *Application) scriptCommand(ctx context.Context, args []string) error {
	var cmd scriptArgs
	if err := a.parseArgs("script", &cmd, args); err != nil {
		if errors.Is(err, errHelp) {
			return nil
		}
		return err
	}

	names, err := a.selectDatabases(cmd.Database)
	if err != nil {
		return err
	}
	switch len(names) {
	case 0:
		return fmt.Errorf("%w: no databases registered", ErrUnknownDatabase)
	case 1:
	default:
		return ErrDatabaseRequired
	}

	m, err := a.Migrator(names[0])
	if err != nil {
		return err
	}

	script, err := m.Script(ctx, cmd.From, cmd.To, cmd.Idempotent)
	if err != nil {
		return fmt.Errorf("failed to generate script for database %s: %w", names[0], err)
	}

	_, err = io.WriteString(a.out, script)
	return err
}

func (a *Application) statusCommand(ctx context.Context, args []string) error {
	var cmd statusArgs
	if err := a.parseArgs("status", &cmd, args); err != nil {
		if errors.Is(err, errHelp) {
			return nil
		}
		return err
	}

	names, err := a.selectDatabases(cmd.Database)
	if err != nil {
		return err
	}

	checkErr := a.status.Run(ctx)
	statuses := a.status.Statuses()

	for _, name := range names {
		status, ok := statuses[name]
		if !ok {
			continue
		}
		if status.Error != "" {
			fmt.Fprintf(a.out, "%s: error: %s\n", name, status.Error)
			continue
		}

		fmt.Fprintf(a.out, "%s: %d applied, %d pending\n", name, status.Applied, len(status.Pending))
		if len(status.Pending) > 0 {
			fmt.Fprintf(a.out, "  pending: %s\n", strings.Join(status.Pending, ", "))
		}
		if status.PendingModelChanges {
			fmt.Fprintln(a.out, "  model has changes not covered by a migration")
		}
	}

	return checkErr
}
