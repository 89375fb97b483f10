package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/platforma-dev/migrator/config"
	"github.com/platforma-dev/migrator/database"
	"github.com/platforma-dev/migrator/history"
	"github.com/platforma-dev/migrator/log"
	"github.com/platforma-dev/migrator/migration"
	"github.com/platforma-dev/migrator/migrator"
	"github.com/platforma-dev/migrator/render"
)

// CLI is the command line interface of migrator.
type CLI struct {
	Apply   Apply   `kong:"cmd,help='Apply or revert migrations so the database is at TARGET (default: latest).'"`
	Script  Script  `kong:"cmd,help='Print the SQL script that moves a database between two migrations.'"`
	List    List    `kong:"cmd,help='List migrations and whether they are applied.',aliases='ls'"`
	Pending Pending `kong:"cmd,help='List migrations not applied yet.'"`
	Version Version `kong:"cmd,help='Output version and exit.'"`

	ConfigFile     string `kong:"name='config',short='c',default='${configFile}',help='Path to the configuration file.'"`
	Driver         string `kong:"help='Database driver (postgres or sqlite).'"`
	DSN            string `kong:"name='dsn',help='Database connection string.'"`
	Dir            string `kong:"short='d',help='Directory holding the SQL migration files.'"`
	Table          string `kong:"help='Name of the history table.'"`
	ProductVersion string `kong:"help='Product version recorded with applied migrations.'"`

	Log struct {
		Level string `kong:"help='Logging level (debug, info, warn, error).'"`
		Type  string `kong:"help='Log format (text, json or tint).'"`
	} `kong:"embed,prefix='log-'"`
}

// appContext is passed to the Run method of every command.
type appContext struct {
	ctx    context.Context
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
}

func newParser(cli *CLI, stdout, stderr io.Writer, exit func(int)) (*kong.Kong, error) {
	parser, err := kong.New(cli,
		kong.Name("migrator"),
		kong.Description("Schema migrations for PostgreSQL and SQLite."),
		kong.UsageOnError(),
		kong.DefaultEnvars("MIGRATOR"),
		kong.Writers(stdout, stderr),
		kong.Exit(exit),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile": config.DefaultPath(),
			"version":    version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}
	return parser, nil
}

// exitRequested is returned by run when kong asked to exit, after printing help.
type exitRequested struct {
	code int
}

func (e *exitRequested) Error() string {
	return fmt.Sprintf("exit %d", e.code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) (err error) {
	cli := &CLI{}
	parser, err := newParser(cli, stdout, stderr, func(code int) { panic(&exitRequested{code: code}) })
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			exit, ok := r.(*exitRequested)
			if !ok {
				panic(r)
			}
			if exit.code != 0 {
				err = exit
			}
		}
	}()

	kctx, err := parser.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}

	cfg, err := cli.config()
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	log.SetDefault(log.New(stderr, cfg.Log.Type, level, nil))

	return kctx.Run(&appContext{ctx: ctx, cfg: cfg, stdout: stdout, stderr: stderr})
}

// config loads the configuration file and applies the flags that were set on top.
func (c *CLI) config() (*config.Config, error) {
	cfg, err := config.Load(c.ConfigFile)
	if err != nil {
		return nil, err
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.Driver, c.Driver)
	override(&cfg.Database.DSN, c.DSN)
	override(&cfg.Migrations.Dir, c.Dir)
	override(&cfg.History.Table, c.Table)
	override(&cfg.ProductVersion, c.ProductVersion)
	override(&cfg.Log.Level, c.Log.Level)
	override(&cfg.Log.Type, c.Log.Type)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// session is an open database with the migrator of its migration directory.
type session struct {
	db       *database.Database
	ledger   *history.SQLLedger
	migrator *migrator.Migrator
}

func (a *appContext) open() (*session, error) {
	if a.cfg.Database.DSN == "" {
		return nil, errors.New("no database configured, set database.dsn or --dsn")
	}

	catalog, err := migration.LoadCatalog(os.DirFS(a.cfg.Migrations.Dir))
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations from %s: %w", a.cfg.Migrations.Dir, err)
	}

	db, err := database.New(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	ledger := history.NewSQLLedger(db, db.Dialect(), history.WithTable(a.cfg.History.Table))
	events := log.NewWideEventLogger(a.stderr, log.NewDefaultSampler(10*time.Second, true, 0), a.cfg.Log.Type, nil)

	m := migrator.New(catalog, ledger, render.NewGenerator(db.Dialect()), db,
		migrator.WithProductVersion(a.cfg.ProductVersion),
		migrator.WithEventLogger(events),
	)

	return &session{db: db, ledger: ledger, migrator: m}, nil
}

func (s *session) Close() {
	if err := s.db.Close(); err != nil {
		log.Warn("failed to close database", "error", err)
	}
}

func exitCode(err error) int {
	var exit *exitRequested
	if errors.As(err, &exit) {
		return exit.code
	}
	if errors.Is(err, errPending) {
		return 3
	}
	return 1
}
