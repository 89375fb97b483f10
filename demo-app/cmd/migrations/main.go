package main

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/platforma-dev/migrator/application"
	"github.com/platforma-dev/migrator/config"
	"github.com/platforma-dev/migrator/database"
	"github.com/platforma-dev/migrator/httpserver"
	"github.com/platforma-dev/migrator/log"
	"github.com/platforma-dev/migrator/migration"
	"github.com/platforma-dev/migrator/scheduler"
)

//go:embed migrations/*.sql
var migrations embed.FS

// UserRepository handles database operations for users
type UserRepository struct {
	db *sqlx.DB
}

// Migrations returns the SQL migrations shipped with the repository.
func (r *UserRepository) Migrations() fs.FS {
	sub, _ := fs.Sub(migrations, "migrations")
	return sub
}

// Count returns the number of users.
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM users")
	return n, err
}

type usersDomain struct {
	repository *UserRepository
}

func (d *usersDomain) GetRepository() any {
	return d.repository
}

// usersModel is the schema the code above is written against.
var usersModel = migration.NewSnapshot(migration.Table{
	Name: "users",
	Columns: []migration.Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "name", Type: "TEXT"},
		{Name: "email", Type: "TEXT", Nullable: true},
	},
	PrimaryKey: []string{"id"},
})

// addUserEmail sits between the two SQL migrations of the repository.
var addUserEmail = &migration.Func{
	MigrationID: "20240102_AddUserEmail",
	UpFunc: func(b *migration.Builder) {
		b.AddColumn("users", migration.Column{Name: "email", Type: "TEXT", Nullable: true})
	},
	DownFunc: func(b *migration.Builder) {
		b.DropColumn("users", "email")
	},
	Snapshot: usersModel,
}

func main() {
	ctx := context.Background()

	// Config is read from $XDG_CONFIG_HOME/migrator/config.yaml when present
	cfg, err := config.Load("")
	if err != nil {
		log.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.DSN == "" {
		cfg.Database.Driver, cfg.Database.DSN = "sqlite", "demo.db"
	}

	level, _ := log.ParseLevel(cfg.Log.Level)
	log.SetDefault(log.New(os.Stdout, cfg.Log.Type, level, nil))

	db, err := database.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.ErrorContext(ctx, "failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	app := application.New(
		application.WithProductVersion(cfg.ProductVersion),
		application.WithHistoryTable(cfg.History.Table),
		application.WithEventLogger(log.NewWideEventLogger(
			os.Stdout,
			log.NewDefaultSampler(3*time.Second, true, 0.1),
			cfg.Log.Type,
			nil,
		)),
	)

	// SQL migrations come with the repository, the Go one is registered directly
	users := &UserRepository{db: db.Connection()}
	app.RegisterDatabase("main", db)
	app.RegisterDomain("users", "main", &usersDomain{repository: users})
	app.RegisterMigrations("main", addUserEmail)
	app.RegisterModel("main", usersModel)

	// Bring the schema up to date before anything else starts
	app.OnStart(app.MigrationTask(""), application.StartupTaskConfig{Name: "migrate", AbortOnError: true})
	app.OnStartFunc(func(ctx context.Context) error {
		n, err := users.Count(ctx)
		if err != nil {
			return err
		}
		log.InfoContext(ctx, "users table ready", "users", n)
		return nil
	}, application.StartupTaskConfig{Name: "count-users"})

	// Refresh pending migration status for /health and /metrics
	status, err := scheduler.New(cfg.Status.Schedule, app.Status(), scheduler.WithRunImmediately())
	if err != nil {
		log.ErrorContext(ctx, "failed to create status scheduler", "error", err)
		os.Exit(1)
	}
	app.RegisterService("status", status)

	api := httpserver.New(cfg.Status.Address, 3*time.Second)
	api.Handle("/health", application.NewHealthCheckHandler(app))
	api.Handle("/metrics", app.MetricsHandler())
	api.Use(log.NewTraceIDMiddleware(nil, ""))
	api.UseFunc(func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.DebugContext(r.Context(), "incoming request", "path", r.URL.Path)
			h.ServeHTTP(w, r)
		})
	})
	app.RegisterService("api", api)

	// Run with a command: run, migrate [target], script [from] [to], status
	if err := app.Run(ctx); err != nil {
		log.ErrorContext(ctx, "app finished with error", "error", err)
		os.Exit(1)
	}
}
