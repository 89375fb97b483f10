// Package application hosts migrators for the databases of an application and
// runs its startup tasks and services.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platforma-dev/migrator/log"
	"github.com/platforma-dev/migrator/migrator"
)

// ErrUnknownCommand is returned when an unknown CLI command is provided.
var ErrUnknownCommand = errors.New("unknown command")

// ErrDatabaseMigrationFailed is an error type that represents a failed database migration.
type ErrDatabaseMigrationFailed struct {
	database string
	err      error
}

// Error returns the formatted error message for ErrDatabaseMigrationFailed.
func (e *ErrDatabaseMigrationFailed) Error() string {
	return fmt.Sprintf("failed to migrate database %s: %v", e.database, e.err)
}

// Unwrap returns the underlying error for ErrDatabaseMigrationFailed.
func (e *ErrDatabaseMigrationFailed) Unwrap() error {
	return e.err
}

// Database returns the name of the database that failed to migrate.
func (e *ErrDatabaseMigrationFailed) Database() string {
	return e.database
}

// Application manages databases, startup tasks and services for the application lifecycle.
type Application struct {
	startupTasks   []startupTask
	services       map[string]Runner
	healthcheckers map[string]Healthchecker
	health         *Health

	mu        sync.Mutex
	databases map[string]*databaseEntry
	status    *StatusService

	registry       *prometheus.Registry
	metrics        *migrator.Metrics
	events         *log.WideEventLogger
	productVersion string
	historyTable   string
	out            io.Writer
}

// Option configures an Application.
type Option func(*Application)

// WithProductVersion sets the version recorded in the history of every database.
func WithProductVersion(version string) Option {
	return func(a *Application) {
		a.productVersion = version
	}
}

// WithHistoryTable sets the history table name used for every database.
func WithHistoryTable(table string) Option {
	return func(a *Application) {
		a.historyTable = table
	}
}

// WithEventLogger sets the wide event logger that receives one event per migration run.
func WithEventLogger(l *log.WideEventLogger) Option {
	return func(a *Application) {
		a.events = l
	}
}

// WithOutput sets where the migrate, script and status commands print.
func WithOutput(w io.Writer) Option {
	return func(a *Application) {
		a.out = w
	}
}

// New creates and returns a new Application instance.
func New(opts ...Option) *Application {
	a := &Application{
		services:       make(map[string]Runner),
		healthcheckers: make(map[string]Healthchecker),
		health:         NewHealth(),
		databases:      make(map[string]*databaseEntry),
		registry:       prometheus.NewRegistry(),
		productVersion: "dev",
		out:            os.Stdout,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = migrator.NewMetrics(a.registry)
	a.status = newStatusService(a)

	return a
}

// Health returns the current health status of the application.
func (a *Application) Health(ctx context.Context) *Health {
	for hcName, hc := range a.healthcheckers {
		a.health.SetServiceData(hcName, hc.Healthcheck(ctx))
	}
	a.health.SetDatabases(a.status.Statuses())
	return a.health
}

// Status returns the service that checks databases for pending migrations.
// Schedule it with the scheduler package to keep health and metrics current.
func (a *Application) Status() *StatusService {
	return a.status
}

// Registry returns the Prometheus registry holding the migration metrics.
func (a *Application) Registry() *prometheus.Registry {
	return a.registry
}

// MetricsHandler serves the application metrics in the Prometheus text format.
func (a *Application) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
}

// OnStart registers a new startup task with the given runner and configuration.
func (a *Application) OnStart(task Runner, config StartupTaskConfig) {
	a.startupTasks = append(a.startupTasks, startupTask{task, config})
}

// OnStartFunc registers a function as a startup task.
func (a *Application) OnStartFunc(task RunnerFunc, config StartupTaskConfig) {
	a.startupTasks = append(a.startupTasks, startupTask{task, config})
}

// RegisterService adds a named service to the application.
func (a *Application) RegisterService(serviceName string, service Runner) {
	a.services[serviceName] = service
	a.health.AddService(serviceName)

	healthcheckerService, ok := service.(Healthchecker)
	if ok {
		a.healthcheckers[serviceName] = healthcheckerService
	} else {
		delete(a.healthcheckers, serviceName)
	}
}

func (a *Application) printUsage() {
	fmt.Fprintln(a.out, "Usage: <binary> <command> [arguments]")
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "Commands:")
	fmt.Fprintln(a.out, "  run                               Start the application")
	fmt.Fprintln(a.out, "  migrate [target]                  Apply or revert migrations up to target (default: latest)")
	fmt.Fprintln(a.out, "  script [from] [to] [--idempotent] Print the SQL script between two migrations")
	fmt.Fprintln(a.out, "  status                            Show applied and pending migrations")
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "migrate, script and status accept --database <name> to select one database.")
}

func (a *Application) run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.InfoContext(ctx, "starting application", "startupTasks", len(a.startupTasks))

	for i, task := range a.startupTasks {
		log.InfoContext(ctx, "running task", "task", task.config.Name, "index", i)

		taskCtx := context.WithValue(ctx, log.StartupTaskKey, task.config.Name)

		err := task.runner.Run(taskCtx)
		if err != nil {
			log.ErrorContext(taskCtx, "error in startup task", "error", err)

			if task.config.AbortOnError {
				return &ErrStartupTaskFailed{task: task.config.Name, err: err}
			}
		}
	}

	var wg sync.WaitGroup

	for serviceName, service := range a.services {
		wg.Add(1)

		serviceCtx := context.WithValue(ctx, log.ServiceNameKey, serviceName)

		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					a.health.FailService(serviceName, fmt.Errorf("panic: %v", r))
					log.ErrorContext(serviceCtx, "service panicked", "panic", r)
				}
			}()

			log.InfoContext(serviceCtx, "starting service")
			a.health.StartService(serviceName)

			err := service.Run(serviceCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.health.FailService(serviceName, err)
				log.ErrorContext(serviceCtx, "error in service", "error", err)
			}
		}()
	}

	a.health.StartApplication()

	wg.Wait()

	return nil
}

// Run parses os.Args and executes the appropriate command.
// Supported commands: run, migrate, script and status.
// Returns nil on success, ErrUnknownCommand for unknown commands.
func (a *Application) Run(ctx context.Context) error {
	return a.RunArgs(ctx, os.Args[1:])
}

// RunArgs executes the command named by args[0] with the remaining arguments.
func (a *Application) RunArgs(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(args) == 0 {
		a.printUsage()
		return nil
	}

	command, rest := args[0], args[1:]
	switch command {
	case "run":
		return a.run(ctx)
	case "migrate":
		return a.migrateCommand(ctx, rest)
	case "script":
		return a.scriptCommand(ctx, rest)
	case "status":
		return a.statusCommand(ctx, rest)
	case "--help", "-h", "help":
		a.printUsage()
		return nil
	default:
		a.printUsage()
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}
