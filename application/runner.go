package application

import (
	"context"
	"fmt"
)

// Runner is a unit of work run by the application: a startup task or a long
// running service.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Healthchecker is implemented by services that report extra health data.
type Healthchecker interface {
	Healthcheck(ctx context.Context) any
}

// StartupTaskConfig configures a task run before services start.
type StartupTaskConfig struct {
	Name         string
	AbortOnError bool
}

type startupTask struct {
	runner Runner
	config StartupTaskConfig
}

// ErrStartupTaskFailed is returned by run when a task with AbortOnError fails.
type ErrStartupTaskFailed struct {
	task string
	err  error
}

// Error returns the formatted error message for ErrStartupTaskFailed.
func (e *ErrStartupTaskFailed) Error() string {
	return fmt.Sprintf("startup task %s failed: %v", e.task, e.err)
}

// Unwrap returns the underlying error for ErrStartupTaskFailed.
func (e *ErrStartupTaskFailed) Unwrap() error {
	return e.err
}
