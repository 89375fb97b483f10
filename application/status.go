package application

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platforma-dev/migrator/log"
)

// DatabaseStatus is the migration state of one database at CheckedAt.
type DatabaseStatus struct {
	Applied             int       `json:"applied"`
	Pending             []string  `json:"pending"`
	PendingModelChanges bool      `json:"pendingModelChanges,omitempty"`
	CheckedAt           time.Time `json:"checkedAt"`
	Error               string    `json:"error,omitempty"`
}

// StatusService checks every registered database for pending migrations.
// Each Run refreshes the statuses and the pending gauge of the application
// metrics, so it is meant to be scheduled periodically.
type StatusService struct {
	app *Application

	mu       sync.RWMutex
	statuses map[string]*DatabaseStatus
}

func newStatusService(app *Application) *StatusService {
	return &StatusService{app: app, statuses: make(map[string]*DatabaseStatus)}
}

// Run checks all databases concurrently. Every database gets a status even
// when the check fails; the first failure is returned.
func (s *StatusService) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, name := range s.app.databaseNames() {
		g.Go(func() error {
			status, err := s.check(gctx, name)
			s.mu.Lock()
			s.statuses[name] = status
			s.mu.Unlock()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	return nil
}

func (s *StatusService) check(ctx context.Context, name string) (*DatabaseStatus, error) {
	ctx = context.WithValue(ctx, log.DatabaseKey, name)
	status := &DatabaseStatus{CheckedAt: time.Now(), Pending: []string{}}

	m, err := s.app.Migrator(name)
	if err != nil {
		status.Error = err.Error()
		return status, err
	}

	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		status.Error = err.Error()
		return status, fmt.Errorf("database %s: %w", name, err)
	}
	unapplied, err := m.UnappliedMigrations(ctx)
	if err != nil {
		status.Error = err.Error()
		return status, fmt.Errorf("database %s: %w", name, err)
	}

	status.Applied = len(applied)
	for _, mig := range unapplied {
		status.Pending = append(status.Pending, mig.ID())
	}
	if model := s.app.model(name); model != nil {
		status.PendingModelChanges = m.HasPendingModelChanges(model)
	}

	s.app.metrics.SetPending(name, len(unapplied))
	log.DebugContext(ctx, "migration status checked", "applied", status.Applied, "pending", len(status.Pending))

	return status, nil
}

// Statuses returns the result of the last check per database.
func (s *StatusService) Statuses() map[string]*DatabaseStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.statuses)
}

// Healthcheck returns the pending migration count per database.
func (s *StatusService) Healthcheck(_ context.Context) any {
	pending := map[string]int{}
	for name, status := range s.Statuses() {
		pending[name] = len(status.Pending)
	}
	return pending
}
