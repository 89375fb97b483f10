package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const maintenanceDatabase = "postgres"

var errNoDatabaseName = errors.New("connection string does not name a database")

type postgresStore struct {
	dsn string
}

func (s *postgresStore) open() (*sqlx.DB, error) {
	return sqlx.Open("postgres", s.dsn) //nolint:wrapcheck
}

func (s *postgresStore) exists(ctx context.Context, conn *sqlx.DB) (bool, error) {
	err := conn.PingContext(ctx)
	if isInvalidCatalog(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to connect to database: %w", err)
	}
	return true, nil
}

func (s *postgresStore) create(ctx context.Context) error {
	cfg, err := maintenanceConfig(s.dsn)
	if err != nil {
		return err
	}
	name := cfg.Database
	cfg.Database = maintenanceDatabase

	connector, err := pq.NewConnectorConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to configure maintenance connection: %w", err)
	}
	conn := sqlx.NewDb(sql.OpenDB(connector), "postgres")
	defer conn.Close() //nolint:errcheck

	if _, err := conn.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", name, err)
	}

	return nil
}

// maintenanceConfig parses a postgres URL or key=value connection string and
// checks that it names the database to create.
func maintenanceConfig(dsn string) (pq.Config, error) {
	cfg, err := pq.NewConfig(dsn)
	if err != nil {
		return pq.Config{}, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.Database == "" {
		return pq.Config{}, errNoDatabaseName
	}
	return cfg, nil
}
