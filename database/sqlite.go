package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
)

type sqliteStore struct {
	dsn string
}

func (s *sqliteStore) open() (*sqlx.DB, error) {
	conn, err := sqlx.Open("sqlite", s.dsn)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	// A single connection keeps in-memory databases alive across calls and
	// serialises writers.
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// path returns the database file of the dsn, or "" for in-memory databases.
func (s *sqliteStore) path() string {
	dsn := s.dsn
	query := ""
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn, query = dsn[:i], dsn[i+1:]
	}
	dsn = strings.TrimPrefix(dsn, "file:")

	if dsn == "" || dsn == ":memory:" || strings.Contains(query, "mode=memory") {
		return ""
	}
	return dsn
}

func (s *sqliteStore) exists(_ context.Context, _ *sqlx.DB) (bool, error) {
	path := s.path()
	if path == "" {
		return true, nil
	}

	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat database file: %w", err)
	}
	return true, nil
}

func (s *sqliteStore) create(ctx context.Context) error {
	if s.path() == "" {
		return nil
	}

	conn, err := sqlx.ConnectContext(ctx, "sqlite", s.dsn)
	if err != nil {
		return fmt.Errorf("failed to create database file: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	// Opening alone may defer file creation until the first write.
	if _, err := conn.ExecContext(ctx, "PRAGMA user_version = 0"); err != nil {
		return fmt.Errorf("failed to initialise database file: %w", err)
	}

	return nil
}
