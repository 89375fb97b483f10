package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/platforma-dev/migrator/migration"
)

var errPending = errors.New("database has pending migrations")

// Apply moves the database to a target migration.
type Apply struct {
	Target string `kong:"arg,optional,help='Migration ID, name or ID prefix. 0 reverts everything.'"`
}

// Run the apply command.
func (c *Apply) Run(appCtx *appContext) error {
	s, err := appCtx.open()
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.migrator.Apply(appCtx.ctx, c.Target)
	if res != nil {
		for _, id := range res.Applied {
			fmt.Fprintf(appCtx.stdout, "applied  %s\n", id)
		}
		for _, id := range res.Reverted {
			fmt.Fprintf(appCtx.stdout, "reverted %s\n", id)
		}
	}
	if err != nil {
		return err
	}

	if len(res.Applied)+len(res.Reverted) == 0 {
		fmt.Fprintf(appCtx.stdout, "database is already at %s\n", res.Target)
	}
	return nil
}

// Script prints the SQL script between two migrations.
type Script struct {
	From       string `kong:"help='Migration the database is at (default: empty database).'"`
	To         string `kong:"help='Migration to move to (default: latest).'"`
	Idempotent bool   `kong:"help='Guard each migration with a history check so the script can run repeatedly.'"`
	Output     string `kong:"short='o',type='path',help='Write the script to a file instead of stdout.'"`
}

// Run the script command.
func (c *Script) Run(appCtx *appContext) error {
	s, err := appCtx.open()
	if err != nil {
		return err
	}
	defer s.Close()

	script, err := s.migrator.Script(appCtx.ctx, c.From, c.To, c.Idempotent)
	if err != nil {
		return err
	}

	if c.Output == "" {
		_, err = fmt.Fprint(appCtx.stdout, script)
		return err
	}

	if err := os.WriteFile(c.Output, []byte(script), 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed writing script: %w", err)
	}
	return nil
}

// List shows every known migration with its state.
type List struct{}

// Run the list command.
func (c *List) Run(appCtx *appContext) error {
	s, err := appCtx.open()
	if err != nil {
		return err
	}
	defer s.Close()

	rows, err := s.ledger.AppliedMigrations(appCtx.ctx)
	if err != nil {
		return err
	}
	versions := make(map[string]string, len(rows))
	for _, r := range rows {
		versions[strings.ToLower(r.MigrationID)] = r.ProductVersion
	}

	data := [][]string{}
	for _, m := range s.migrator.Catalog().Migrations() {
		status := "pending"
		key := strings.ToLower(m.ID())
		version, ok := versions[key]
		if ok {
			status = "applied"
			delete(versions, key)
		}
		data = append(data, []string{m.ID(), migration.Name(m.ID()), status, version})
	}
	for _, r := range rows {
		if version, ok := versions[strings.ToLower(r.MigrationID)]; ok {
			data = append(data, []string{r.MigrationID, migration.Name(r.MigrationID), "unknown", version})
		}
	}

	if err := renderTable([]string{"ID", "Name", "Status", "Product Version"}, data, appCtx.stdout); err != nil {
		return fmt.Errorf("failed rendering table: %w", err)
	}
	return nil
}

// Pending lists migrations not applied yet.
type Pending struct {
	ExitCode bool `kong:"help='Exit with status 3 when migrations are pending.'"`
}

// Run the pending command.
func (c *Pending) Run(appCtx *appContext) error {
	s, err := appCtx.open()
	if err != nil {
		return err
	}
	defer s.Close()

	unapplied, err := s.migrator.UnappliedMigrations(appCtx.ctx)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(unapplied))
	for _, m := range unapplied {
		ids = append(ids, m.ID())
	}
	if len(ids) > 0 {
		fmt.Fprintln(appCtx.stdout, strings.Join(ids, "\n"))
	}

	if c.ExitCode && len(ids) > 0 {
		return fmt.Errorf("%w: %d", errPending, len(ids))
	}
	return nil
}

// Version prints the migrator version.
type Version struct{}

// Run the version command.
func (c *Version) Run(appCtx *appContext) error {
	_, err := fmt.Fprintf(appCtx.stdout, "migrator %s\n", version)
	return err
}
