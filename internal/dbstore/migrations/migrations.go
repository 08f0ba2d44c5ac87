// Package migrations embeds the controller's schema and applies it with
// golang-migrate, grounded on the teacher's embedded-SQL migration runner
// (system/platform/migrations) but driven through golang-migrate's
// postgres/iofs drivers instead of a hand-rolled lexical-order executor,
// since golang-migrate is already a direct dependency of the teacher's
// go.mod and tracks per-migration version state instead of relying on
// every statement being idempotent.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var files embed.FS

// Apply migrates db up to the latest embedded version. It is safe to
// call on every controller startup; a database already at the latest
// version is left untouched.
func Apply(db *sql.DB) error {
	source, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
