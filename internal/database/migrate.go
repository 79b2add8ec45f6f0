package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var MigrationFS embed.FS

// ErrNoChange is returned by MigrateStrict when the schema is already at the target version.
var ErrNoChange = migrate.ErrNoChange

// Migrate applies the embedded migrations in direction ("up" or "down").
// Being already at the target version is not an error.
func Migrate(dsn, direction string) error {
	err := MigrateStrict(dsn, direction)
	if errors.Is(err, ErrNoChange) {
		return nil
	}
	return err
}

// MigrateStrict is Migrate but reports ErrNoChange.
func MigrateStrict(dsn, direction string) error {
	if dsn == "" {
		return errors.New("POSTGRES_URI is not set")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	src, err := iofs.New(MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if direction == "up" {
		return m.Up()
	}
	return m.Down()
}
