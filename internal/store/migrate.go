package store

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies (up) or reverts (down) the embedded schema against dbSource.
func Migrate(dbSource string, up bool) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, migrateURL(dbSource))
	if err != nil {
		return fmt.Errorf("failed to set up migrate instance: %w", err)
	}
	defer m.Close()

	if up {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		direction := "up"
		if !up {
			direction = "down"
		}
		return fmt.Errorf("failed to run migration(%s): %w", direction, err)
	}
	return nil
}

// migrateURL points a postgres URL at the pgx/v5 migrate driver.
func migrateURL(dbSource string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dbSource, prefix) {
			return "pgx5://" + strings.TrimPrefix(dbSource, prefix)
		}
	}
	return dbSource
}
