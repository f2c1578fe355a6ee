package infra

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const migrationsPath = "db/migrations"

// RunMigrations applies all pending archive schema migrations.
func RunMigrations(dsn string, logger *slog.Logger) error {
	m, err := migrate.New("file://"+FindMigrationDir(), dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied", "version", version, "dirty", dirty)

	return nil
}

// FindMigrationDir walks up from the working directory looking for
// db/migrations, falling back to the relative path.
func FindMigrationDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return migrationsPath
	}
	for {
		candidate := filepath.Join(dir, migrationsPath)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return migrationsPath
		}
		dir = parent
	}
}
