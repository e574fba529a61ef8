package ledger

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/mastermobile/callexport/internal/support/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationsTable = "call_export_schema_migrations"

// Migrate applies all pending ledger schema migrations for the given
// database type ("sqlite", "postgres" or "mysql").
func Migrate(sqlDB *sql.DB, dbType string) error {
	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver: %w", err)
	}

	dbDriver, err := databaseDriver(sqlDB, dbType)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbType, dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("ledger migration failed (DB: %s): %w", dbType, err)
	}
	logger.Debugf("Ledger schema is up to date (DB: %s)", dbType)
	return nil
}

func databaseDriver(sqlDB *sql.DB, dbType string) (database.Driver, error) {
	switch dbType {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: migrationsTable})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: migrationsTable})
	case "sqlite":
		return sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: migrationsTable})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", dbType)
	}
}
