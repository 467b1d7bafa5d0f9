package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"keyhaven/internal/repository/postgres/migrations"
)

// gooseUpContext is swapped in tests
var gooseUpContext = goose.UpContext

// RunMigrations applies the embedded migrations using tablePrefix for every
// table, including goose's own version table.
func RunMigrations(ctx context.Context, databaseURL, tablePrefix string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return migrate(ctx, db, tablePrefix)
}

func migrate(ctx context.Context, db *sql.DB, tablePrefix string) error {
	// migrations expand ${TABLE_PREFIX}
	if err := os.Setenv("TABLE_PREFIX", tablePrefix); err != nil {
		return fmt.Errorf("set table prefix: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	goose.SetTableName(tablePrefix + "goose_db_version")
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
