package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"readmemo/migrations"

	// goose drives a database/sql connection; pgx provides the driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Migrate applies any pending schema migrations. It opens its own
// short-lived database/sql connection because goose does not speak
// pgxpool.
func Migrate(ctx context.Context, log *slog.Logger, databaseURL string) error {
	if databaseURL == "" {
		return errors.New("migrate: database URL is empty")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("migrate: open: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Warn("db.migrate.close.fail", "err", cerr)
		}
	}()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate: dialect: %w", err)
	}

	before, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("migrate: version: %w", err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: up: %w", err)
	}

	after, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("migrate: version: %w", err)
	}

	if after != before {
		log.Info("db.migrations.applied", "from", before, "to", after)
	} else {
		log.Info("db.migrations.current", "version", after)
	}
	return nil
}
