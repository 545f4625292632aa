package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"heirloom/internal/infra/db/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies every pending embedded migration.
func Migrate(ctx context.Context, dsn string) error {
	return withMigrator(ctx, dsn, func(db *sql.DB) error {
		return goose.UpContext(ctx, db, ".")
	})
}

// MigrationStatus prints the applied state of each migration through the goose logger.
func MigrationStatus(ctx context.Context, dsn string) error {
	return withMigrator(ctx, dsn, func(db *sql.DB) error {
		return goose.StatusContext(ctx, db, ".")
	})
}

// SetMigrationLogger routes goose output, e.g. to a logrus logger.
func SetMigrationLogger(l goose.Logger) {
	goose.SetLogger(l)
}

func withMigrator(ctx context.Context, dsn string, fn func(db *sql.DB) error) error {
	if dsn == "" {
		return errors.New("POSTGRES_DSN is required for migrations")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return fn(db)
}
