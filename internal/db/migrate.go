// Package db owns the MySQL schema of the calculated-column store.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

const migrationsDir = "migrations"

// RunMigrations applies all pending goose migrations to the MySQL database.
func RunMigrations(ctx context.Context, db *sql.DB, logger *logrus.Logger) error {
	goose.SetBaseFS(EmbedMigrations)
	goose.SetLogger(logger)

	if err := goose.SetDialect("mysql"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("goose version: %w", err)
	}
	logger.Infof("Database schema at version %d", version)

	return nil
}

// MigrationFiles lists the embedded migration file names in apply order
func MigrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(EmbedMigrations, migrationsDir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
