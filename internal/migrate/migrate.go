// Package migrate applies the embedded PostgreSQL schema with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"ediportal.org/internal/obs"
)

//go:embed migrations/*.sql
var Migrations embed.FS

const dir = "migrations"

// seams for tests
var (
	gooseUp      = goose.UpContext
	gooseDown    = goose.DownContext
	gooseStatus  = goose.StatusContext
	gooseVersion = goose.GetDBVersionContext
)

var (
	setupOnce sync.Once
	setupErr  error
)

func setup() error {
	setupOnce.Do(func() {
		goose.SetBaseFS(Migrations)
		goose.SetLogger(obs.Logger())
		setupErr = goose.SetDialect("postgres")
	})
	return setupErr
}

func ready(db *sql.DB) error {
	if db == nil {
		return errors.New("migrate: nil database")
	}
	return setup()
}

// Up applies every pending migration.
func Up(ctx context.Context, db *sql.DB) error {
	if err := ready(db); err != nil {
		return err
	}
	if err := gooseUp(ctx, db, dir); err != nil {
		return fmt.Errorf("migrate: up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, db *sql.DB) error {
	if err := ready(db); err != nil {
		return err
	}
	if err := gooseDown(ctx, db, dir); err != nil {
		return fmt.Errorf("migrate: down: %w", err)
	}
	return nil
}

// Status logs the applied state of every migration.
func Status(ctx context.Context, db *sql.DB) error {
	if err := ready(db); err != nil {
		return err
	}
	if err := gooseStatus(ctx, db, dir); err != nil {
		return fmt.Errorf("migrate: status: %w", err)
	}
	return nil
}

// Version reports the current schema version.
func Version(ctx context.Context, db *sql.DB) (int64, error) {
	if err := ready(db); err != nil {
		return 0, err
	}
	v, err := gooseVersion(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("migrate: version: %w", err)
	}
	return v, nil
}
