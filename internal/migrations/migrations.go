// Package migrations applies the embedded schema for the knowledge tables.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
	"github.com/OFFIS-RIT/simgraph/pkg/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq"
)

//go:embed sql/*.sql
var files embed.FS

// Source returns the embedded migrations as a golang-migrate source.
func Source() (source.Driver, error) {
	return iofs.New(files, "sql")
}

// Up applies every pending migration and returns the resulting version.
func Up(ctx context.Context, dsn string, log *logger.Logger) (uint, error) {
	const op = "migrate.up"

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return 0, ingesterr.New(ingesterr.KindConfig, op, errors.New("invalid database url"))
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return 0, ingesterr.New(ingesterr.KindConnectivity, op, err)
	}

	src, err := Source()
	if err != nil {
		return 0, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return 0, ingesterr.New(ingesterr.KindConnectivity, op, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return 0, fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, ingesterr.New(ingesterr.KindDataIntegrity, op, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, ingesterr.New(ingesterr.KindDataIntegrity, op, err)
	}
	if dirty {
		return version, ingesterr.Newf(ingesterr.KindDataIntegrity, op, "schema version %d is dirty", version)
	}
	log.Info("Schema migrated", "event", "migrate", "version", version)
	return version, nil
}
