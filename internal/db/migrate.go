package db

import (
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrationConfig selects the target schema version
type MigrationConfig struct {
	Version uint // 0 means latest
	Force   int  // clears a dirty version before migrating when non-zero
	Down    bool // roll every migration back
}

type migrationLogger struct {
	*zap.SugaredLogger
}

func (l migrationLogger) Verbose() bool { return false }

func (l migrationLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

// Migrate applies the embedded schema migrations
func (c *Connection) Migrate(cfg MigrationConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(c.DB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrationLogger{logger.Sugar()}

	if cfg.Force != 0 {
		if err := m.Force(cfg.Force); err != nil {
			return fmt.Errorf("failed to force version %d: %w", cfg.Force, err)
		}
	}

	startTime := time.Now()
	switch {
	case cfg.Down:
		err = m.Down()
	case cfg.Version != 0:
		err = m.Migrate(cfg.Version)
	default:
		err = m.Up()
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No new migrations to apply")
		return nil
	}
	if err != nil {
		version, dirty, _ := m.Version()
		logger.Error("Migration failed",
			zap.Uint("version", version),
			zap.Bool("dirty", dirty),
			zap.Error(err))
		return fmt.Errorf("migration failed: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("Database migrations applied",
		zap.Uint("version", version),
		zap.Duration("elapsed", time.Since(startTime)))
	return nil
}
