package main

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	sa "github.com/panyam/secretauth"
	"github.com/panyam/secretauth/internal/config"
	"github.com/panyam/secretauth/stores/fs"
	"github.com/panyam/secretauth/stores/gae"
	gormstore "github.com/panyam/secretauth/stores/gorm"
)

// backend is the identity store and session store picked by STORE_DRIVER.
// A nil Sessions means the in-memory scs store.
type backend struct {
	Identities sa.IdentityStore
	Sessions   scs.Store
	Close      func() error
}

func openBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverFS:
		log.Warn("fs store keeps sessions in memory; they are lost on restart", "dir", cfg.DataDir)
		return &backend{
			Identities: fs.NewFSIdentityStore(cfg.DataDir),
			Close:      func() error { return nil },
		}, nil

	case config.DriverPostgres, config.DriverSQLite:
		db, err := openGorm(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.StoreDriver == config.DriverPostgres {
			sqlDB, err := db.DB()
			if err != nil {
				return nil, err
			}
			if err := gormstore.Migrate(ctx, sqlDB); err != nil {
				return nil, err
			}
		} else if err := gormstore.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
		}

		sessions := gormstore.NewSessionStore(db)
		if cfg.SessionCleanupInterval > 0 {
			sessions.StartCleanup(ctx, cfg.SessionCleanupInterval, func(err error) {
				log.Error("session cleanup failed", "err", err)
			})
		}
		return &backend{
			Identities: gormstore.NewIdentityStore(db),
			Sessions:   sessions,
			Close: func() error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.Close()
			},
		}, nil

	case config.DriverDatastore:
		client, err := datastore.NewClient(ctx, cfg.DatastoreProject)
		if err != nil {
			return nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		sessions := gae.NewSessionStore(client, cfg.DatastoreNamespace)
		if cfg.SessionCleanupInterval > 0 {
			sessions.StartCleanup(ctx, cfg.SessionCleanupInterval, func(err error) {
				log.Error("session cleanup failed", "err", err)
			})
		}
		return &backend{
			Identities: gae.NewIdentityStore(client, cfg.DatastoreNamespace),
			Sessions:   sessions,
			Close:      client.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func openGorm(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if cfg.StoreDriver == config.DriverPostgres {
		dialector = postgres.Open(cfg.DatabaseURL)
	} else {
		dialector = sqlite.Open(cfg.DatabaseURL)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.StoreDriver, err)
	}
	return db, nil
}
