package kv

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB opens a SQL database for GormStore. DSNs starting with
// postgres:// or postgresql:// use PostgreSQL; anything else is a SQLite
// path or URI.
func OpenDB(dsn string) (*gorm.DB, []PoolOption, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil, nil
	}

	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, []PoolOption{WithPoolConfig(SQLitePoolConfig())}, nil
}

// Open opens the database behind dsn, configures its pool, and migrates
// the store tables.
func Open(ctx context.Context, dsn string, opts ...Option) (*GormStore, error) {
	db, pool, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	return openGorm(ctx, db, pool, opts...)
}

// openGorm wraps db in a migrated store. db is closed when that fails.
func openGorm(ctx context.Context, db *gorm.DB, pool []PoolOption, opts ...Option) (*GormStore, error) {
	store, err := NewGormStoreWithPool(db, pool, opts...)
	if err != nil {
		closeDB(db)
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
