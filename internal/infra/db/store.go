// Package db is the Postgres implementation of the usecase repositories, built on gorm
// over the pgx driver. Row locks use SELECT ... FOR UPDATE inside the caller's transaction.
package db

import (
	"context"
	"fmt"

	"heirloom/internal/config"
	"heirloom/internal/logging"
	"heirloom/internal/usecase"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type Store struct {
	db   *gorm.DB
	inTx bool
}

var _ usecase.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to POSTGRES_DSN. With no DSN it returns a nil store and the caller runs
// on the in-memory store instead.
func Open(cfg config.Config, log logging.Logger) (*Store, error) {
	if cfg.PostgresDSN == "" {
		if log != nil {
			log.Warn(context.Background(), "POSTGRES_DSN not set; starting in no-db mode with in-memory storage")
		}
		return nil, nil
	}
	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(gdb), nil
}

// Ping checks the connection for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errDBUnavailable
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(tx usecase.Store) error) error {
	if s.db == nil {
		return errDBUnavailable
	}
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, inTx: true})
	})
}

// atomic runs fn in the current transaction, or in a new one when there is none.
func (s *Store) atomic(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.db == nil {
		return errDBUnavailable
	}
	if s.inTx {
		return fn(s.db.WithContext(ctx))
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	return s.db.WithContext(ctx), nil
}

func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
