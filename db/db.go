package db

import (
	"fmt"
	"time"

	"github.com/KAsare1/trx-gateway/config"
	"github.com/gocql/gocql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewPSQLStorage(cfg config.StoreConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	sqlDB.SetMaxIdleConns(cfg.MaxOpenConns)

	return db, nil
}

// NewSQLiteStorage opens a sqlite database. A single connection is kept so
// in-memory databases stay visible to every query.
func NewSQLiteStorage(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// NewCassandraSession connects to the cluster through the configured seeds,
// routing requests to replicas in the local datacenter first.
func NewCassandraSession(cfg config.StoreConfig) (*gocql.Session, error) {
	cluster := gocql.NewCluster(cfg.Seeds...)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = 10 * time.Second
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(
		gocql.DCAwareRoundRobinPolicy(cfg.LocalDC),
	)
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	if cfg.Consistency != "" {
		c, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
		if err != nil {
			return nil, fmt.Errorf("invalid consistency %q: %w", cfg.Consistency, err)
		}
		cluster.Consistency = c
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to %v: %w", cfg.Seeds, err)
	}
	return session, nil
}
