package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/KAsare1/trx-gateway/cmd/models"
	"github.com/KAsare1/trx-gateway/config"
)

// ErrInvalidInput marks failures caused by the caller's input rather than
// the store.
var ErrInvalidInput = errors.New("invalid input")

// TransactionStore is the single table behind the gateway.
type TransactionStore interface {
	Insert(ctx context.Context, trx *models.Transaction) error
	List(ctx context.Context, limit int) ([]models.Transaction, error)
	ListByEmail(ctx context.Context, email string) ([]models.Transaction, error)
	Truncate(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Open connects the backend named by cfg.Driver.
func Open(cfg config.StoreConfig) (TransactionStore, error) {
	switch cfg.Driver {
	case config.DriverCassandra:
		session, err := NewCassandraSession(cfg)
		if err != nil {
			return nil, err
		}
		return NewCassandraStore(session, cfg.Keyspace, cfg.Table), nil
	case config.DriverPostgres:
		gdb, err := NewPSQLStorage(cfg)
		if err != nil {
			return nil, fmt.Errorf("database initialization error: %w", err)
		}
		return NewGormStore(gdb, cfg.Table), nil
	case config.DriverSQLite:
		gdb, err := NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store := NewGormStore(gdb, cfg.Table)
		// sqlite is only used for local runs, so the table is created on demand.
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
