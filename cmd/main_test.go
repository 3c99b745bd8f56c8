package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KAsare1/trx-gateway/cmd/models"
	"github.com/KAsare1/trx-gateway/config"
	"github.com/KAsare1/trx-gateway/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(t *testing.T) *config.Config {
	return &config.Config{
		Store: config.StoreConfig{
			Driver:     config.DriverSQLite,
			Keyspace:   "roadshow_demo",
			Table:      "shop",
			SQLitePath: filepath.Join(t.TempDir(), "gateway.db"),
		},
	}
}

func countRows(t *testing.T, cfg *config.Config) int64 {
	t.Helper()
	store, err := db.Open(cfg.Store)
	require.NoError(t, err)
	defer store.Close()

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	return n
}

func seedRow(t *testing.T, cfg *config.Config) {
	t.Helper()
	store, err := db.Open(cfg.Store)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Insert(context.Background(), &models.Transaction{TrxID: "t1", Email: "a@x.com"}))
}

func TestRunDatabaseClear(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("cancelled", func(t *testing.T) {
		cfg := sqliteConfig(t)
		seedRow(t, cfg)

		var out bytes.Buffer
		runDatabaseClear(cfg, logger, strings.NewReader("no\n"), &out)
		assert.Contains(t, out.String(), "roadshow_demo.shop")
		assert.Equal(t, int64(1), countRows(t, cfg))
	})

	t.Run("confirmed", func(t *testing.T) {
		cfg := sqliteConfig(t)
		seedRow(t, cfg)

		runDatabaseClear(cfg, logger, strings.NewReader("yes\n"), io.Discard)
		assert.Zero(t, countRows(t, cfg))
	})
}
