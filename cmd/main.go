package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/KAsare1/trx-gateway/cmd/api"
	"github.com/KAsare1/trx-gateway/cmd/loadgen"
	"github.com/KAsare1/trx-gateway/cmd/utils"
	"github.com/KAsare1/trx-gateway/config"
	"github.com/KAsare1/trx-gateway/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	logger := utils.NewLogger(cfg.Log.Level, cfg.Log.File)

	// Check for command-line arguments
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "clear-db":
			runDatabaseClear(cfg, logger, os.Stdin, os.Stdout)
			return
		case "seed":
			runSeed(cfg, logger, os.Args[2:])
			return
		default:
			log.Fatalf("Unknown command: %s", os.Args[1])
		}
	}

	// Start the server
	startServer(cfg, logger)
}

func openStore(cfg *config.Config, logger *slog.Logger) db.TransactionStore {
	store, err := db.Open(cfg.Store)
	if err != nil {
		logger.Error("Database initialization error", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	logger.Info("Connected to the database", "driver", cfg.Store.Driver, "seeds", cfg.Store.Seeds, "local_dc", cfg.Store.LocalDC)
	return store
}

func startServer(cfg *config.Config, logger *slog.Logger) {
	store := openStore(cfg, logger)
	defer func() {
		store.Close()
		logger.Info("Database connection closed")
	}()

	// Graceful shutdown setup
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewApiServer(cfg, store, logger)
	if err := server.Run(ctx); err != nil {
		logger.Error("Server error", "err", err)
		store.Close()
		os.Exit(1)
	}
}

func runDatabaseClear(cfg *config.Config, logger *slog.Logger, in io.Reader, out io.Writer) {
	store := openStore(cfg, logger)
	defer func() {
		store.Close()
		logger.Info("Database connection closed")
	}()

	fmt.Fprintf(out, "Are you sure you want to delete every row of %s.%s? (yes/no): ", cfg.Store.Keyspace, cfg.Store.Table)
	if !confirmed(in) {
		logger.Info("Database clearing cancelled.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := store.Truncate(ctx); err != nil {
		logger.Error("Error clearing database", "err", err)
		return
	}

	logger.Info("Database cleared successfully")
}

func confirmed(in io.Reader) bool {
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(line) == "yes"
}

// runSeed posts generated transactions to the configured gateway:
// seed <count> [concurrency]
func runSeed(cfg *config.Config, logger *slog.Logger, args []string) {
	if len(args) < 1 {
		log.Fatalf("usage: seed <count> [concurrency]")
	}
	count, err := strconv.Atoi(args[0])
	if err != nil {
		log.Fatalf("Invalid count %q: %v", args[0], err)
	}
	concurrency := 8
	if len(args) > 1 {
		if concurrency, err = strconv.Atoi(args[1]); err != nil {
			log.Fatalf("Invalid concurrency %q: %v", args[1], err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := loadgen.Run(ctx, &http.Client{Timeout: 30 * time.Second}, loadgen.Config{
		BaseURL:     cfg.Server.URL + ":" + cfg.Server.Port,
		Count:       count,
		Concurrency: concurrency,
	}, logger)
	if err != nil {
		logger.Error("seed aborted", "err", err, "sent", res.Sent)
		os.Exit(1)
	}
	if res.Failed > 0 {
		os.Exit(1)
	}
}
