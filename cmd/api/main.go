package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/joho/godotenv"

	"github.com/paylinehq/payline/internal/config"
	"github.com/paylinehq/payline/internal/database"
	paylineHttp "github.com/paylinehq/payline/internal/http"
	intentHandler "github.com/paylinehq/payline/internal/http/intent"
	"github.com/paylinehq/payline/internal/idempotency"
	idemStore "github.com/paylinehq/payline/internal/idempotency/store"
	"github.com/paylinehq/payline/internal/intent"
	intentStore "github.com/paylinehq/payline/internal/intent/store"
	"github.com/paylinehq/payline/internal/processor"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var (
		ledger intent.Repository
		keys   idempotency.Repository
	)

	switch cfg.Store.Driver {
	case "bolt":
		db, err := bolt.Open(cfg.Store.BoltPath, 0o600, &bolt.Options{Timeout: time.Second})
		if err != nil {
			slog.Error("failed to open bolt database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if ledger, err = intentStore.NewBolt(db); err != nil {
			slog.Error("failed to init ledger store", "error", err)
			os.Exit(1)
		}

		if keys, err = idemStore.NewBolt(db); err != nil {
			slog.Error("failed to init idempotency store", "error", err)
			os.Exit(1)
		}
	default:
		db, err := database.New(cfg.ConnectionString())
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		ledger = intentStore.New(db)
		keys = idemStore.New(db)
	}

	var (
		guard   = idempotency.NewService(keys, cfg.Idempotency.PendingTTL)
		gateway = processor.NewClient(cfg.Processor.URL, cfg.Processor.Token, cfg.Processor.Timeout)

		intentService = intent.NewService(ledger, guard, gateway, intent.RetryPolicy{
			Attempts: cfg.Processor.RetryAttempts,
			Backoff:  cfg.Processor.RetryBackoff,
		})
	)

	intentH := intentHandler.NewHandler(intentService)
	router := paylineHttp.New(intentH, cfg.Auth.JWTSecret)

	addr := fmt.Sprintf(":%d", cfg.App.Port)
	slog.Info("starting server", "addr", addr, "store", cfg.Store.Driver)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
