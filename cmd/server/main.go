/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the absence engine server: vacation and absence
  requests checked against team-coverage conflict rules.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the logrus logger and load i18n messages
  3. Open the store (SQLite or MongoDB)
  4. Seed the default situation types into an empty store
  5. Create the absence service and API handler
  6. Start the conflict audit scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS (override environment):
  -port            HTTP server port (PORT, default: 8080)
  -store           sqlite | mongo (STORE, default: sqlite)
  -db              SQLite database path (DB_PATH, default: absence.db)
                   Use ":memory:" for in-memory database
  -mongo-uri       MongoDB URI (MONGODB_URI)
  -log-level       debug | info | warn | error (LOG_LEVEL)
  -audit-interval  Pending audit interval, 0 disables (AUDIT_INTERVAL)
  -auto-approve    Approve conflict-free submissions (AUTO_APPROVE)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the audit scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/absence.db"

  # Run against a MongoDB replica set
  STORE=mongo MONGODB_URI="mongodb://localhost:27017/?replicaSet=rs0" ./server

  # Run on different port with debug logs
  ./server -port=3000 -log-level=debug

SEE ALSO:
  - config/config.go: All settings
  - api/server.go: Router configuration
  - absence/service.go: Request lifecycle
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/api"
	"github.com/warp/absence-engine/config"
	"github.com/warp/absence-engine/i18n"
	"github.com/warp/absence-engine/store/mongo"
	"github.com/warp/absence-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := cfg.Logger()

	if err := i18n.Init(cfg.DefaultLocale, logger); err != nil {
		logger.WithError(err).Fatal("Failed to load locales")
	}

	ctx := context.Background()

	// Initialize store
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize store")
	}
	defer closeStore()

	if err := api.SeedSituationTypes(ctx, store); err != nil {
		logger.WithError(err).Fatal("Failed to seed situation types")
	}

	// Initialize service and handler
	svc := absence.NewService(store, logger)
	svc.AutoApprove = cfg.AutoApprove

	handler := api.NewHandler(svc, logger)
	handler.AuditWindowDays = cfg.AuditWindowDays

	scheduler := api.NewConflictAuditScheduler(svc, logger)
	scheduler.CheckInterval = cfg.AuditInterval
	scheduler.WindowDays = cfg.AuditWindowDays
	scheduler.PushGatewayURL = cfg.PushGatewayURL
	scheduler.Start()

	// Create router
	router := api.NewRouter(handler, cfg.CORSOrigins)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"port":  cfg.Port,
			"store": cfg.Store,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (absence.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMongo:
		store, err := mongo.New(ctx, mongo.Options{
			URI:          cfg.MongoURI,
			Database:     cfg.MongoDatabase,
			Transactions: cfg.MongoTransactions,
			Logger:       logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(context.Background()); err != nil {
				logger.WithError(err).Warn("Failed to close mongodb client")
			}
		}, nil
	default:
		store, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close database")
			}
		}, nil
	}
}
