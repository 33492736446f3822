/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fuel station shift server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env file, environment, then flags)
  2. Build the logger
  3. Initialize SQLite store
  4. Load the station catalog (file or built-in sample)
  5. Create the shift and cash reconciliation services
  6. Configure HTTP router and start the open shift watchdog
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  Flags override the environment.
  -port     HTTP server port (PORT, default: 8080)
  -db       SQLite database path (FUEL_DB_PATH, default: fuel.db)
            Use ":memory:" for in-memory database
  -catalog  Station catalog YAML (FUEL_CATALOG, default: built-in sample)

ENVIRONMENT:
  See config/config.go. A .env file in the working directory is read first;
  variables already set in the environment win.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the watchdog
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database and a station file
  ./server -db="./data/fuel.db" -catalog="./station.yaml"

  # Run with in-memory database and JSON logs
  LOG_FORMAT=json ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/fuelstation/api"
	"github.com/warp/fuelstation/catalog"
	"github.com/warp/fuelstation/config"
	"github.com/warp/fuelstation/reconcile"
	"github.com/warp/fuelstation/shift"
	"github.com/warp/fuelstation/store/sqlite"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Station catalog YAML (empty: built-in sample)")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	log := cfg.NewLogger()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to load station catalog: %v", err)
	}

	// Services
	shifts := shift.NewService(store, cat)
	shifts.Prices = cat
	shifts.Rewards = cat
	shifts.Notifier = api.LogNotifier{Log: log}
	shifts.StrictShiftOrder = cfg.StrictShiftOrder

	cash := reconcile.NewService(store.Cash(), cat)

	// Initialize handler
	handler := api.NewHandler(shifts, cash, cat, log)
	handler.DB = store

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
	})

	watchdog := api.NewOpenShiftWatchdog(store, cat, log, handler.Metrics, cfg.OpenShiftCheckInterval)
	watchdog.Start()

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
		log.WithFields(logrus.Fields{
			"port":               cfg.Port,
			"db":                 cfg.DBPath,
			"strict_shift_order": cfg.StrictShiftOrder,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	watchdog.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
		return
	}

	log.Info("server stopped")
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(path)
}
