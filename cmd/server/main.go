/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the retroactive billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration (.env supported)
  2. Parse command-line flags (override the environment)
  3. Build the zap logger
  4. Initialize SQLite store
  5. Create API handler and router
  6. Optionally start the retroactive billing scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (env SERVER_PORT, default 8080)
  -db         SQLite database path (env DATABASE_PATH, default retro_billing.db)
              Use ":memory:" for in-memory database
  -log-level  debug|info|warn|error (env LOG_LEVEL)
  -anchor     contract_start|current_month (env RETROACTIVE_ANCHOR)
  -scheduler  Run the periodic workflow (env SCHEDULER_ENABLED)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (SERVER_SHUTDOWN_TIMEOUT)
  4. Close database connection

EXAMPLES:
  ./server -db=":memory:" -log-level=debug
  SCHEDULER_ENABLED=true SCHEDULER_PERSIST=true ./server

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
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

	"github.com/warp/retro-billing/api"
	"github.com/warp/retro-billing/billing"
	"github.com/warp/retro-billing/config"
	"github.com/warp/retro-billing/logging"
	"github.com/warp/retro-billing/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags
	port := flag.Int("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Database.Path, "SQLite database path")
	logLevel := flag.String("log-level", cfg.Log.Level, "Log level")
	anchor := flag.String("anchor", string(cfg.Billing.Anchor), "Retroactive anchor: contract_start or current_month")
	schedulerEnabled := flag.Bool("scheduler", cfg.Scheduler.Enabled, "Run the retroactive billing scheduler")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.Database.Path = *dbPath
	cfg.Log.Level = *logLevel
	cfg.Scheduler.Enabled = *schedulerEnabled
	if cfg.Billing.Anchor, err = billing.ParseAnchor(*anchor); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	handler := api.NewHandler(store, billing.Generator{Anchor: cfg.Billing.Anchor}, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RequestLogging: true,
		Logger:         logger,
	})

	scheduler := api.NewRetroactiveScheduler(store, handler.Applier, logger)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Persist = cfg.Scheduler.Persist
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db", cfg.Database.Path),
			zap.String("anchor", string(cfg.Billing.Anchor)),
			zap.String("logic_version", billing.LogicVersion),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
