/*
main.go - HTTP API entry point

PURPOSE:
  Starts the credit ledger HTTP API. When RESET_BALANCE=true the reset
  scheduler runs in the same process.

STARTUP SEQUENCE:
  1. Load configuration (defaults, config.yaml, .env, environment)
  2. Open the storage backend
  3. Build ledger, resetter and handler
  4. Start the scheduler (if enabled)
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  --config  YAML config file (default: ./config.yaml when present)
  --port    HTTP server port, overrides PORT

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler, letting a running reset finish
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the backend

EXAMPLES:
  # SQLite file database
  DB_DSN=./data/credits.db ./server

  # LibreChat MongoDB
  DB_DRIVER=mongo DB_DSN=mongodb://localhost:27017 DB_NAME=LibreChat ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - factory/engine.go: Object graph
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/warp/credit-engine/api"
	"github.com/warp/credit-engine/factory"
)

func main() {
	factory.Main(run)
}

func run(ctx context.Context) int {
	configPath := pflag.String("config", "", "path to a YAML config file")
	port := pflag.Int("port", 0, "HTTP server port (overrides PORT)")
	pflag.Parse()

	engine, err := factory.Load(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer engine.Close()
	logger := engine.Logger

	if *port == 0 {
		*port = engine.Config.Server.Port
	}

	handler := engine.Handler()
	scheduler := engine.Scheduler()
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return 1
	}
	defer scheduler.Stop()
	handler.Scheduler = scheduler

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", fmt.Sprintf("http://localhost:%d", *port), "driver", engine.Config.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logger.Error("server failed", "error", err)
		return 1
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return 1
	}

	logger.Info("server stopped")
	return 0
}
