/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the budget engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Configure zerolog
  3. Initialize SQLite store
  4. Create settlement service and API handler
  5. Start the settlement scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -host    Listen address (HOST, default 0.0.0.0)
  -port    HTTP server port (PORT, default 8080)
  -db      SQLite database path (DB_PATH, default budget.db)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running pass)
  2. Stop accepting new connections
  3. Wait for active requests to complete (SERVER_SHUTDOWN_TIMEOUT)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/budget.db"

  # Run with in-memory database, JSON logs
  LOG_FORMAT=json ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/warp/budget-engine/api"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/config"
	"github.com/warp/budget-engine/schedule"
	"github.com/warp/budget-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Flags
	flag.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "HTTP listen host")
	flag.IntVar(&cfg.Server.Port, "port", cfg.Server.Port, "HTTP server port")
	flag.StringVar(&cfg.Database.Path, "db", cfg.Database.Path, "SQLite database path")
	flag.Parse()

	setupLogging(cfg.Log)

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to initialize database")
	}
	defer store.Close()

	// Initialize service
	svc := budget.NewService(store, log.Logger.With().Str("component", "settlement").Logger())
	svc.Location = cfg.Settlement.Location()
	svc.MiddayHour = cfg.Settlement.MiddayHour
	svc.MaxAttempts = cfg.Settlement.MaxAttempts
	svc.Scanner = schedule.NewScanner(cfg.Settlement.LookaheadMonths)

	handler := api.NewHandler(svc, log.Logger.With().Str("component", "api").Logger())
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	// Scheduler
	var scheduler *api.SettlementScheduler
	if cfg.Settlement.Enabled {
		scheduler, err = api.NewSettlementScheduler(svc, cfg.Settlement.Schedule, log.Logger.With().Str("component", "scheduler").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure settlement scheduler")
		}
		scheduler.Start()
		handler.Scheduler = scheduler
	} else {
		log.Info().Msg("settlement scheduler disabled")
	}

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("db", cfg.Database.Path).
			Str("timezone", svc.Timezone()).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// setupLogging configures the global zerolog logger. "human" writes
// colored console lines, anything else writes JSON.
func setupLogging(cfg config.LogConfig) {
	output := io.Writer(os.Stdout)
	if cfg.Format == "human" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(output).With().Timestamp().Logger()
}
