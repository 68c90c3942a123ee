/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the dairy allocation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the logger
  3. Initialize SQLite store
  4. Build the bucket locker (in-process or Redis)
  5. Create the engine, API handler and router
  6. Start the daily sweep scheduler
  7. Start server with graceful shutdown

CONFIGURATION:
  See config/config.go for every key. Common flags:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: dairy.db)
           Use ":memory:" for in-memory database
  -lock    local | redis

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler (waits for an in-flight sweep)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/dairy.db"

  # Run two instances sharing bucket locks through Redis
  ./server -lock=redis -redis=localhost:6379

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Daily sweep
  - store/sqlite/sqlite.go: Database implementation
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

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/dairy-engine/api"
	"github.com/warp/dairy-engine/config"
	"github.com/warp/dairy-engine/dairy"
	"github.com/warp/dairy-engine/dairy/lock"
	"github.com/warp/dairy-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server failed")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Bucket locker
	var locker dairy.Locker
	switch cfg.LockBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddress, err)
		}

		rl := lock.NewRedis(rdb, "dairy:")
		rl.TTL = cfg.LockTTL
		locker = rl
	default:
		locker = lock.NewLocal()
	}

	// Engine
	engine := dairy.NewEngine(store, locker, dairy.SystemClock{Location: cfg.Location})
	engine.Log = logger
	engine.LockTimeout = cfg.LockTimeout
	engine.SweepConcurrency = cfg.SweepConcurrency

	// HTTP
	handler := api.NewHandler(engine, logger)

	scheduler := api.NewSweepScheduler(engine, cfg.SweepAt.Hour, cfg.SweepAt.Minute, cfg.Location, logger)
	scheduler.Enabled = cfg.SweepEnabled
	handler.Scheduler = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"port":     cfg.Port,
			"db":       cfg.DBPath,
			"lock":     cfg.LockBackend,
			"timezone": cfg.Location.String(),
			"sweep_at": cfg.SweepAt.String(),
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
