/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the settlement engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Connect Redis cache (optional; falls back to in-process cache)
  4. Create API handler and router
  5. Start the reconciliation scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080)
  -db              SQLite database path (default: settlement.db)
                   Use ":memory:" for an in-memory database
  -redis           Redis address for the summary cache (empty: in-process)
  -reconcile-cron  Cron spec for the overdue sweep (default: 0 2 * * *)
  -log-level       logrus level: debug, info, warn, error

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections, drain active requests (30s timeout)
  3. Close database and cache connections
  4. Exit

EXAMPLES:
  ./server -db="./data/settlement.db" -redis="localhost:6379"
  ./server -db=":memory:" -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Scheduled reconciliation
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/cache"
	"github.com/warp/settlement-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "settlement.db", "SQLite database path")
	redisAddr := flag.String("redis", "", "Redis address (empty: in-process cache)")
	cronSpec := flag.String("reconcile-cron", api.DefaultReconcileSpec, "cron spec for the overdue sweep")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(level)
	}

	st, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer st.Close()

	var c cache.Cache
	if *redisAddr != "" {
		redisCache, err := cache.NewRedis(context.Background(), *redisAddr)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		defer redisCache.Close()
		c = redisCache
		log.WithField("addr", *redisAddr).Info("using redis cache")
	} else {
		c = cache.NewMemory()
		log.Info("using in-process cache")
	}

	handler := api.NewHandler(st, c, log)
	router := api.NewRouter(handler)

	scheduler := api.NewReconcileScheduler(handler, *cronSpec, log)
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start reconciliation scheduler")
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", *port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server stopped")
}
