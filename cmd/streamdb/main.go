package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"streamdb/internal/retention"
	"streamdb/pkg/api"
	"streamdb/pkg/config"
	"streamdb/pkg/logger"
	"streamdb/pkg/store"
	"streamdb/pkg/stream"
)

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.InitWith(cfg.Logging.Level, cfg.Logging.Format)

	// flags explicitly set win over env/config
	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = addrVal
	}
	dbPath := dbVal
	if !setFlags["db"] && cfg.Storage.DBPath != "" {
		dbPath = cfg.Storage.DBPath
	}

	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open pebble at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	backend, err := stream.NewBackend(db)
	if err != nil {
		log.Fatalf("failed to build stream backend: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := retention.NewSweeper(db, backend, cfg.Retention)
	stopSweeper, err := sweeper.Start(ctx)
	if err != nil {
		log.Fatalf("failed to start retention sweeper: %v", err)
	}
	defer stopSweeper()

	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewRouter(backend, cfg.RateLimit),
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", "signal", s.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()

	logger.Info("server_starting", "addr", addr, "db", dbPath, "env_overrides", envUsed)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	logger.Info("server_stopped")
}
