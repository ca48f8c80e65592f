package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/deposit-service/internal/config"
	"github.com/Dan9191/deposit-service/internal/handler"
	"github.com/Dan9191/deposit-service/internal/integrations/cbr"
	"github.com/Dan9191/deposit-service/internal/mirror"
	"github.com/Dan9191/deposit-service/internal/notify"
	"github.com/Dan9191/deposit-service/internal/repository"
	"github.com/Dan9191/deposit-service/internal/repository/memory"
	"github.com/Dan9191/deposit-service/internal/scheduler"
	"github.com/Dan9191/deposit-service/internal/service"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var (
		store service.Store
		feed  mirror.ChangeFeed
	)
	switch cfg.StorageDriver {
	case config.DriverMemory:
		mem := memory.New()
		store, feed = mem, mem
		logger.Warn("Using in-memory storage, data will not survive a restart")
	default:
		db, err := sql.Open("postgres", cfg.DBConn)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("Failed to ping database: %v", err)
		}
		if cfg.MigrationsEnabled {
			if err := repository.RunMigrations(db, logger); err != nil {
				logger.Fatalf("Failed to run migrations: %v", err)
			}
		}
		store = repository.NewRepository(db, logger, cfg.TxMaxRetries)
		feed = repository.NewFeed(cfg.DBConn, logger)
	}

	// Initialize layers
	cbrClient := cbr.NewCBRClient(cfg, logger)
	svc := service.NewService(store, cbrClient, logger, cfg)

	readModel := mirror.New(feed, svc.Snapshot, service.MirroredCollections(), cfg.MirrorResync, logger)
	if err := readModel.Start(ctx); err != nil {
		logger.Fatalf("Failed to start read-model: %v", err)
	}

	jobs, err := scheduler.New(svc, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create scheduler: %v", err)
	}
	jobs.Start()

	notifier := notify.NewNotifier(cfg, svc, logger)
	h := handler.NewHandler(svc, readModel, notifier, cbrClient, logger)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     h.Router(cfg, logger),
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	jobs.Stop(shutdownCtx)
	readModel.Stop()
	notifier.Wait()
	logger.Info("Server stopped")
}
