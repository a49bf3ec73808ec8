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

	"github.com/catalogsync/backend/config"
	httpDelivery "github.com/catalogsync/backend/internal/delivery/http"
	"github.com/catalogsync/backend/internal/infrastructure/history"
	"github.com/catalogsync/backend/internal/infrastructure/metrics"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	logger.WithFields(logrus.Fields{
		"environment": cfg.Server.Environment,
		"port":        cfg.Server.Port,
		"history":     cfg.History.Path,
	}).Info("starting catalogsync stats server v1.0.0")

	store, err := history.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		config.LogError(logger, "main", "main", "open run history", cfg.History.Path, err)
		os.Exit(1)
	}
	defer store.Close()

	recorder := metrics.NewPrometheusRecorder()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if latest, err := store.List(ctx, 1); err != nil {
		logger.WithError(err).Warn("could not load latest run for metrics")
	} else if len(latest) > 0 {
		recorder.SetLastRun(latest[0])
	}

	handler := httpDelivery.NewHandler(store, recorder, logger)
	router := httpDelivery.SetupRouter(cfg, handler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("graceful shutdown failed")
		}
	}()

	logger.WithField("addr", srv.Addr).Info("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		config.LogError(logger, "main", "main", "serve", srv.Addr, err)
		os.Exit(1)
	}
}
