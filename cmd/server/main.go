package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voting-oracle/internal/app"
	"voting-oracle/internal/config"
	"voting-oracle/internal/db"
	"voting-oracle/internal/handlers"
	"voting-oracle/internal/middleware"
	"voting-oracle/internal/router"

	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := config.LoadConfig(os.Getenv("CONFIG_PATH")); err != nil {
		logger.WithField("error", err).Fatal("failed to load configuration")
	}

	gdb, err := db.InitDB(config.AppConfig.Database.DSN)
	if err != nil {
		logger.WithField("error", err).Fatal("failed to initialize database")
	}

	container, err := app.InitializeContainer(gdb, logger)
	if err != nil {
		logger.WithField("error", err).Fatal("failed to initialize services")
	}
	container.Start()

	auth := middleware.NewAuthMiddleware(logger)
	verificationHandler := handlers.NewVerificationHandler(container.Ingestion, logger)
	statusHandler := handlers.NewStatusHandler(container.RequestRepo, container.StatsService, logger)
	wsHandler := handlers.NewWebSocketHandler(container.PushService, logger)

	engine := router.SetupRouter(verificationHandler, statusHandler, wsHandler, auth, logger)

	addr := fmt.Sprintf("%s:%d", config.AppConfig.Server.Host, config.AppConfig.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.WithField("addr", addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithField("error", err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	grace := config.AppConfig.Oracle.ShutdownGraceDuration()
	ctx, cancel := context.WithTimeout(context.Background(), grace+5*time.Second)
	defer cancel()

	// Intake stops first so in-flight requests can drain before the server
	// and clients go away.
	container.Shutdown(ctx)
	if err := server.Shutdown(ctx); err != nil {
		logger.WithField("error", err).Error("HTTP server shutdown failed")
	}
	logger.Info("shutdown complete")
}
