package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"music-stream/backend/internal/grpcserver"
	"music-stream/backend/internal/models"
	"music-stream/backend/pkg/config"
	"music-stream/backend/pkg/di"
	"music-stream/backend/pkg/logger"
	"music-stream/backend/pkg/router"
	"music-stream/backend/shared/observability"
)

func main() {
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "env", cfg.Server.Env, "version", os.Getenv("APP_VERSION"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(cfg.Observability.ServiceName, cfg.Observability.TracingEnabled)
	if err != nil {
		log.LogError(err, "Failed to initialize tracing")
		os.Exit(1)
	}
	meterProvider, err := observability.SetupMetrics(cfg.Observability.ServiceName, nil)
	if err != nil {
		log.LogError(err, "Failed to initialize metrics")
		os.Exit(1)
	}

	container, err := di.New(ctx, cfg, log, nil)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	defer container.Close()

	if err := container.DB.AutoMigrate(models.AllModels()...); err != nil {
		log.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}

	hubDone := make(chan struct{})
	go func() {
		container.Hub.Run(ctx)
		close(hubDone)
	}()
	container.Health.Start(ctx)

	r := router.New(container)
	r.SetupRoutes()
	defer r.Stop()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r.Engine,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	var grpcHealth *grpcserver.HealthServer
	if cfg.Server.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			log.LogError(err, "Failed to listen for gRPC health", "port", cfg.Server.GRPCPort)
		} else {
			grpcHealth = grpcserver.New(container.Health, 0, log)
			go func() {
				if err := grpcHealth.Serve(ctx, lis); err != nil {
					log.LogError(err, "gRPC health server stopped")
				}
			}()
		}
	}

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
		log.Warn("Realtime hub did not stop in time")
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.LogError(err, "Failed to flush traces")
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Failed to stop meter provider")
	}

	log.Info("Server exited gracefully")
}
