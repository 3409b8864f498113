package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prudhvinik1/wearsync/internal/config"
	"github.com/prudhvinik1/wearsync/internal/database"
	"github.com/prudhvinik1/wearsync/internal/handlers"
	"github.com/prudhvinik1/wearsync/internal/ingest"
	"github.com/prudhvinik1/wearsync/internal/logger"
	"github.com/prudhvinik1/wearsync/internal/mqttsub"
	"github.com/prudhvinik1/wearsync/internal/repositories"
	"github.com/prudhvinik1/wearsync/internal/services"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat, "wearsync")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zlog.Sync()

	// Initialize database connections
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, zlog)
	if err != nil {
		zlog.Fatal("Failed to create postgres pool", zap.Error(err))
	}
	defer postgresPool.Close()

	if err := database.EnsureSchema(ctx, postgresPool); err != nil {
		zlog.Fatal("Failed to prepare schema", zap.Error(err))
	}

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL, zlog)
	if err != nil {
		zlog.Fatal("Failed to create redis client", zap.Error(err))
	}
	defer redisClient.Close()

	ingestService := services.NewIngestService(
		repositories.NewPostgresDeviceRepository(postgresPool),
		repositories.NewPostgresTelemetryRepository(postgresPool),
		repositories.NewRedisAnnotationRepository(redisClient),
		repositories.NewRedisDeviceLocker(redisClient, cfg.DeviceLockTTL),
		repositories.NewRedisPresenceRepository(redisClient, cfg.PresenceTTL),
		ingest.NewCorrelator(cfg.MatchWindow, cfg.StaleAfter, cfg.DeviceTZ),
		zlog,
	)

	if cfg.MQTTEnabled() {
		subscriber := mqttsub.NewSubscriber(mqttsub.Config{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, ingestService, zlog)
		if err := subscriber.Start(); err != nil {
			zlog.Fatal("Failed to start MQTT subscriber", zap.Error(err))
		}
		defer subscriber.Stop()
	}

	// Start Server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           handlers.NewHandler(ingestService, zlog, cfg.ExportRowLimit).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		zlog.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	zlog.Info("Starting server", zap.String("port", cfg.ServerPort))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		zlog.Fatal("Server error", zap.Error(err))
	}

	zlog.Info("Server stopped gracefully")
}
